package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// toTree returns the serializable part of cfg as nested maps. Credentials
// are tagged json:"-" and never appear in it.
func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// GetByPath returns the value at a dot path such as "delivery.maxAttempts".
// Numeric segments index into lists ("triggers.buttons.0").
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}

	var node any = tree
	for _, seg := range strings.Split(path, ".") {
		switch v := node.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, fmt.Errorf("unknown config path %q", path)
			}
			node = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("%s: index %q out of range", path, seg)
			}
			node = v[i]
		default:
			return nil, fmt.Errorf("%s: %q is not a section", path, seg)
		}
	}
	return node, nil
}

// SetByPath assigns raw to an existing setting, converting it to the type
// the setting already has. Lists take comma-separated values. Unknown paths
// are rejected so a typo cannot silently do nothing.
func SetByPath(cfg *Config, path, raw string) error {
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}

	segs := strings.Split(path, ".")
	section := tree
	for _, seg := range segs[:len(segs)-1] {
		next, ok := section[seg].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown config section %q in %q", seg, path)
		}
		section = next
	}

	key := segs[len(segs)-1]
	current, ok := section[key]
	if !ok {
		return fmt.Errorf("unknown config path %q", path)
	}
	value, err := coerce(current, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	section[key] = value

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// coerce converts raw to the JSON kind of current.
func coerce(current any, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", raw)
		}
		return b, nil
	case float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", raw)
		}
		return f, nil
	case []any, nil:
		if raw == "" {
			return []any{}, nil
		}
		var items []any
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	case map[string]any:
		return nil, fmt.Errorf("is a section; set one of its keys")
	default:
		return raw, nil
	}
}

// Sanitize returns the config tree plus an "env" section showing which
// credentials are present, masked.
func Sanitize(cfg *Config) map[string]any {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	tree["env"] = map[string]any{
		EnvVerifyToken:   maskString(cfg.WhatsApp.VerifyToken),
		EnvAppSecret:     maskString(cfg.WhatsApp.AppSecret),
		EnvAccessToken:   maskString(cfg.WhatsApp.AccessToken),
		EnvPhoneNumberID: maskString(cfg.WhatsApp.PhoneNumberID),
		EnvDatabaseURL:   maskString(cfg.Content.DatabaseURL),
		EnvTelegramToken: maskString(cfg.Notify.Telegram.Token),
	}
	return tree
}

// maskString keeps four characters at each end of long values.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "****" + s[len(s)-4:]
	}
}

// ListPaths flattens the config into settable dot paths.
func ListPaths(cfg *Config) map[string]any {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				walk(p, sub)
				continue
			}
			out[p] = v
		}
	}
	walk("", tree)
	return out
}

// SortedPaths returns the keys of ListPaths in order.
func SortedPaths(cfg *Config) []string {
	paths := ListPaths(cfg)
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
