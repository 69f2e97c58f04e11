package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the JarvisDaily unlock service.
type Config struct {
	Server   ServerConfig   `json:"server"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Delivery DeliveryConfig `json:"delivery"`
	Triggers TriggerConfig  `json:"triggers"`
	Dedup    DedupConfig    `json:"dedup"`
	Storage  StorageConfig  `json:"storage"`
	Content  ContentConfig  `json:"content"`
	Notify   NotifyConfig   `json:"notify"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	WebhookPath            string `json:"webhookPath"`
	MetricsPath            string `json:"metricsPath"`
	MaxBodyBytes           int64  `json:"maxBodyBytes"`
	ShutdownTimeoutSeconds int    `json:"shutdownTimeoutSeconds"`
}

// WhatsAppConfig configures the Cloud API. Credentials are read from the
// environment only and never serialized.
type WhatsAppConfig struct {
	APIBase               string         `json:"apiBase"`
	APIVersion            string         `json:"apiVersion"`
	RequestTimeoutSeconds int            `json:"requestTimeoutSeconds"`
	Template              TemplateConfig `json:"template"`

	VerifyToken   string `json:"-"`
	AppSecret     string `json:"-"`
	AccessToken   string `json:"-"`
	PhoneNumberID string `json:"-"`
}

// TemplateConfig names the pre-approved template used outside the session window.
type TemplateConfig struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

type DeliveryConfig struct {
	MaxAttempts   int     `json:"maxAttempts"`
	BackoffBaseMs int     `json:"backoffBaseMs"`
	BackoffMaxMs  int     `json:"backoffMaxMs"`
	MinGapMs      int     `json:"minGapMs"`      // minimum delay between messages of one sequence
	RatePerSecond float64 `json:"ratePerSecond"` // process-wide send rate
	MaxConcurrent int     `json:"maxConcurrent"`
	MaxTextLen    int     `json:"maxTextLen"`
	OutsideWindow string  `json:"outsideWindow"` // "skip" | "template"
	FallbackText  string  `json:"fallbackText"`
}

// TriggerConfig decides which inbound events start a content delivery.
// Every inbound event opens the session window regardless.
type TriggerConfig struct {
	Buttons  []string `json:"buttons"`
	Keywords []string `json:"keywords"`
}

type DedupConfig struct {
	TTLMinutes           int `json:"ttlMinutes"`
	SweepIntervalSeconds int `json:"sweepIntervalSeconds"`
}

type StorageConfig struct {
	Driver     string `json:"driver"` // "memory" | "sqlite"
	SQLitePath string `json:"sqlitePath"`
}

type ContentConfig struct {
	Source             string `json:"source"` // "sqlite" | "postgres"
	DirectoryFile      string `json:"directoryFile"`
	DefaultCountryCode string `json:"defaultCountryCode"`
	PostgresMaxConns   int32  `json:"postgresMaxConns"`

	DatabaseURL string `json:"-"`
}

type NotifyConfig struct {
	Telegram TelegramNotifyConfig `json:"telegram"`
}

type TelegramNotifyConfig struct {
	Enabled bool  `json:"enabled"`
	ChatID  int64 `json:"chatId"`

	Token string `json:"-"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "text" | "json" | "pretty"
}

// DefaultConfigDir returns the default config directory (~/.jarvisdaily).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jarvisdaily"
	}
	return filepath.Join(home, ".jarvisdaily")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path, falling back to defaults when the file
// does not exist, then applies secrets from the environment.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	default:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.Storage.SQLitePath = ExpandPath(cfg.Storage.SQLitePath)
	cfg.Content.DirectoryFile = ExpandPath(cfg.Content.DirectoryFile)
	ApplyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		val, ok := os.LookupEnv(groups[1])
		if ok && val != "" {
			return val
		}
		if len(groups) >= 3 && groups[2] != "" {
			return groups[2]
		}
		return match
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if cfg.Server.MaxBodyBytes < 1024 {
		errs = append(errs, "server.maxBodyBytes must be >= 1024")
	}
	if cfg.WhatsApp.RequestTimeoutSeconds < 1 || cfg.WhatsApp.RequestTimeoutSeconds > 60 {
		errs = append(errs, "whatsapp.requestTimeoutSeconds must be between 1 and 60")
	}
	if cfg.Delivery.MaxAttempts < 1 || cfg.Delivery.MaxAttempts > 10 {
		errs = append(errs, "delivery.maxAttempts must be between 1 and 10")
	}
	if cfg.Delivery.BackoffBaseMs < 0 || cfg.Delivery.BackoffMaxMs < cfg.Delivery.BackoffBaseMs {
		errs = append(errs, "delivery.backoffMaxMs must be >= delivery.backoffBaseMs >= 0")
	}
	if cfg.Delivery.MinGapMs < 0 {
		errs = append(errs, "delivery.minGapMs must be >= 0")
	}
	if cfg.Delivery.RatePerSecond <= 0 {
		errs = append(errs, "delivery.ratePerSecond must be > 0")
	}
	if cfg.Delivery.MaxConcurrent < 1 || cfg.Delivery.MaxConcurrent > 1000 {
		errs = append(errs, "delivery.maxConcurrent must be between 1 and 1000")
	}
	if cfg.Delivery.MaxTextLen < 1 || cfg.Delivery.MaxTextLen > 4096 {
		errs = append(errs, "delivery.maxTextLen must be between 1 and 4096")
	}
	if strings.TrimSpace(cfg.Delivery.FallbackText) == "" {
		errs = append(errs, "delivery.fallbackText is required")
	}
	switch cfg.Delivery.OutsideWindow {
	case "skip":
	case "template":
		if cfg.WhatsApp.Template.Name == "" || cfg.WhatsApp.Template.Language == "" {
			errs = append(errs, "whatsapp.template.name and language are required when delivery.outsideWindow is template")
		}
	default:
		errs = append(errs, "delivery.outsideWindow must be one of: skip, template")
	}
	if cfg.Dedup.TTLMinutes < 60 {
		errs = append(errs, "dedup.ttlMinutes must be >= 60")
	}
	if cfg.Dedup.SweepIntervalSeconds < 1 {
		errs = append(errs, "dedup.sweepIntervalSeconds must be >= 1")
	}
	switch cfg.Storage.Driver {
	case "memory":
	case "sqlite":
		if cfg.Storage.SQLitePath == "" {
			errs = append(errs, "storage.sqlitePath is required for the sqlite driver")
		}
	default:
		errs = append(errs, "storage.driver must be one of: memory, sqlite")
	}
	switch cfg.Content.Source {
	case "postgres":
	case "sqlite":
		if cfg.Storage.Driver != "sqlite" {
			errs = append(errs, "content.source sqlite requires storage.driver sqlite")
		}
	default:
		errs = append(errs, "content.source must be one of: sqlite, postgres")
	}
	if cfg.Content.DefaultCountryCode == "" || strings.Trim(cfg.Content.DefaultCountryCode, "0123456789") != "" {
		errs = append(errs, "content.defaultCountryCode must be digits")
	}
	switch cfg.Logging.Format {
	case "text", "json", "pretty":
	default:
		errs = append(errs, "logging.format must be one of: text, json, pretty")
	}
	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.ChatID == 0 {
		errs = append(errs, "notify.telegram.chatId is required when telegram alerts are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForServe checks the credentials the webhook server cannot run without.
func ValidateForServe(cfg *Config) error {
	var missing []string
	if cfg.WhatsApp.VerifyToken == "" {
		missing = append(missing, EnvVerifyToken)
	}
	if cfg.WhatsApp.AppSecret == "" {
		missing = append(missing, EnvAppSecret)
	}
	if cfg.WhatsApp.AccessToken == "" {
		missing = append(missing, EnvAccessToken)
	}
	if cfg.WhatsApp.PhoneNumberID == "" {
		missing = append(missing, EnvPhoneNumberID)
	}
	if cfg.Content.Source == "postgres" && cfg.Content.DatabaseURL == "" {
		missing = append(missing, EnvDatabaseURL)
	}
	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.Token == "" {
		missing = append(missing, EnvTelegramToken)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
