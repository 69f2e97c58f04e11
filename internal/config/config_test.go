package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxAttempts_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.Delivery.MaxAttempts = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxAttempts=0")
	}

	cfg.Delivery.MaxAttempts = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxAttempts=1 should be valid: %v", err)
	}

	cfg.Delivery.MaxAttempts = 11
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxAttempts=11")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port 0")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_BackoffOrder(t *testing.T) {
	cfg := Defaults()
	cfg.Delivery.BackoffBaseMs = 5000
	cfg.Delivery.BackoffMaxMs = 1000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when backoff max < base")
	}
}

func TestValidate_OutsideWindowPolicy(t *testing.T) {
	for _, policy := range []string{"skip", "template"} {
		cfg := Defaults()
		cfg.Delivery.OutsideWindow = policy
		if err := Validate(cfg); err != nil {
			t.Fatalf("policy %q should be valid: %v", policy, err)
		}
	}

	cfg := Defaults()
	cfg.Delivery.OutsideWindow = "freeform"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestValidate_TemplatePolicyNeedsTemplate(t *testing.T) {
	cfg := Defaults()
	cfg.Delivery.OutsideWindow = "template"
	cfg.WhatsApp.Template.Name = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for template policy without template name")
	}
}

func TestValidate_DedupTTLTooShort(t *testing.T) {
	cfg := Defaults()
	cfg.Dedup.TTLMinutes = 5
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for dedup ttl below one hour")
	}
}

func TestValidate_SQLiteContentNeedsSQLiteStorage(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Driver = "memory"
	cfg.Content.Source = "sqlite"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for sqlite content on memory storage")
	}

	cfg.Content.Source = "postgres"
	if err := Validate(cfg); err != nil {
		t.Fatalf("memory storage with postgres content should be valid: %v", err)
	}
}

func TestValidate_CountryCodeDigits(t *testing.T) {
	cfg := Defaults()
	cfg.Content.DefaultCountryCode = "+91"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for non-digit country code")
	}
}

func TestValidateForServe_MissingSecrets(t *testing.T) {
	cfg := Defaults()
	err := ValidateForServe(cfg)
	if err == nil {
		t.Fatal("expected error when credentials are missing")
	}
	for _, name := range []string{EnvVerifyToken, EnvAppSecret, EnvAccessToken, EnvPhoneNumberID} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error should mention %s: %v", name, err)
		}
	}
}

func TestValidateForServe_AllPresent(t *testing.T) {
	cfg := Defaults()
	cfg.WhatsApp.VerifyToken = "verify"
	cfg.WhatsApp.AppSecret = "secret"
	cfg.WhatsApp.AccessToken = "token"
	cfg.WhatsApp.PhoneNumberID = "12345"
	if err := ValidateForServe(cfg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	cfg.Content.Source = "postgres"
	if err := ValidateForServe(cfg); err == nil {
		t.Fatal("expected error for postgres source without DATABASE_URL")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Server.Port = 4100
	original.Storage.SQLitePath = filepath.Join(dir, "jd.db")

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.Port != 4100 {
		t.Fatalf("expected port 4100, got %d", loaded.Server.Port)
	}
}

func TestSave_NeverWritesSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Defaults()
	cfg.WhatsApp.AccessToken = "EAAG-super-secret-token"
	cfg.WhatsApp.AppSecret = "app-secret-value"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "super-secret") || strings.Contains(string(data), "app-secret-value") {
		t.Fatal("credentials must not be written to the config file")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("expected defaults for missing file, got %v", err)
	}
	if cfg.Server.WebhookPath != "/webhook" {
		t.Fatalf("expected default webhook path, got %q", cfg.Server.WebhookPath)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_AppliesEnvCredentials(t *testing.T) {
	t.Setenv(EnvVerifyToken, "verify-me")
	t.Setenv(EnvAppSecret, "shh")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WhatsApp.VerifyToken != "verify-me" || cfg.WhatsApp.AppSecret != "shh" {
		t.Fatal("expected credentials from environment")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected log level override, got %q", cfg.Logging.Level)
	}
}

func TestLoad_ExpandsEnvVarsInFile(t *testing.T) {
	t.Setenv("JD_TEST_TEMPLATE", "content_unlock")
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"whatsapp":{"template":{"name":"${JD_TEST_TEMPLATE}","language":"${JD_TEST_LANG:-en_US}"}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WhatsApp.Template.Name != "content_unlock" {
		t.Fatalf("expected expanded template name, got %q", cfg.WhatsApp.Template.Name)
	}
	if cfg.WhatsApp.Template.Language != "en_US" {
		t.Fatalf("expected default language, got %q", cfg.WhatsApp.Template.Language)
	}
}

func TestExpandEnvVars_KeepsUnknown(t *testing.T) {
	got := ExpandEnvVars("${JD_TEST_SURELY_UNSET}")
	if got != "${JD_TEST_SURELY_UNSET}" {
		t.Fatalf("expected placeholder preserved, got %q", got)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "delivery.outsideWindow")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "template" {
		t.Fatalf("expected 'template', got %v", val)
	}

	val, err = GetByPath(cfg, "triggers.buttons.0")
	if err != nil {
		t.Fatalf("get array element: %v", err)
	}
	if val != "unlock_content" {
		t.Fatalf("expected 'unlock_content', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	if _, err := GetByPath(Defaults(), "nonexistent.path"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_Conversions(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "delivery.maxAttempts", "3"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Delivery.MaxAttempts != 3 {
		t.Fatalf("expected 3, got %d", cfg.Delivery.MaxAttempts)
	}

	if err := SetByPath(cfg, "notify.telegram.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Notify.Telegram.Enabled {
		t.Fatal("expected notify.telegram.enabled=true")
	}
}

func TestSetByPath_ListFromCommaSeparated(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "triggers.keywords", "unlock, send ,today"); err != nil {
		t.Fatal(err)
	}
	want := []string{"unlock", "send", "today"}
	if strings.Join(cfg.Triggers.Keywords, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, cfg.Triggers.Keywords)
	}

	if err := SetByPath(cfg, "triggers.buttons", ""); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Triggers.Buttons) != 0 {
		t.Fatalf("expected empty button list, got %v", cfg.Triggers.Buttons)
	}
}

func TestSetByPath_KeepsStringType(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "content.defaultCountryCode", "44"); err != nil {
		t.Fatal(err)
	}
	if cfg.Content.DefaultCountryCode != "44" {
		t.Fatalf("expected string 44, got %q", cfg.Content.DefaultCountryCode)
	}
}

func TestSetByPath_Rejects(t *testing.T) {
	cases := map[string][2]string{
		"unknown key":     {"delivery.maxAttemps", "3"},
		"unknown section": {"nope.port", "1"},
		"bad bool":        {"notify.telegram.enabled", "maybe"},
		"bad number":      {"server.port", "eighty"},
		"section":         {"server", "x"},
		"credential":      {"whatsapp.accessToken", "x"},
	}
	for name, c := range cases {
		if err := SetByPath(Defaults(), c[0], c[1]); err == nil {
			t.Errorf("%s: expected error for %s=%s", name, c[0], c[1])
		}
	}
}

func TestSetByPath_PreservesCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.WhatsApp.AccessToken = "token"
	if err := SetByPath(cfg, "server.port", "8081"); err != nil {
		t.Fatal(err)
	}
	if cfg.WhatsApp.AccessToken != "token" {
		t.Fatal("credentials should survive SetByPath")
	}
}

func TestSanitize_MasksCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.WhatsApp.AccessToken = "EAAGabcdefghijklmnop"
	cfg.WhatsApp.AppSecret = "short"

	m := Sanitize(cfg)
	data, _ := json.Marshal(m)
	if strings.Contains(string(data), "EAAGabcdefghijklmnop") {
		t.Fatal("access token should be masked")
	}
	env := m["env"].(map[string]any)
	if env[EnvAccessToken] != "EAAG****mnop" {
		t.Fatalf("unexpected mask: %v", env[EnvAccessToken])
	}
	if env[EnvAppSecret] != "***" {
		t.Fatalf("short secrets should be fully masked, got %v", env[EnvAppSecret])
	}
	if env[EnvDatabaseURL] != "" {
		t.Fatalf("unset values should stay empty, got %v", env[EnvDatabaseURL])
	}
}

func TestListPaths_Flattens(t *testing.T) {
	paths := ListPaths(Defaults())
	if _, ok := paths["server.webhookPath"]; !ok {
		t.Fatal("expected server.webhookPath in flattened paths")
	}
	if _, ok := paths["content.directoryFile"]; !ok {
		t.Fatal("empty settings should still be listed")
	}

	sorted := SortedPaths(Defaults())
	if len(sorted) != len(paths) {
		t.Fatalf("expected %d sorted paths, got %d", len(paths), len(sorted))
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1] > sorted[i] {
			t.Fatalf("paths not sorted at %d: %q > %q", i, sorted[i-1], sorted[i])
		}
	}
}
