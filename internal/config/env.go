package config

import "os"

// Environment variables holding credentials. They have no literal fallbacks.
const (
	EnvVerifyToken   = "WHATSAPP_VERIFY_TOKEN"
	EnvAppSecret     = "WHATSAPP_APP_SECRET"
	EnvAccessToken   = "WHATSAPP_ACCESS_TOKEN"
	EnvPhoneNumberID = "WHATSAPP_PHONE_NUMBER_ID"
	EnvDatabaseURL   = "DATABASE_URL"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvLogLevel      = "JARVIS_LOG_LEVEL"
)

// ApplyEnv copies credentials and overrides from the environment into cfg.
func ApplyEnv(cfg *Config) {
	cfg.WhatsApp.VerifyToken = os.Getenv(EnvVerifyToken)
	cfg.WhatsApp.AppSecret = os.Getenv(EnvAppSecret)
	cfg.WhatsApp.AccessToken = os.Getenv(EnvAccessToken)
	cfg.WhatsApp.PhoneNumberID = os.Getenv(EnvPhoneNumberID)
	cfg.Content.DatabaseURL = os.Getenv(EnvDatabaseURL)
	cfg.Notify.Telegram.Token = os.Getenv(EnvTelegramToken)
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
}
