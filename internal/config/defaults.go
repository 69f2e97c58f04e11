package config

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   3000,
			WebhookPath:            "/webhook",
			MetricsPath:            "/metrics",
			MaxBodyBytes:           1 << 20,
			ShutdownTimeoutSeconds: 20,
		},
		WhatsApp: WhatsAppConfig{
			APIBase:               "https://graph.facebook.com",
			APIVersion:            "v21.0",
			RequestTimeoutSeconds: 15,
			Template: TemplateConfig{
				Name:     "daily_content_ready",
				Language: "en",
			},
		},
		Delivery: DeliveryConfig{
			MaxAttempts:   4,
			BackoffBaseMs: 1000,
			BackoffMaxMs:  8000,
			MinGapMs:      1000,
			RatePerSecond: 20,
			MaxConcurrent: 16,
			MaxTextLen:    4096,
			OutsideWindow: "template",
			FallbackText:  "Your JarvisDaily content for today is still being prepared. We'll share it here as soon as it's ready.",
		},
		Triggers: TriggerConfig{
			Buttons:  []string{"unlock_content", "view_content"},
			Keywords: []string{"unlock", "content", "today"},
		},
		Dedup: DedupConfig{
			TTLMinutes:           24 * 60,
			SweepIntervalSeconds: 300,
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "~/.jarvisdaily/jarvisdaily.db",
		},
		Content: ContentConfig{
			Source:             "sqlite",
			DefaultCountryCode: "91",
			PostgresMaxConns:   10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
