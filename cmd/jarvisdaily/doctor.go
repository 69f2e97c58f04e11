package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"jarvisdaily/internal/config"
	"jarvisdaily/internal/content"
	"jarvisdaily/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your JarvisDaily installation",
		Long: `Verifies that configuration, credentials, storage and the content database
are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("JarvisDaily Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Credentials
			if err := config.ValidateForServe(cfg); err != nil {
				printFail("Credentials", err.Error())
				failed++
			} else {
				printPass("Credentials", "all required variables set")
				passed++
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			// 4. Local store
			if cfg.Storage.Driver == "sqlite" {
				if detail, err := checkSQLite(ctx, cfg.Storage.SQLitePath); err != nil {
					printFail("SQLite store", err.Error())
					failed++
				} else {
					printPass("SQLite store", detail)
					passed++
				}
			} else {
				printWarn("Storage", "memory driver: dedup and windows do not survive restarts")
				warned++
			}

			// 5. Content database
			if cfg.Content.Source == "postgres" {
				if cfg.Content.DatabaseURL == "" {
					printFail("Content database", config.EnvDatabaseURL+" not set")
					failed++
				} else if err := checkPostgres(ctx, cfg); err != nil {
					printFail("Content database", err.Error())
					failed++
				} else {
					printPass("Content database", "postgres reachable, tables present")
					passed++
				}
			}

			// 6. Recipient directory
			if cfg.Content.DirectoryFile != "" {
				dir, err := content.LoadDirectory(cfg.Content.DirectoryFile, cfg.Content.DefaultCountryCode, logger)
				if err != nil {
					printFail("Recipient directory", err.Error())
					failed++
				} else {
					printPass("Recipient directory", fmt.Sprintf("%d phones", dir.Len()))
					passed++
				}
			}

			// 7. Port
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Webhook port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 8. Telegram alerts
			if cfg.Notify.Telegram.Enabled {
				if cfg.Notify.Telegram.Token == "" {
					printFail("Telegram alerts", config.EnvTelegramToken+" not set")
					failed++
				} else {
					printPass("Telegram alerts", "chat "+strconv.FormatInt(cfg.Notify.Telegram.ChatID, 10))
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running 'jarvisdaily serve'.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nJarvisDaily should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! JarvisDaily is ready to run.\n")
			}
			return nil
		},
	}
}

func checkSQLite(ctx context.Context, path string) (string, error) {
	s, err := store.Open(path, logger)
	if err != nil {
		return "", err
	}
	defer s.Close()

	if err := s.Ping(ctx); err != nil {
		return "", fmt.Errorf("cannot ping: %w", err)
	}
	v, err := s.SchemaVersion()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (schema v%d)", path, v), nil
}

func checkPostgres(ctx context.Context, cfg *config.Config) error {
	pg, err := content.ConnectPostgres(ctx, cfg.Content.DatabaseURL, 1)
	if err != nil {
		return err
	}
	defer pg.Close()
	return pg.Ready(ctx)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(name, detail string) {
	fmt.Printf("  ✓ %-22s %s\n", name, detail)
}

func printFail(name, detail string) {
	fmt.Printf("  ✗ %-22s %s\n", name, detail)
}

func printWarn(name, detail string) {
	fmt.Printf("  ! %-22s %s\n", name, detail)
}
