package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Times are stored as unix nanoseconds so comparisons stay numeric.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: processed_events, session_windows, delivery_attempts",
		SQL: `
		CREATE TABLE IF NOT EXISTS processed_events (
			event_id    TEXT PRIMARY KEY,
			claimed_ns  INTEGER NOT NULL,
			expires_ns  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_processed_expires ON processed_events(expires_ns);

		CREATE TABLE IF NOT EXISTS session_windows (
			recipient_id TEXT PRIMARY KEY,
			opened_ns    INTEGER NOT NULL,
			expires_ns   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS delivery_attempts (
			event_id       TEXT NOT NULL,
			sequence_index INTEGER NOT NULL,
			recipient_id   TEXT NOT NULL,
			status         TEXT NOT NULL,
			attempt_count  INTEGER NOT NULL DEFAULT 0,
			message_id     TEXT NOT NULL DEFAULT '',
			last_error     TEXT NOT NULL DEFAULT '',
			updated_ns     INTEGER NOT NULL,
			PRIMARY KEY (event_id, sequence_index)
		);
		CREATE INDEX IF NOT EXISTS idx_attempts_recipient ON delivery_attempts(recipient_id, updated_ns);
		`,
	},
	{
		Version:     2,
		Description: "v2: local content_bundles",
		SQL: `
		CREATE TABLE IF NOT EXISTS content_bundles (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			advisor_id   TEXT NOT NULL,
			session_date TEXT NOT NULL,
			text_message TEXT NOT NULL DEFAULT '',
			image_ref    TEXT NOT NULL DEFAULT '',
			created_ns   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_bundles_advisor ON content_bundles(advisor_id, session_date, created_ns);
		`,
	},
}

// RunMigrations applies pending migrations, each in its own transaction.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh file.
func SchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query schema tables: %w", err)
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
