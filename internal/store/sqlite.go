// Package store persists dedup claims, session windows, delivery attempts
// and locally seeded content in a single SQLite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"jarvisdaily/internal/domain"
)

// SQLiteStore implements domain.DedupStore, domain.SessionStore,
// domain.AttemptRecorder and domain.ContentStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ domain.DedupStore      = (*SQLiteStore)(nil)
	_ domain.SessionStore    = (*SQLiteStore)(nil)
	_ domain.AttemptRecorder = (*SQLiteStore)(nil)
	_ domain.ContentStore    = (*SQLiteStore)(nil)
)

func Open(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// One connection serializes writers; claims rely on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	return SchemaVersion(s.db)
}

// --- dedup ---

// Claim drops an expired row for id and inserts a fresh one in a single
// transaction. The insert affecting a row means the caller won.
func (s *SQLiteStore) Claim(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM processed_events WHERE event_id = ? AND expires_ns <= ?`,
		id, now.UnixNano(),
	); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_events (event_id, claimed_ns, expires_ns) VALUES (?, ?, ?)`,
		id, now.UnixNano(), now.Add(ttl).UnixNano(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) Seen(ctx context.Context, id string, now time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_events WHERE event_id = ? AND expires_ns > ?`,
		id, now.UnixNano(),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE expires_ns <= ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- session windows ---

func (s *SQLiteStore) OpenWindow(ctx context.Context, w domain.SessionWindow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_windows (recipient_id, opened_ns, expires_ns) VALUES (?, ?, ?)
		 ON CONFLICT(recipient_id) DO UPDATE SET
			opened_ns = excluded.opened_ns,
			expires_ns = excluded.expires_ns
		 WHERE excluded.opened_ns > session_windows.opened_ns`,
		w.RecipientID, w.OpenedAt.UnixNano(), w.ExpiresAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) Window(ctx context.Context, recipientID string) (*domain.SessionWindow, error) {
	var opened, expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT opened_ns, expires_ns FROM session_windows WHERE recipient_id = ?`, recipientID,
	).Scan(&opened, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.SessionWindow{
		RecipientID: recipientID,
		OpenedAt:    time.Unix(0, opened).UTC(),
		ExpiresAt:   time.Unix(0, expires).UTC(),
	}, nil
}

// --- delivery attempts ---

// RecordAttempt upserts the attempt keyed by event and sequence index.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_attempts
			(event_id, sequence_index, recipient_id, status, attempt_count, message_id, last_error, updated_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id, sequence_index) DO UPDATE SET
			recipient_id = excluded.recipient_id,
			status = excluded.status,
			attempt_count = excluded.attempt_count,
			message_id = excluded.message_id,
			last_error = excluded.last_error,
			updated_ns = excluded.updated_ns`,
		a.EventID, a.SequenceIndex, a.RecipientID, string(a.Status), a.AttemptCount,
		a.MessageID, a.LastError, a.UpdatedAt.UnixNano(),
	)
	return err
}

// Attempts returns the attempts of one delivery ordered by sequence index.
func (s *SQLiteStore) Attempts(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, sequence_index, recipient_id, status, attempt_count, message_id, last_error, updated_ns
		 FROM delivery_attempts WHERE event_id = ? ORDER BY sequence_index`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// RecentFailures lists the latest failed or skipped attempts.
func (s *SQLiteStore) RecentFailures(ctx context.Context, limit int) ([]domain.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, sequence_index, recipient_id, status, attempt_count, message_id, last_error, updated_ns
		 FROM delivery_attempts WHERE status IN (?, ?)
		 ORDER BY updated_ns DESC LIMIT ?`,
		string(domain.AttemptFailed), string(domain.AttemptSkipped), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]domain.DeliveryAttempt, error) {
	var out []domain.DeliveryAttempt
	for rows.Next() {
		var (
			a       domain.DeliveryAttempt
			status  string
			updated int64
		)
		if err := rows.Scan(&a.EventID, &a.SequenceIndex, &a.RecipientID, &status,
			&a.AttemptCount, &a.MessageID, &a.LastError, &updated); err != nil {
			return nil, err
		}
		a.Status = domain.AttemptStatus(status)
		a.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- content ---

func (s *SQLiteStore) LatestBundle(ctx context.Context, advisorID string) (*domain.ContentBundle, error) {
	var (
		b       domain.ContentBundle
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT advisor_id, session_date, text_message, image_ref, created_ns
		 FROM content_bundles WHERE advisor_id = ?
		 ORDER BY session_date DESC, created_ns DESC, id DESC LIMIT 1`, advisorID,
	).Scan(&b.AdvisorID, &b.SessionDate, &b.TextMessage, &b.ImageRef, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.CreatedAt = time.Unix(0, created).UTC()
	return &b, nil
}

// PutBundle stores a bundle for operator seeding and tests. The serving
// path never writes content.
func (s *SQLiteStore) PutBundle(ctx context.Context, b domain.ContentBundle) error {
	if b.AdvisorID == "" || b.SessionDate == "" {
		return errors.New("advisor id and session date are required")
	}
	if _, err := time.Parse("2006-01-02", b.SessionDate); err != nil {
		return fmt.Errorf("session date %q: %w", b.SessionDate, err)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_bundles (advisor_id, session_date, text_message, image_ref, created_ns)
		 VALUES (?, ?, ?, ?, ?)`,
		b.AdvisorID, b.SessionDate, b.TextMessage, b.ImageRef, b.CreatedAt.UnixNano(),
	)
	return err
}
