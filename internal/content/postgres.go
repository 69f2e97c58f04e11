package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jarvisdaily/internal/domain"
)

// PostgresStore reads advisors and content bundles from the Supabase
// Postgres database shared with the content generator. It never writes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool against dsn and pings it.
func ConnectPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready checks the tables the resolver reads from exist.
func (s *PostgresStore) Ready(ctx context.Context) error {
	var advisors, bundles bool
	err := s.pool.QueryRow(ctx, `
		SELECT to_regclass('advisors') IS NOT NULL,
		       to_regclass('content_bundles') IS NOT NULL`).Scan(&advisors, &bundles)
	if err != nil {
		return fmt.Errorf("check tables: %w", err)
	}
	switch {
	case !advisors:
		return errors.New("table advisors not found")
	case !bundles:
		return errors.New("table content_bundles not found")
	}
	return nil
}

// LookupAdvisor matches the canonical phone against advisors.phone with
// non-digits stripped, so rows stored as "+91 97650 71249" still match.
func (s *PostgresStore) LookupAdvisor(ctx context.Context, canonicalPhone string) (string, error) {
	national := canonicalPhone
	if len(national) > 10 {
		national = national[len(national)-10:]
	}

	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id::text FROM advisors
		WHERE regexp_replace(phone, '[^0-9]', '', 'g') IN ($1, $2)
		ORDER BY created_at DESC
		LIMIT 1`, canonicalPhone, national).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query advisor: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) LatestBundle(ctx context.Context, advisorID string) (*domain.ContentBundle, error) {
	var (
		b        domain.ContentBundle
		date     time.Time
		imageRef *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT advisor_id::text, session_date, text_message, image_ref, created_at
		FROM content_bundles
		WHERE advisor_id::text = $1
		ORDER BY session_date DESC, created_at DESC
		LIMIT 1`, advisorID).Scan(&b.AdvisorID, &date, &b.TextMessage, &imageRef, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query content bundle: %w", err)
	}
	b.SessionDate = date.Format("2006-01-02")
	if imageRef != nil {
		b.ImageRef = *imageRef
	}
	return &b, nil
}
