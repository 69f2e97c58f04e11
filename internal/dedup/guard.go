// Package dedup suppresses webhook redeliveries. The platform resends an
// event whenever it misses a timely 200, so every event id is claimed once
// and remembered for at least the platform's redelivery window.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jarvisdaily/internal/domain"
)

// DefaultTTL covers the Cloud API redelivery window with margin.
const DefaultTTL = 24 * time.Hour

var errEmptyID = errors.New("dedup: empty event id")

type GuardConfig struct {
	Store  domain.DedupStore
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// Guard decides whether an inbound event id is new.
type Guard struct {
	store  domain.DedupStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Guard{store: cfg.Store, ttl: cfg.TTL, logger: cfg.Logger, now: cfg.Now}
}

// Claim marks eventID processed and reports whether this caller is the first
// to do so. Two concurrent claims of one id never both return true.
func (g *Guard) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEmptyID
	}
	ok, err := g.store.Claim(ctx, eventID, g.now(), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

// ShouldProcess reports whether eventID has not been seen. It does not mark
// it; pair with MarkProcessed, or use Claim where atomicity matters.
func (g *Guard) ShouldProcess(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEmptyID
	}
	seen, err := g.store.Seen(ctx, eventID, g.now())
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", eventID, err)
	}
	return !seen, nil
}

func (g *Guard) MarkProcessed(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errEmptyID
	}
	if _, err := g.store.Claim(ctx, eventID, g.now(), g.ttl); err != nil {
		return fmt.Errorf("mark event %s: %w", eventID, err)
	}
	return nil
}

// RunSweeper purges expired ids every interval until ctx is cancelled.
func (g *Guard) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.store.Purge(ctx, g.now())
			if err != nil {
				g.logger.Warn("dedup purge failed", "err", err)
				continue
			}
			if n > 0 {
				g.logger.Debug("dedup purged expired ids", "count", n)
			}
		}
	}
}
