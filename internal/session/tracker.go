// Package session tracks the 24-hour customer service window during which
// free-form messages may be sent to a recipient.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jarvisdaily/internal/domain"
)

// WindowDuration is fixed by the platform.
const WindowDuration = 24 * time.Hour

type TrackerConfig struct {
	Store domain.SessionStore
	// Canonical maps a recipient id to its stored form. Ids that fail to
	// canonicalize are used as given.
	Canonical func(string) (string, error)
	Logger    *slog.Logger
}

// Tracker answers whether a recipient's session window is open.
type Tracker struct {
	store     domain.SessionStore
	canonical func(string) (string, error)
	logger    *slog.Logger
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	return &Tracker{store: cfg.Store, canonical: cfg.Canonical, logger: cfg.Logger}
}

// Open starts or moves the recipient's window to begin at at. A window that
// already began later is left alone.
func (t *Tracker) Open(ctx context.Context, recipientID string, at time.Time) error {
	id := t.key(recipientID)
	err := t.store.OpenWindow(ctx, domain.SessionWindow{
		RecipientID: id,
		OpenedAt:    at,
		ExpiresAt:   at.Add(WindowDuration),
	})
	if err != nil {
		return fmt.Errorf("open window for %s: %w", id, err)
	}
	return nil
}

// IsOpen reports whether a free-form message may be sent at at. Lookup
// failures count as closed.
func (t *Tracker) IsOpen(ctx context.Context, recipientID string, at time.Time) bool {
	_, ok := t.Remaining(ctx, recipientID, at)
	return ok
}

// Remaining returns the time left in the window at at, and false when no
// window is open.
func (t *Tracker) Remaining(ctx context.Context, recipientID string, at time.Time) (time.Duration, bool) {
	id := t.key(recipientID)
	w, err := t.store.Window(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			t.logger.Warn("session window lookup failed", "recipient", id, "err", err)
		}
		return 0, false
	}
	if !at.Before(w.ExpiresAt) {
		return 0, false
	}
	return w.ExpiresAt.Sub(at), true
}

func (t *Tracker) key(recipientID string) string {
	if t.canonical == nil {
		return recipientID
	}
	id, err := t.canonical(recipientID)
	if err != nil {
		return recipientID
	}
	return id
}
