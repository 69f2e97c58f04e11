package domain

import (
	"context"
	"time"
)

// DedupStore is a time-bounded set of processed event ids.
type DedupStore interface {
	// Claim atomically records id as processed unless it is already recorded
	// and unexpired. It returns true when the caller won the claim.
	Claim(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error)
	// Seen reports whether id is recorded and unexpired.
	Seen(ctx context.Context, id string, now time.Time) (bool, error)
	// Purge drops expired ids and returns how many were removed.
	Purge(ctx context.Context, now time.Time) (int, error)
}

// SessionStore keeps the latest window opening per recipient.
type SessionStore interface {
	// OpenWindow stores w unless a later opening is already stored for the
	// same recipient.
	OpenWindow(ctx context.Context, w SessionWindow) error
	// Window returns the stored window or ErrNotFound.
	Window(ctx context.Context, recipientID string) (*SessionWindow, error)
}
