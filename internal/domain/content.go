package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a recipient or content bundle does not exist.
var ErrNotFound = errors.New("not found")

// ContentBundle is the generated content ready for one advisor and session day.
type ContentBundle struct {
	AdvisorID   string    `json:"advisor_id"`
	SessionDate string    `json:"session_date"` // YYYY-MM-DD
	TextMessage string    `json:"text_message"`
	ImageRef    string    `json:"image_ref,omitempty"` // public URL or uploaded media id
	CreatedAt   time.Time `json:"created_at"`
}

// ContentStore reads the latest bundle produced for an advisor.
type ContentStore interface {
	LatestBundle(ctx context.Context, advisorID string) (*ContentBundle, error)
}

// RecipientDirectory maps a canonical phone number to an advisor id.
type RecipientDirectory interface {
	LookupAdvisor(ctx context.Context, canonicalPhone string) (string, error)
}
