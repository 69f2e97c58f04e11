package domain

import "time"

// EventKind classifies a normalized inbound webhook message.
type EventKind string

const (
	KindText        EventKind = "text"
	KindButtonClick EventKind = "button_click"
	KindUnsupported EventKind = "unsupported"
)

// InboundEvent is one user-initiated message extracted from a webhook delivery.
// EventID is the platform message id and is the dedup identity.
type InboundEvent struct {
	EventID    string
	SenderID   string
	Kind       EventKind
	ButtonID   string // set for KindButtonClick
	Text       string // set for KindText
	SentAt     time.Time
	ReceivedAt time.Time
}

// OpenedAt is the instant a session window should be opened from.
// The platform timestamp wins; receipt time covers payloads without one.
func (e InboundEvent) OpenedAt() time.Time {
	if e.SentAt.IsZero() {
		return e.ReceivedAt
	}
	return e.SentAt
}

// StatusUpdate is a delivery receipt for a message this service sent.
type StatusUpdate struct {
	MessageID   string
	RecipientID string
	Status      string // sent | delivered | read | failed
	Timestamp   time.Time
}

// SessionWindow is the 24-hour free-form messaging window of one recipient.
type SessionWindow struct {
	RecipientID string
	OpenedAt    time.Time
	ExpiresAt   time.Time
}

// WebhookBatch is everything normalized out of one webhook delivery.
type WebhookBatch struct {
	Events   []InboundEvent
	Statuses []StatusUpdate
}
