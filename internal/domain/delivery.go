package domain

import (
	"context"
	"time"
)

// MessageType is the outbound WhatsApp message type.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageTemplate MessageType = "template"
)

// OutboundMessage is one message in a delivery sequence.
type OutboundMessage struct {
	To       string
	Type     MessageType
	Text     string // body for text, caption for image
	ImageRef string // link (http/https) or media id

	TemplateName     string
	TemplateLanguage string
}

// FreeForm reports whether the platform only accepts this message inside an
// open session window.
func (m OutboundMessage) FreeForm() bool {
	return m.Type != MessageTemplate
}

// Sender delivers a single message to the messaging platform and returns the
// platform message id.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (string, error)
}

// AttemptStatus is the state of one DeliveryAttempt.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSent    AttemptStatus = "sent"
	AttemptFailed  AttemptStatus = "failed"
	AttemptSkipped AttemptStatus = "skipped"
)

// DeliveryAttempt tracks one outbound message within a multi-message delivery.
type DeliveryAttempt struct {
	EventID       string
	RecipientID   string
	SequenceIndex int
	Status        AttemptStatus
	AttemptCount  int
	MessageID     string
	LastError     string
	UpdatedAt     time.Time
}

// AttemptRecorder persists attempt state for operator visibility.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a DeliveryAttempt) error
}

// Alert is an operator-facing notification about a delivery that needs attention.
type Alert struct {
	Severity      string // warn | error
	Reason        string
	EventID       string
	RecipientID   string
	SequenceIndex int
	Attempts      int
	LastError     string
}

// Notifier surfaces alerts on an operator-visible channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}
