// Package notify delivers operator alerts about deliveries that need
// attention. End users never see these.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"jarvisdaily/internal/domain"
)

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, a domain.Alert) error {
	level := slog.LevelWarn
	if a.Severity == "error" {
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, "operator alert",
		"reason", a.Reason,
		"event_id", a.EventID,
		"recipient", a.RecipientID,
		"index", a.SequenceIndex,
		"attempts", a.Attempts,
		"last_error", a.LastError,
	)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []domain.Notifier

func (m Multi) Notify(ctx context.Context, a domain.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
