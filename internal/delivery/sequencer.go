// Package delivery sends a multi-message content delivery in order, one
// message at a time, retrying each message on its own.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"jarvisdaily/internal/domain"
	"jarvisdaily/internal/metrics"
	"jarvisdaily/internal/whatsapp"
)

// Policy decides what happens to free-form messages once the session window
// has closed.
type Policy string

const (
	PolicySkip     Policy = "skip"
	PolicyTemplate Policy = "template"
)

const (
	DefaultMaxAttempts = 4
	defaultBackoffBase = time.Second
	defaultBackoffMax  = 8 * time.Second
	notifyTimeout      = 10 * time.Second
)

// WindowChecker is satisfied by *session.Tracker.
type WindowChecker interface {
	IsOpen(ctx context.Context, recipientID string, at time.Time) bool
}

// Template names the pre-approved message used outside the window.
type Template struct {
	Name     string
	Language string
}

type SequencerConfig struct {
	Sender   domain.Sender
	Window   WindowChecker
	Recorder domain.AttemptRecorder // optional
	Notifier domain.Notifier        // optional

	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MinGap is the minimum spacing between messages of one sequence.
	MinGap time.Duration
	// Limiter paces sends across all sequences. Optional.
	Limiter *rate.Limiter

	OutsideWindow Policy
	Template      Template

	Logger *slog.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Sequencer runs delivery plans.
type Sequencer struct {
	cfg SequencerConfig
}

func NewSequencer(cfg SequencerConfig) *Sequencer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = max(defaultBackoffMax, cfg.BackoffBase)
	}
	if cfg.OutsideWindow == "" {
		cfg.OutsideWindow = PolicySkip
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Sequencer{cfg: cfg}
}

// Outcome is how a sequence ended.
type Outcome string

const (
	OutcomeComplete     Outcome = "complete"
	OutcomeWindowClosed Outcome = "window_closed"
	OutcomeAbandoned    Outcome = "abandoned"
)

// Result summarizes one Run.
type Result struct {
	Outcome  Outcome
	Sent     int
	Skipped  int
	Attempts []domain.DeliveryAttempt
	// TemplateMessageID is set when a template replaced the remaining
	// messages.
	TemplateMessageID string
	Err               error
}

// Run sends plan.Messages in order. A message that fails is retried on its
// own with exponential backoff; messages already sent are never resent.
// The session window is checked before every free-form message.
func (s *Sequencer) Run(ctx context.Context, plan Plan) Result {
	metrics.InflightDeliveries.Inc()
	defer metrics.InflightDeliveries.Dec()

	logger := s.cfg.Logger.With("event_id", plan.EventID, "recipient", plan.RecipientID)
	res := Result{Outcome: OutcomeComplete}

	// lastSent is when the previous message was accepted; MinGap counts
	// from there, after any retries of that message.
	var lastSent time.Time

	for i, msg := range plan.Messages {
		if wait := s.gapWait(lastSent); wait > 0 {
			if err := s.cfg.Sleep(ctx, wait); err != nil {
				att := domain.DeliveryAttempt{
					EventID:       plan.EventID,
					RecipientID:   plan.RecipientID,
					SequenceIndex: i,
					Status:        domain.AttemptFailed,
					LastError:     err.Error(),
				}
				s.record(ctx, &att)
				res.Attempts = append(res.Attempts, att)
				s.skipFrom(ctx, plan, i+1, &res)
				return s.abandon(ctx, logger, plan, att, err, res)
			}
		}

		if msg.FreeForm() && !s.cfg.Window.IsOpen(ctx, plan.RecipientID, s.cfg.Now()) {
			return s.windowClosed(ctx, logger, plan, i, res)
		}

		att, err := s.deliver(ctx, logger, plan, i, msg)
		res.Attempts = append(res.Attempts, att)
		if err == nil {
			res.Sent++
			lastSent = s.cfg.Now()
			continue
		}
		if errors.Is(err, whatsapp.ErrWindowClosed) {
			// Platform disagrees with the tracker; trust the platform.
			res.Attempts = res.Attempts[:len(res.Attempts)-1]
			return s.windowClosed(ctx, logger, plan, i, res)
		}
		s.skipFrom(ctx, plan, i+1, &res)
		return s.abandon(ctx, logger, plan, att, err, res)
	}

	metrics.DeliveriesDone.Inc()
	logger.Info("delivery complete", "messages", res.Sent)
	return res
}

// gapWait returns how long to hold the next message so it goes out at least
// MinGap after the previous one was accepted.
func (s *Sequencer) gapWait(lastSent time.Time) time.Duration {
	if s.cfg.MinGap <= 0 || lastSent.IsZero() {
		return 0
	}
	return s.cfg.MinGap - s.cfg.Now().Sub(lastSent)
}

// deliver sends one message, retrying transient failures up to MaxAttempts.
func (s *Sequencer) deliver(ctx context.Context, logger *slog.Logger, plan Plan, index int, msg domain.OutboundMessage) (domain.DeliveryAttempt, error) {
	att := domain.DeliveryAttempt{
		EventID:       plan.EventID,
		RecipientID:   plan.RecipientID,
		SequenceIndex: index,
		Status:        domain.AttemptPending,
	}
	s.record(ctx, &att)

	for {
		if s.cfg.Limiter != nil {
			if err := s.cfg.Limiter.Wait(ctx); err != nil {
				att.Status = domain.AttemptFailed
				att.LastError = err.Error()
				s.record(ctx, &att)
				return att, fmt.Errorf("wait for send slot: %w", err)
			}
		}

		att.AttemptCount++
		id, err := s.cfg.Sender.Send(ctx, msg)
		if err == nil {
			att.Status = domain.AttemptSent
			att.MessageID = id
			att.LastError = ""
			s.record(ctx, &att)
			metrics.MessagesSent.Inc()
			return att, nil
		}

		att.Status = domain.AttemptFailed
		att.LastError = err.Error()
		s.record(ctx, &att)

		if cerr := ctx.Err(); cerr != nil {
			return att, fmt.Errorf("%w (last error: %v)", cerr, err)
		}
		if !whatsapp.IsTransient(err) || att.AttemptCount >= s.cfg.MaxAttempts {
			return att, err
		}

		backoff := s.backoff(att.AttemptCount)
		logger.Warn("send failed, will retry",
			"index", index, "attempt", att.AttemptCount, "backoff", backoff, "err", err)
		metrics.SendRetries.Inc()
		if werr := s.cfg.Sleep(ctx, backoff); werr != nil {
			return att, fmt.Errorf("%w (last error: %v)", werr, err)
		}
	}
}

// backoff returns base * 2^(attempt-1), capped.
func (s *Sequencer) backoff(attempt int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	return min(d, s.cfg.BackoffMax)
}

// windowClosed applies the outside-window policy to messages from index on.
func (s *Sequencer) windowClosed(ctx context.Context, logger *slog.Logger, plan Plan, index int, res Result) Result {
	metrics.WindowSkips.Inc()
	res.Outcome = OutcomeWindowClosed

	if s.cfg.OutsideWindow != PolicyTemplate || s.cfg.Template.Name == "" {
		s.skipFrom(ctx, plan, index, &res)
		logger.Warn("session window closed, remaining messages skipped",
			"index", index, "skipped", len(plan.Messages)-index)
		return res
	}

	tpl := domain.OutboundMessage{
		To:               plan.RecipientID,
		Type:             domain.MessageTemplate,
		TemplateName:     s.cfg.Template.Name,
		TemplateLanguage: s.cfg.Template.Language,
	}
	att, err := s.deliver(ctx, logger, plan, index, tpl)
	res.Attempts = append(res.Attempts, att)
	s.skipFrom(ctx, plan, index+1, &res)
	if err != nil {
		return s.abandon(ctx, logger, plan, att, err, res)
	}

	res.Sent++
	res.TemplateMessageID = att.MessageID
	logger.Info("session window closed, template sent instead",
		"index", index, "template", s.cfg.Template.Name, "message_id", att.MessageID)
	return res
}

func (s *Sequencer) skipFrom(ctx context.Context, plan Plan, from int, res *Result) {
	for i := from; i < len(plan.Messages); i++ {
		att := domain.DeliveryAttempt{
			EventID:       plan.EventID,
			RecipientID:   plan.RecipientID,
			SequenceIndex: i,
			Status:        domain.AttemptSkipped,
		}
		s.record(ctx, &att)
		res.Attempts = append(res.Attempts, att)
		res.Skipped++
	}
}

func (s *Sequencer) abandon(ctx context.Context, logger *slog.Logger, plan Plan, att domain.DeliveryAttempt, err error, res Result) Result {
	metrics.DeliveriesFailed.Inc()
	res.Outcome = OutcomeAbandoned
	res.Err = err

	logger.Error("delivery abandoned",
		"index", att.SequenceIndex, "attempts", att.AttemptCount, "err", err)

	if s.cfg.Notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		alert := domain.Alert{
			Severity:      "error",
			Reason:        "delivery abandoned",
			EventID:       plan.EventID,
			RecipientID:   plan.RecipientID,
			SequenceIndex: att.SequenceIndex,
			Attempts:      att.AttemptCount,
			LastError:     err.Error(),
		}
		if nerr := s.cfg.Notifier.Notify(nctx, alert); nerr != nil {
			logger.Warn("operator notification failed", "err", nerr)
		}
	}
	return res
}

// record stamps and persists a. Recorder failures never affect delivery.
func (s *Sequencer) record(ctx context.Context, a *domain.DeliveryAttempt) {
	a.UpdatedAt = s.cfg.Now()
	if s.cfg.Recorder == nil {
		return
	}
	if err := s.cfg.Recorder.RecordAttempt(context.WithoutCancel(ctx), *a); err != nil {
		s.cfg.Logger.Warn("record delivery attempt failed",
			"event_id", a.EventID, "index", a.SequenceIndex, "err", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
