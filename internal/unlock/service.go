// Package unlock turns verified webhook batches into content deliveries.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jarvisdaily/internal/dedup"
	"jarvisdaily/internal/delivery"
	"jarvisdaily/internal/domain"
	"jarvisdaily/internal/metrics"
	"jarvisdaily/internal/session"
)

const (
	defaultMaxConcurrent = 16
	templateMemory       = 48 * time.Hour
	drainGrace           = 5 * time.Second
)

// ContentResolver is satisfied by *content.Resolver.
type ContentResolver interface {
	Resolve(ctx context.Context, recipientID string) (*domain.ContentBundle, error)
}

// Runner is satisfied by *delivery.Sequencer.
type Runner interface {
	Run(ctx context.Context, plan delivery.Plan) delivery.Result
}

type ServiceConfig struct {
	Guard       *dedup.Guard
	Tracker     *session.Tracker
	Resolver    ContentResolver
	Runner      Runner
	Notifier    domain.Notifier // optional
	Triggers    Triggers
	Fallback    string
	MaxText     int
	MaxInflight int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service accepts batches synchronously and delivers content in the
// background.
type Service struct {
	cfg ServiceConfig
	sem chan struct{}

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	templates map[string]sentTemplate
}

type sentTemplate struct {
	recipient string
	expires   time.Time
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = defaultMaxConcurrent
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxInflight),
		base:      base,
		cancel:    cancel,
		templates: make(map[string]sentTemplate),
	}
}

// Summary counts what Process did with one batch.
type Summary struct {
	Events     int
	Duplicates int
	Scheduled  int
	Ignored    int
	Failed     int
	Statuses   int
	Reopened   int
}

// Accept implements webhook.Processor.
func (s *Service) Accept(ctx context.Context, batch domain.WebhookBatch) {
	sum := s.Process(ctx, batch)
	s.cfg.Logger.Debug("webhook batch processed",
		"events", sum.Events, "duplicates", sum.Duplicates, "scheduled", sum.Scheduled,
		"ignored", sum.Ignored, "failed", sum.Failed, "statuses", sum.Statuses)
}

// Process claims, records and schedules every event in batch. It returns
// once deliveries are scheduled; sending happens in the background.
func (s *Service) Process(ctx context.Context, batch domain.WebhookBatch) Summary {
	var sum Summary
	for _, ev := range batch.Events {
		sum.Events++
		logger := s.cfg.Logger.With("event_id", ev.EventID, "recipient", ev.SenderID)

		won, err := s.cfg.Guard.Claim(ctx, ev.EventID)
		if err != nil {
			// Without a claim the event might be a redelivery; skip it.
			sum.Failed++
			logger.Error("dedup claim failed, event dropped", "err", err)
			continue
		}
		if !won {
			sum.Duplicates++
			metrics.DuplicateEvents.Inc()
			logger.Debug("duplicate event suppressed")
			continue
		}

		switch ev.Kind {
		case domain.KindButtonClick:
			metrics.ButtonEvents.Inc()
		case domain.KindText:
			metrics.TextEvents.Inc()
		}

		if err := s.cfg.Tracker.Open(ctx, ev.SenderID, ev.OpenedAt()); err != nil {
			logger.Warn("session window not recorded", "err", err)
		}

		if !s.cfg.Triggers.Match(ev) {
			sum.Ignored++
			logger.Debug("event does not request content", "kind", ev.Kind)
			continue
		}

		if !s.schedule(ev) {
			sum.Failed++
			continue
		}
		sum.Scheduled++
		logger.Info("delivery scheduled", "kind", ev.Kind)
	}

	for _, st := range batch.Statuses {
		sum.Statuses++
		metrics.StatusUpdates.Inc()
		if s.applyStatus(ctx, st) {
			sum.Reopened++
		}
	}
	return sum
}

// schedule starts a background delivery for ev. It reports false once the
// service is shutting down.
func (s *Service) schedule(ev domain.InboundEvent) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.cfg.Logger.Warn("service shutting down, delivery not scheduled", "event_id", ev.EventID)
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				s.cfg.Logger.Error("delivery panicked", "event_id", ev.EventID, "panic", fmt.Sprint(rec))
			}
		}()

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-s.base.Done():
			s.cfg.Logger.Warn("delivery abandoned before start", "event_id", ev.EventID, "recipient", ev.SenderID)
			return
		}
		s.deliver(s.base, ev)
	}()
	return true
}

func (s *Service) deliver(ctx context.Context, ev domain.InboundEvent) {
	logger := s.cfg.Logger.With("event_id", ev.EventID, "recipient", ev.SenderID)

	var plan delivery.Plan
	bundle, err := s.cfg.Resolver.Resolve(ctx, ev.SenderID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Info("no content yet, sending fallback")
		plan = delivery.FallbackPlan(ev.EventID, ev.SenderID, s.cfg.Fallback)
		metrics.FallbacksSent.Inc()
	case err != nil:
		logger.Error("content lookup failed", "err", err)
		s.alert(ctx, domain.Alert{
			Severity:    "error",
			Reason:      "content lookup failed",
			EventID:     ev.EventID,
			RecipientID: ev.SenderID,
			LastError:   err.Error(),
		})
		return
	default:
		plan, err = delivery.BuildPlan(ev.EventID, ev.SenderID, bundle, s.cfg.MaxText)
		if err != nil {
			logger.Warn("content bundle unusable, sending fallback",
				"advisor", bundle.AdvisorID, "session_date", bundle.SessionDate, "err", err)
			plan = delivery.FallbackPlan(ev.EventID, ev.SenderID, s.cfg.Fallback)
			metrics.FallbacksSent.Inc()
		}
	}

	res := s.cfg.Runner.Run(ctx, plan)
	if res.TemplateMessageID != "" {
		s.rememberTemplate(res.TemplateMessageID, ev.SenderID)
	}
}

func (s *Service) alert(ctx context.Context, a domain.Alert) {
	if s.cfg.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.cfg.Notifier.Notify(nctx, a); err != nil {
		s.cfg.Logger.Warn("operator notification failed", "err", err)
	}
}

// applyStatus opens the recipient's window when a template this service sent
// is acknowledged delivered or read.
func (s *Service) applyStatus(ctx context.Context, st domain.StatusUpdate) bool {
	if st.Status == "failed" {
		s.cfg.Logger.Warn("outbound message failed on platform", "message_id", st.MessageID, "recipient", st.RecipientID)
		return false
	}
	if st.Status != "delivered" && st.Status != "read" {
		return false
	}

	recipient, ok := s.templateRecipient(st.MessageID)
	if !ok {
		return false
	}
	if st.RecipientID != "" {
		recipient = st.RecipientID
	}
	at := st.Timestamp
	if at.IsZero() {
		at = s.cfg.Now()
	}
	if err := s.cfg.Tracker.Open(ctx, recipient, at); err != nil {
		s.cfg.Logger.Warn("session window not recorded", "recipient", recipient, "err", err)
		return false
	}
	s.cfg.Logger.Info("template acknowledged, session window opened", "recipient", recipient, "status", st.Status)
	return true
}

func (s *Service) rememberTemplate(messageID, recipient string) {
	now := s.cfg.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.templates {
		if now.After(t.expires) {
			delete(s.templates, id)
		}
	}
	s.templates[messageID] = sentTemplate{recipient: recipient, expires: now.Add(templateMemory)}
}

func (s *Service) templateRecipient(messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[messageID]
	if !ok || s.cfg.Now().After(t.expires) {
		return "", false
	}
	return t.recipient, true
}

// Shutdown stops accepting deliveries and waits for running ones. When ctx
// expires first, running deliveries are cancelled; they abandon and log.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
	}

	s.cfg.Logger.Warn("shutdown deadline reached, cancelling in-flight deliveries")
	s.cancel()
	select {
	case <-done:
	case <-time.After(drainGrace):
		s.cfg.Logger.Error("in-flight deliveries did not stop after cancellation")
	}
	return ctx.Err()
}
