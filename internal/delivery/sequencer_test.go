package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"jarvisdaily/internal/domain"
	"jarvisdaily/internal/logging"
	"jarvisdaily/internal/whatsapp"
)

// scriptedSender fails according to a per-message-text script.
type scriptedSender struct {
	mu       sync.Mutex
	failures map[string][]error
	sent     []domain.OutboundMessage
	calls    int
	onSend   func(n int)
}

func (s *scriptedSender) Send(_ context.Context, msg domain.OutboundMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.onSend != nil {
		s.onSend(s.calls)
	}
	key := msg.Text
	if msg.Type == domain.MessageTemplate {
		key = "template"
	}
	if errs := s.failures[key]; len(errs) > 0 {
		s.failures[key] = errs[1:]
		return "", errs[0]
	}
	s.sent = append(s.sent, msg)
	return fmt.Sprintf("wamid.out%d", len(s.sent)), nil
}

type switchWindow struct {
	mu   sync.Mutex
	open bool
}

func (w *switchWindow) IsOpen(context.Context, string, time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

func (w *switchWindow) set(open bool) {
	w.mu.Lock()
	w.open = open
	w.mu.Unlock()
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []domain.DeliveryAttempt
}

func (r *memRecorder) RecordAttempt(_ context.Context, a domain.DeliveryAttempt) error {
	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	r.mu.Unlock()
	return nil
}

type memNotifier struct {
	alerts []domain.Alert
}

func (n *memNotifier) Notify(_ context.Context, a domain.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

type harness struct {
	sender   *scriptedSender
	window   *switchWindow
	recorder *memRecorder
	notifier *memNotifier
	sleeps   []time.Duration
	seq      *Sequencer
}

func newHarness(policy Policy) *harness {
	h := &harness{
		sender:   &scriptedSender{failures: map[string][]error{}},
		window:   &switchWindow{open: true},
		recorder: &memRecorder{},
		notifier: &memNotifier{},
	}
	h.seq = NewSequencer(SequencerConfig{
		Sender:        h.sender,
		Window:        h.window,
		Recorder:      h.recorder,
		Notifier:      h.notifier,
		MaxAttempts:   4,
		BackoffBase:   time.Second,
		BackoffMax:    8 * time.Second,
		OutsideWindow: policy,
		Template:      Template{Name: "daily_content_ready", Language: "en"},
		Logger:        logging.Discard(),
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
	})
	return h
}

func threeMessagePlan() Plan {
	return Plan{
		EventID:     "wamid.in",
		RecipientID: "919765071249",
		Messages: []domain.OutboundMessage{
			{To: "919765071249", Type: domain.MessageText, Text: "one"},
			{To: "919765071249", Type: domain.MessageText, Text: "two"},
			{To: "919765071249", Type: domain.MessageText, Text: "three"},
		},
	}
}

func transient() error { return &whatsapp.APIError{StatusCode: 503, Message: "unavailable"} }

func texts(msgs []domain.OutboundMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestRun_AllSent(t *testing.T) {
	h := newHarness(PolicySkip)
	res := h.seq.Run(context.Background(), threeMessagePlan())

	if res.Outcome != OutcomeComplete || res.Sent != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := texts(h.sender.sent); fmt.Sprint(got) != "[one two three]" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestRun_RetryScopedToFailedMessage(t *testing.T) {
	h := newHarness(PolicySkip)
	h.sender.failures["two"] = []error{transient(), transient()}

	res := h.seq.Run(context.Background(), threeMessagePlan())

	if res.Outcome != OutcomeComplete {
		t.Fatalf("expected complete, got %+v", res)
	}
	if got := texts(h.sender.sent); fmt.Sprint(got) != "[one two three]" {
		t.Fatalf("each message should be delivered once in order, got %v", got)
	}
	if h.sender.calls != 5 {
		t.Fatalf("expected 5 send calls, got %d", h.sender.calls)
	}
	if fmt.Sprint(h.sleeps) != "[1s 2s]" {
		t.Fatalf("unexpected backoffs %v", h.sleeps)
	}
	if res.Attempts[1].AttemptCount != 3 || res.Attempts[0].AttemptCount != 1 {
		t.Fatalf("unexpected attempt counts %+v", res.Attempts)
	}
}

func TestRun_RetryBudgetExhausted(t *testing.T) {
	h := newHarness(PolicySkip)
	h.sender.failures["two"] = []error{transient(), transient(), transient(), transient(), transient()}

	res := h.seq.Run(context.Background(), threeMessagePlan())

	if res.Outcome != OutcomeAbandoned {
		t.Fatalf("expected abandoned, got %+v", res)
	}
	if h.sender.calls != 1+4 {
		t.Fatalf("expected 4 attempts for message two, got %d calls", h.sender.calls)
	}
	if fmt.Sprint(h.sleeps) != "[1s 2s 4s]" {
		t.Fatalf("unexpected backoffs %v", h.sleeps)
	}
	if len(h.notifier.alerts) != 1 {
		t.Fatalf("expected one operator alert, got %d", len(h.notifier.alerts))
	}
	a := h.notifier.alerts[0]
	if a.SequenceIndex != 1 || a.Attempts != 4 || a.RecipientID != "919765071249" || a.LastError == "" {
		t.Fatalf("alert missing details %+v", a)
	}
	if res.Skipped != 1 {
		t.Fatalf("message three should be skipped, got %d", res.Skipped)
	}
	for _, att := range h.recorder.attempts {
		if att.AttemptCount > 4 {
			t.Fatalf("attempt count exceeded budget: %+v", att)
		}
	}
}

func TestRun_PermanentErrorNotRetried(t *testing.T) {
	h := newHarness(PolicySkip)
	h.sender.failures["one"] = []error{&whatsapp.APIError{StatusCode: 400, Code: 100, Message: "invalid parameter"}}

	res := h.seq.Run(context.Background(), threeMessagePlan())

	if res.Outcome != OutcomeAbandoned {
		t.Fatalf("expected abandoned, got %+v", res)
	}
	if h.sender.calls != 1 || len(h.sleeps) != 0 {
		t.Fatalf("permanent errors must not be retried: calls=%d sleeps=%v", h.sender.calls, h.sleeps)
	}
	if res.Skipped != 2 {
		t.Fatalf("expected remaining 2 skipped, got %d", res.Skipped)
	}
}

func TestRun_WindowClosesMidSequence_Skip(t *testing.T) {
	h := newHarness(PolicySkip)
	h.sender.onSend = func(n int) {
		if n == 2 {
			h.window.set(false)
		}
	}

	res := h.seq.Run(context.Background(), threeMessagePlan())

	if res.Outcome != OutcomeWindowClosed {
		t.Fatalf("expected window_closed, got %+v", res)
	}
	if got := texts(h.sender.sent); fmt.Sprint(got) != "[one two]" {
		t.Fatalf("third message must not be sent, got %v", got)
	}
	if res.Skipped != 1 || h.sender.calls != 2 {
		t.Fatalf("unexpected skip accounting %+v calls=%d", res, h.sender.calls)
	}
}

func TestRun_WindowClosed_Template(t *testing.T) {
	h := newHarness(PolicyTemplate)
	h.window.set(false)

	res := h.seq.Run(context.Background(), threeMessagePlan())

	if res.Outcome != OutcomeWindowClosed {
		t.Fatalf("expected window_closed, got %+v", res)
	}
	if len(h.sender.sent) != 1 || h.sender.sent[0].Type != domain.MessageTemplate {
		t.Fatalf("expected exactly one template send, got %+v", h.sender.sent)
	}
	if h.sender.sent[0].TemplateName != "daily_content_ready" {
		t.Fatalf("unexpected template %+v", h.sender.sent[0])
	}
	if res.TemplateMessageID == "" {
		t.Fatal("template message id should be reported")
	}
	if res.Skipped != 2 {
		t.Fatalf("expected 2 skipped, got %d", res.Skipped)
	}
}

func TestRun_PlatformWindowRejection(t *testing.T) {
	h := newHarness(PolicySkip)
	h.sender.failures["two"] = []error{&whatsapp.APIError{StatusCode: 400, Code: 131047, Message: "Re-engagement message"}}

	res := h.seq.Run(context.Background(), threeMessagePlan())

	if res.Outcome != OutcomeWindowClosed {
		t.Fatalf("expected window_closed, got %+v", res)
	}
	if h.sender.calls != 2 || len(h.sleeps) != 0 {
		t.Fatalf("window rejections must not be retried: calls=%d", h.sender.calls)
	}
	if res.Skipped != 2 {
		t.Fatalf("rejected and remaining messages should be skipped, got %d", res.Skipped)
	}
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	h := newHarness(PolicySkip)
	ctx, cancel := context.WithCancel(context.Background())
	h.sender.failures["one"] = []error{transient(), transient()}
	h.sender.onSend = func(int) { cancel() }

	res := h.seq.Run(ctx, threeMessagePlan())

	if res.Outcome != OutcomeAbandoned {
		t.Fatalf("expected abandoned on shutdown, got %+v", res)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", res.Err)
	}
	if h.sender.calls != 1 {
		t.Fatalf("no further attempts after cancellation, got %d", h.sender.calls)
	}
	if len(h.notifier.alerts) != 1 {
		t.Fatal("abandoned deliveries should still alert the operator")
	}
}

func TestRun_RecordsAttemptLifecycle(t *testing.T) {
	h := newHarness(PolicySkip)
	h.sender.failures["one"] = []error{transient()}

	plan := threeMessagePlan()
	plan.Messages = plan.Messages[:1]
	h.seq.Run(context.Background(), plan)

	var statuses []domain.AttemptStatus
	for _, a := range h.recorder.attempts {
		statuses = append(statuses, a.Status)
	}
	want := "[pending failed sent]"
	if fmt.Sprint(statuses) != want {
		t.Fatalf("got %v, want %s", statuses, want)
	}
	last := h.recorder.attempts[len(h.recorder.attempts)-1]
	if last.MessageID == "" || last.AttemptCount != 2 || last.LastError != "" {
		t.Fatalf("unexpected final attempt %+v", last)
	}
}

func TestRun_MinGap(t *testing.T) {
	h := newHarness(PolicySkip)
	seq := NewSequencer(SequencerConfig{
		Sender: h.sender,
		Window: h.window,
		MinGap: 20 * time.Millisecond,
		Logger: logging.Discard(),
	})

	start := time.Now()
	res := seq.Run(context.Background(), threeMessagePlan())
	if res.Outcome != OutcomeComplete {
		t.Fatalf("unexpected result %+v", res)
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Fatalf("messages were not spaced: %v", elapsed)
	}
}

// clockedSequencer runs on a fake clock: sleeps and each send advance it.
func clockedSequencer(h *harness, minGap, sendTime time.Duration) (*Sequencer, *[]time.Time) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var accepted []time.Time
	h.sender.onSend = func(int) { now = now.Add(sendTime) }
	seq := NewSequencer(SequencerConfig{
		Sender:      h.sender,
		Window:      h.window,
		MaxAttempts: 4,
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  time.Second,
		MinGap:      minGap,
		Logger:      logging.Discard(),
		Now:         func() time.Time { return now },
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			now = now.Add(d)
			return ctx.Err()
		},
		Recorder: recorderFunc(func(a domain.DeliveryAttempt) {
			if a.Status == domain.AttemptSent {
				accepted = append(accepted, a.UpdatedAt)
			}
		}),
	})
	return seq, &accepted
}

type recorderFunc func(domain.DeliveryAttempt)

func (f recorderFunc) RecordAttempt(_ context.Context, a domain.DeliveryAttempt) error {
	f(a)
	return nil
}

func assertSpacing(t *testing.T, accepted []time.Time, minGap time.Duration) {
	t.Helper()
	if len(accepted) != 3 {
		t.Fatalf("expected 3 accepted sends, got %d", len(accepted))
	}
	for i := 1; i < len(accepted); i++ {
		// Each accepted time is stamped after the send returns, so the next
		// send started at least minGap after the previous acceptance.
		if gap := accepted[i].Sub(accepted[i-1]); gap < minGap {
			t.Fatalf("messages %d and %d only %v apart, want >= %v", i-1, i, gap, minGap)
		}
	}
}

func TestRun_MinGapAfterRetriedMessage(t *testing.T) {
	h := newHarness(PolicySkip)
	h.sender.failures["two"] = []error{transient(), transient()}
	seq, accepted := clockedSequencer(h, 150*time.Millisecond, 10*time.Millisecond)

	res := seq.Run(context.Background(), threeMessagePlan())

	if res.Outcome != OutcomeComplete {
		t.Fatalf("unexpected result %+v", res)
	}
	want := "[150ms 100ms 200ms 150ms]"
	if got := fmt.Sprint(h.sleeps); got != want {
		t.Fatalf("sleeps = %s, want %s", got, want)
	}
	assertSpacing(t, *accepted, 150*time.Millisecond)
}

func TestRun_MinGapAfterSlowSend(t *testing.T) {
	h := newHarness(PolicySkip)
	seq, accepted := clockedSequencer(h, 150*time.Millisecond, 400*time.Millisecond)

	res := seq.Run(context.Background(), threeMessagePlan())

	if res.Outcome != OutcomeComplete {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := fmt.Sprint(h.sleeps); got != "[150ms 150ms]" {
		t.Fatalf("a slow send must still be followed by the full gap, sleeps = %s", got)
	}
	assertSpacing(t, *accepted, 150*time.Millisecond)
}

func TestBackoff_Capped(t *testing.T) {
	s := NewSequencer(SequencerConfig{BackoffBase: time.Second, BackoffMax: 3 * time.Second, Logger: logging.Discard()})
	got := []time.Duration{s.backoff(1), s.backoff(2), s.backoff(3), s.backoff(10)}
	if fmt.Sprint(got) != "[1s 2s 3s 3s]" {
		t.Fatalf("unexpected backoffs %v", got)
	}
}
