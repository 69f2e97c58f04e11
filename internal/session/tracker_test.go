package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"jarvisdaily/internal/domain"
	"jarvisdaily/internal/logging"
)

var t0 = time.Date(2025, 10, 14, 8, 0, 0, 0, time.UTC)

func newTestTracker() *Tracker {
	return NewTracker(TrackerConfig{Logger: logging.Discard()})
}

func TestTracker_Boundary(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	if err := tr.Open(ctx, "919765071249", t0); err != nil {
		t.Fatal(err)
	}
	if !tr.IsOpen(ctx, "919765071249", t0.Add(23*time.Hour+59*time.Minute)) {
		t.Fatal("window should be open at 23h59m")
	}
	if tr.IsOpen(ctx, "919765071249", t0.Add(WindowDuration)) {
		t.Fatal("window should be closed at exactly 24h")
	}
	if tr.IsOpen(ctx, "919765071249", t0.Add(24*time.Hour+time.Minute)) {
		t.Fatal("window should be closed at 24h01m")
	}
}

func TestTracker_UnknownRecipientClosed(t *testing.T) {
	tr := newTestTracker()
	if tr.IsOpen(context.Background(), "919000000000", t0) {
		t.Fatal("no window should be open for an unseen recipient")
	}
	if _, ok := tr.Remaining(context.Background(), "919000000000", t0); ok {
		t.Fatal("Remaining should report no window")
	}
}

func TestTracker_LatestWins(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	tr.Open(ctx, "r", t0)
	tr.Open(ctx, "r", t0.Add(10*time.Hour))

	rem, ok := tr.Remaining(ctx, "r", t0.Add(20*time.Hour))
	if !ok || rem != 14*time.Hour {
		t.Fatalf("expected 14h remaining after re-open, got %v %v", rem, ok)
	}
	if !tr.IsOpen(ctx, "r", t0.Add(30*time.Hour)) {
		t.Fatal("re-opened window should extend past the first expiry")
	}

	// An older event arriving late must not shorten the window.
	tr.Open(ctx, "r", t0.Add(time.Hour))
	if !tr.IsOpen(ctx, "r", t0.Add(33*time.Hour)) {
		t.Fatal("out-of-order open shortened the window")
	}
	if tr.IsOpen(ctx, "r", t0.Add(34*time.Hour)) {
		t.Fatal("windows must not stack")
	}
}

func TestTracker_CanonicalKey(t *testing.T) {
	tr := NewTracker(TrackerConfig{
		Logger: logging.Discard(),
		Canonical: func(s string) (string, error) {
			s = strings.TrimPrefix(s, "+")
			if len(s) == 10 {
				return "91" + s, nil
			}
			return s, nil
		},
	})
	ctx := context.Background()

	tr.Open(ctx, "9765071249", t0)
	if !tr.IsOpen(ctx, "+919765071249", t0.Add(time.Hour)) {
		t.Fatal("both phone formats should share one window")
	}
}

type failingStore struct{}

func (failingStore) OpenWindow(context.Context, domain.SessionWindow) error {
	return errors.New("disk gone")
}

func (failingStore) Window(context.Context, string) (*domain.SessionWindow, error) {
	return nil, errors.New("disk gone")
}

func TestTracker_StoreErrorFailsClosed(t *testing.T) {
	tr := NewTracker(TrackerConfig{Store: failingStore{}, Logger: logging.Discard()})
	ctx := context.Background()

	if err := tr.Open(ctx, "r", t0); err == nil {
		t.Fatal("expected open error to propagate")
	}
	if tr.IsOpen(ctx, "r", t0) {
		t.Fatal("lookup failure must report the window closed")
	}
}

func TestTracker_ConcurrentOpen(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Open(ctx, "r", t0.Add(time.Duration(i)*time.Minute))
			tr.IsOpen(ctx, "r", t0)
		}(i)
	}
	wg.Wait()

	rem, ok := tr.Remaining(ctx, "r", t0)
	if !ok || rem != WindowDuration+49*time.Minute {
		t.Fatalf("latest open should win, got %v %v", rem, ok)
	}
}
