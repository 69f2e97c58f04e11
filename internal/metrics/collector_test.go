package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_CounterIdentity(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("jd_test_total", "help", `kind="a"`)
	b := c.Counter("jd_test_total", "help", `kind="a"`)
	if a != b {
		t.Fatal("same name and labels should return the same counter")
	}
	other := c.Counter("jd_test_total", "help", `kind="b"`)
	if a == other {
		t.Fatal("different labels should return different counters")
	}
}

func TestCollector_RenderCountersOnceHelp(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("jd_events_total", "Events", `kind="text"`).Add(2)
	c.Counter("jd_events_total", "Events", `kind="button_click"`).Inc()

	out := c.Render()
	if strings.Count(out, "# HELP jd_events_total") != 1 {
		t.Fatalf("expected a single HELP line:\n%s", out)
	}
	if !strings.Contains(out, `jd_events_total{kind="text"} 2`) {
		t.Fatalf("missing text series:\n%s", out)
	}
	if !strings.Contains(out, `jd_events_total{kind="button_click"} 1`) {
		t.Fatalf("missing button series:\n%s", out)
	}
}

func TestCollector_Gauge(t *testing.T) {
	c := NewMetricsCollector()
	g := c.Gauge("jd_inflight", "In flight", "")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Fatalf("expected 1, got %d", g.Value())
	}
	if !strings.Contains(c.Render(), "jd_inflight 1") {
		t.Fatal("gauge not rendered")
	}
}

func TestCollector_HistogramBuckets(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("jd_latency_seconds", "Latency", "", []float64{1, 0.5})
	h.Observe(0.3)
	h.Observe(0.7)
	h.Observe(3)

	out := c.Render()
	for _, want := range []string{
		`jd_latency_seconds_bucket{le="0.5"} 1`,
		`jd_latency_seconds_bucket{le="1"} 2`,
		`jd_latency_seconds_bucket{le="+Inf"} 3`,
		`jd_latency_seconds_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if h.Count() != 3 {
		t.Fatalf("expected count 3, got %d", h.Count())
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("jd_requests_total", "Requests", "").Inc()

	rr := httptest.NewRecorder()
	c.Handler()(rr, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "jd_requests_total 1") {
		t.Fatalf("unexpected body:\n%s", rr.Body.String())
	}
}
