// Package metrics is a small Prometheus-compatible collector. It renders the
// text exposition format without pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns how many values were observed.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns or creates the counter identified by name and labels.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

// Gauge returns or creates the gauge identified by name and labels.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns or creates the histogram identified by name and labels.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	hb := make([]histBucket, len(bounds))
	for i, b := range bounds {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// Handler renders all metrics in Prometheus text format, sorted by series.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns the exposition text.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP jarvisdaily_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE jarvisdaily_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "jarvisdaily_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	type series struct {
		name, help, labels string
		value              int64
	}
	collect := func(m *sync.Map, read func(any) series) []series {
		var out []series
		m.Range(func(_, v any) bool {
			out = append(out, read(v))
			return true
		})
		sort.Slice(out, func(i, j int) bool {
			if out[i].name != out[j].name {
				return out[i].name < out[j].name
			}
			return out[i].labels < out[j].labels
		})
		return out
	}
	write := func(kind string, all []series) {
		last := ""
		for _, s := range all {
			if s.name != last {
				fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", s.name, s.help, s.name, kind)
				last = s.name
			}
			fmt.Fprintf(&sb, "%s%s %d\n", s.name, braces(s.labels), s.value)
		}
	}

	write("counter", collect(&c.counters, func(v any) series {
		ctr := v.(*Counter)
		return series{ctr.name, ctr.help, ctr.labels, ctr.Value()}
	}))
	write("gauge", collect(&c.gauges, func(v any) series {
		g := v.(*Gauge)
		return series{g.name, g.help, g.labels, g.Value()}
	}))

	var hists []*Histogram
	c.histograms.Range(func(_, v any) bool {
		hists = append(hists, v.(*Histogram))
		return true
	})
	sort.Slice(hists, func(i, j int) bool { return hists[i].name+hists[i].labels < hists[j].name+hists[j].labels })
	for _, h := range hists {
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			labels := `le="` + le + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s_bucket{%s} %d\n", h.name, labels, b.count)
		}
		fmt.Fprintf(&sb, "%s_count%s %d\n", h.name, braces(h.labels), h.count)
		fmt.Fprintf(&sb, "%s_sum%s %f\n", h.name, braces(h.labels), h.sum)
		h.mu.Unlock()
	}

	return sb.String()
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// --- Metrics used across the service ---

var (
	WebhookRequests   = Collector.Counter("jarvisdaily_webhook_requests_total", "Webhook POST deliveries accepted", "")
	SignatureFailures = Collector.Counter("jarvisdaily_webhook_signature_failures_total", "Webhook requests rejected for bad signature or token", "")
	MalformedPayloads = Collector.Counter("jarvisdaily_webhook_malformed_total", "Verified webhook bodies that were not JSON objects", "")
	DuplicateEvents   = Collector.Counter("jarvisdaily_events_duplicate_total", "Inbound events suppressed by dedup", "")
	TextEvents        = Collector.Counter("jarvisdaily_events_total", "Inbound events processed", `kind="text"`)
	ButtonEvents      = Collector.Counter("jarvisdaily_events_total", "Inbound events processed", `kind="button_click"`)
	StatusUpdates     = Collector.Counter("jarvisdaily_status_updates_total", "Delivery receipts received", "")

	MessagesSent     = Collector.Counter("jarvisdaily_messages_sent_total", "Outbound messages accepted by the platform", "")
	SendRetries      = Collector.Counter("jarvisdaily_send_retries_total", "Outbound send retries after transient failures", "")
	WindowSkips      = Collector.Counter("jarvisdaily_window_closed_total", "Free-form messages not sent because the session window was closed", "")
	DeliveriesDone   = Collector.Counter("jarvisdaily_deliveries_total", "Delivery sequences finished", `outcome="complete"`)
	DeliveriesFailed = Collector.Counter("jarvisdaily_deliveries_total", "Delivery sequences finished", `outcome="abandoned"`)
	FallbacksSent    = Collector.Counter("jarvisdaily_fallbacks_total", "Fallback messages scheduled for recipients without content", "")

	InflightDeliveries = Collector.Gauge("jarvisdaily_deliveries_inflight", "Delivery sequences currently running", "")

	SendLatency = Collector.Histogram("jarvisdaily_send_latency_seconds", "WhatsApp send API latency in seconds", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15})
)
