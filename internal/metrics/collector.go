// Package metrics is a small Prometheus-text collector for dispatch and
// demultiplexer activity. It renders the exposition format directly instead
// of pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide collector used by the predefined metrics.
var Default = NewCollector("backroom")

// Collector aggregates counters and histograms under a common prefix.
type Collector struct {
	prefix     string
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	startTime  time.Time
}

// NewCollector creates an empty collector. Metric names are prefixed with
// prefix + "_".
func NewCollector(prefix string) *Collector {
	return &Collector{
		prefix:     prefix,
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks a distribution over fixed upper bounds.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns the counter for name and labels, creating it on first use.
// labels is a preformatted label set such as `channel="direct"`.
func (c *Collector) Counter(name, help, labels string) *Counter {
	full := c.prefix + "_" + name
	key := full + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr := &Counter{name: full, help: help, labels: labels}
	c.counters[key] = ctr
	return ctr
}

// Histogram returns the histogram for name, creating it with bounds on first use.
func (c *Collector) Histogram(name, help string, bounds []float64) *Histogram {
	full := c.prefix + "_" + name
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[full]; ok {
		return h
	}
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	h := &Histogram{name: full, help: help, bounds: b, buckets: make([]int64, len(b))}
	c.histograms[full] = h
	return h
}

// WriteTo renders all metrics in Prometheus text format, sorted by name.
func (c *Collector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP %s_uptime_seconds Time since start in seconds\n", c.prefix)
	fmt.Fprintf(&sb, "# TYPE %s_uptime_seconds gauge\n", c.prefix)
	fmt.Fprintf(&sb, "%s_uptime_seconds %d\n", c.prefix, int64(time.Since(c.startTime).Seconds()))

	c.mu.Lock()
	counters := make([]*Counter, 0, len(c.counters))
	for _, ctr := range c.counters {
		counters = append(counters, ctr)
	}
	histograms := make([]*Histogram, 0, len(c.histograms))
	for _, h := range c.histograms {
		histograms = append(histograms, h)
	}
	c.mu.Unlock()

	sort.Slice(counters, func(i, j int) bool {
		if counters[i].name != counters[j].name {
			return counters[i].name < counters[j].name
		}
		return counters[i].labels < counters[j].labels
	})
	sort.Slice(histograms, func(i, j int) bool { return histograms[i].name < histograms[j].name })

	lastName := ""
	for _, ctr := range counters {
		if ctr.name != lastName {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n", ctr.name, ctr.help, ctr.name)
			lastName = ctr.name
		}
		if ctr.labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %d\n", ctr.name, ctr.labels, ctr.Value())
		} else {
			fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
		}
	}

	for _, h := range histograms {
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket{le=\"%s\"} %d\n", h.name, bound, h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s_count %d\n%s_sum %f\n", h.name, h.count, h.name, h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Handler serves the collector over HTTP.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = c.WriteTo(w)
	}
}

var (
	DispatchTotal     = Default.Counter("dispatch_total", "Dispatches sent to the agent", "")
	DispatchFailures  = Default.Counter("dispatch_failures_total", "Dispatches that failed", "")
	PayloadsTotal     = Default.Counter("payloads_total", "Raw reply payloads received", "")
	MarkerPayloads    = Default.Counter("demux_payloads_total", "Payloads by demultiplexer mode", `mode="marker"`)
	HeuristicPayloads = Default.Counter("demux_payloads_total", "Payloads by demultiplexer mode", `mode="heuristic"`)
	DirectMessages    = Default.Counter("messages_total", "Agent messages produced per channel", `channel="direct"`)
	BackroomMessages  = Default.Counter("messages_total", "Agent messages produced per channel", `channel="backroom"`)

	DispatchLatency = Default.Histogram("dispatch_latency_seconds", "Agent round trip latency in seconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, math.Inf(1)})
)
