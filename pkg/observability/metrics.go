package observability

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names shared by the packages that record them.
const (
	MetricHTTPRequests      = "http.requests"
	MetricHTTPErrors        = "http.errors"
	MetricHTTPLatencyMs     = "http.latency_ms"
	MetricHTTPInFlight      = "http.in_flight"
	MetricRemoteCalls       = "remote.calls"
	MetricRemoteRetries     = "remote.retries"
	MetricRemoteExhausted   = "remote.exhausted"
	MetricRemoteFatal       = "remote.fatal"
	MetricPipelineResolves  = "pipeline.resolves"
	MetricPipelineFailures  = "pipeline.failures"
	MetricPipelineNodes     = "pipeline.nodes"
	MetricPipelineCacheHits = "pipeline.cache_hits"
	MetricPullRequests      = "gitops.pull_requests"
)

type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.v.Store(v) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram keeps running aggregates only; individual observations are not
// retained so long-lived servers don't grow without bound.
type Histogram struct {
	mu    sync.Mutex
	sum   float64
	count int64
	min   float64
	max   float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 || v < h.min {
		h.min = v
	}
	if h.count == 0 || v > h.max {
		h.max = v
	}
	h.sum += v
	h.count++
}

type HistogramSnapshot struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return HistogramSnapshot{}
	}
	return HistogramSnapshot{
		Count: h.count,
		Sum:   h.sum,
		Avg:   h.sum / float64(h.count),
		Min:   h.min,
		Max:   h.max,
	}
}

// Timer observes elapsed milliseconds into a histogram when stopped.
type Timer struct {
	h     *Histogram
	start time.Time
}

func (t Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.h != nil {
		t.h.Observe(float64(d.Microseconds()) / 1000)
	}
	return d
}

type MetricsRegistry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Name joins a base metric name with label values, e.g.
// Name(MetricHTTPRequests, "GET", "/v1/pipeline").
func Name(base string, labels ...string) string {
	if len(labels) == 0 {
		return base
	}
	return base + "{" + strings.Join(labels, ",") + "}"
}

func (r *MetricsRegistry) Counter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c = &Counter{}
	r.counters[name] = c
	return c
}

func (r *MetricsRegistry) Gauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{}
	r.gauges[name] = g
	return g
}

func (r *MetricsRegistry) Histogram(name string) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h := &Histogram{}
	r.histograms[name] = h
	return h
}

func (r *MetricsRegistry) StartTimer(name string) Timer {
	return Timer{h: r.Histogram(name), start: time.Now()}
}

type Snapshot struct {
	Counters   map[string]int64             `json:"counters"`
	Gauges     map[string]int64             `json:"gauges"`
	Histograms map[string]HistogramSnapshot `json:"histograms"`
}

func (r *MetricsRegistry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Counters:   make(map[string]int64, len(r.counters)),
		Gauges:     make(map[string]int64, len(r.gauges)),
		Histograms: make(map[string]HistogramSnapshot, len(r.histograms)),
	}
	for name, c := range r.counters {
		s.Counters[name] = c.Value()
	}
	for name, g := range r.gauges {
		s.Gauges[name] = g.Value()
	}
	for name, h := range r.histograms {
		s.Histograms[name] = h.Snapshot()
	}
	return s
}

// Names returns every registered metric name, sorted.
func (r *MetricsRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.counters)+len(r.gauges)+len(r.histograms))
	for n := range r.counters {
		names = append(names, n)
	}
	for n := range r.gauges {
		names = append(names, n)
	}
	for n := range r.histograms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
