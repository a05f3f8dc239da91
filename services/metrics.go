package services

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	MetricReflowDuration     = "reflow.duration"
	MetricReflowErrors       = "reflow.errors"
	MetricPositionWrites     = "reflow.position_writes"
	MetricEvents             = "events.published"
	MetricConsistencyPairs   = "consistency.pairs_checked"
	MetricConsistencyBroken  = "consistency.violations"
	MetricConsistencyRepairs = "consistency.repairs"
)

// MetricsService records counters, durations and gauges. Series are keyed by
// name plus tags, so the same name with different tags is a different series.
type MetricsService interface {
	IncrementCounter(name string, tags map[string]string)
	AddCounter(name string, delta int64, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
	GetMetrics() map[string]interface{}
}

type Counter struct {
	Value int64             `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// Histogram buckets are cumulative: a 3ms sample counts in 5ms, 10ms and up.
type Histogram struct {
	Count   int64             `json:"count"`
	Sum     time.Duration     `json:"sum"`
	Min     time.Duration     `json:"min"`
	Max     time.Duration     `json:"max"`
	Average time.Duration     `json:"average"`
	Tags    map[string]string `json:"tags,omitempty"`
	Buckets map[string]int64  `json:"buckets"`
}

type Gauge struct {
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

var bucketBounds = []time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
}

func (h *Histogram) observe(d time.Duration) {
	if h.Count == 0 || d < h.Min {
		h.Min = d
	}
	h.Max = max(h.Max, d)
	h.Count++
	h.Sum += d
	h.Average = h.Sum / time.Duration(h.Count)

	for _, bound := range bucketBounds {
		if d <= bound {
			h.Buckets[bound.String()]++
		}
	}
	h.Buckets["+Inf"]++
}

func (h Histogram) clone() Histogram {
	h.Buckets = maps.Clone(h.Buckets)
	return h
}

// InMemoryMetrics keeps every series in process memory. It backs the
// /metrics endpoint.
type InMemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	gauges     map[string]*Gauge
	started    time.Time
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
		gauges:     make(map[string]*Gauge),
		started:    time.Now(),
	}
}

func (m *InMemoryMetrics) IncrementCounter(name string, tags map[string]string) {
	m.AddCounter(name, 1, tags)
}

func (m *InMemoryMetrics) AddCounter(name string, delta int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	series(m.counters, name, tags, func() *Counter {
		return &Counter{Tags: cloneTags(tags)}
	}).Value += delta
}

func (m *InMemoryMetrics) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	series(m.histograms, name, tags, func() *Histogram {
		return &Histogram{Tags: cloneTags(tags), Buckets: make(map[string]int64, len(bucketBounds)+1)}
	}).observe(duration)
}

func (m *InMemoryMetrics) SetGauge(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	series(m.gauges, name, tags, func() *Gauge {
		return &Gauge{Tags: cloneTags(tags)}
	}).Value = value
}

// GetMetrics returns a copy of every series, grouped by metric type. Empty
// groups are left out.
func (m *InMemoryMetrics) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[string]interface{}{
		"system": map[string]interface{}{
			"uptime":     time.Since(m.started).String(),
			"start_time": m.started.Format(time.RFC3339),
		},
	}
	if len(m.counters) > 0 {
		out["counters"] = snapshot(m.counters, func(c Counter) Counter { return c })
	}
	if len(m.histograms) > 0 {
		out["histograms"] = snapshot(m.histograms, Histogram.clone)
	}
	if len(m.gauges) > 0 {
		out["gauges"] = snapshot(m.gauges, func(g Gauge) Gauge { return g })
	}
	return out
}

// CounterValue is 0 for a series never touched.
func (m *InMemoryMetrics) CounterValue(name string, tags map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if counter, ok := m.counters[seriesKey(name, tags)]; ok {
		return counter.Value
	}
	return 0
}

func series[T any](all map[string]*T, name string, tags map[string]string, create func() *T) *T {
	key := seriesKey(name, tags)
	s, ok := all[key]
	if !ok {
		s = create()
		all[key] = s
	}
	return s
}

func snapshot[T any](all map[string]*T, clone func(T) T) map[string]T {
	out := make(map[string]T, len(all))
	for key, s := range all {
		out[key] = clone(*s)
	}
	return out
}

// seriesKey renders name|k1:v1|k2:v2 with tags sorted by key.
func seriesKey(name string, tags map[string]string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		b.WriteString("|" + k + ":" + tags[k])
	}
	return b.String()
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	return maps.Clone(tags)
}
