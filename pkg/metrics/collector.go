// Package metrics provides the engine's observability surface: counters and
// gauges for segment fetches, cache hits, ABR downshifts, and bandwidth/
// buffer health, exposed in Prometheus text exposition format. This is
// purely additive — nothing in the core engine depends on it being wired
// up, and a caller that never touches this package sees no behavior
// change.
package metrics

import (
	"sync"
	"time"
)

// MetricType distinguishes a counter (monotonically increasing) from a
// gauge (set to an arbitrary value).
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// Metric is a single named, optionally labeled data point.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
	Help      string
}

// Collector accumulates the engine's metrics in memory. The zero value is
// not usable; construct with NewCollector.
type Collector struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{metrics: make(map[string]*Metric)}
}

// IncCounter increments a counter by delta (use 1 for simple event counts).
func (c *Collector) IncCounter(name string, delta float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := metricKey(name, labels)
	m, ok := c.metrics[key]
	if !ok {
		m = &Metric{Name: name, Type: MetricTypeCounter, Labels: labels}
		c.metrics[key] = m
	}
	m.Value += delta
	m.Timestamp = time.Now()
}

// SetGauge sets a gauge to value.
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := metricKey(name, labels)
	m, ok := c.metrics[key]
	if !ok {
		m = &Metric{Name: name, Type: MetricTypeGauge, Labels: labels}
		c.metrics[key] = m
	}
	m.Value = value
	m.Timestamp = time.Now()
}

// Snapshot returns every metric currently recorded.
func (c *Collector) Snapshot() []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Metric, 0, len(c.metrics))
	for _, m := range c.metrics {
		out = append(out, *m)
	}
	return out
}

func metricKey(name string, labels map[string]string) string {
	key := name
	for k, v := range labels {
		key += "_" + k + ":" + v
	}
	return key
}

// Engine metric names, matching the naming convention the teacher's stream
// metrics exporter uses ({subject}_{unit}_total for counters,
// {subject}_{unit} for gauges).
const (
	MetricSegmentsFetchedTotal  = "segments_fetched_total"
	MetricSegmentsCacheHitTotal = "segments_cache_hit_total"
	MetricABRDownshiftTotal     = "abr_downshift_total"
	MetricBandwidthEstimateBPS  = "bandwidth_estimate_bps"
	MetricBufferedSeconds       = "buffered_seconds"
)
