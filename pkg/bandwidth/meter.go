// Package bandwidth estimates throughput from fetcher byte/time samples.
// It is grounded on the teacher's BandwidthEstimator (pkg/streaming/hls/abr.go)
// but trades the teacher's weighted moving average for the simpler
// fixed-window-then-collapse scheme this engine's ABR controller expects.
package bandwidth

import "sync"

const (
	windowSize   = 20
	minSamples   = 4
)

// Meter is a process-wide, mutex-guarded rolling bandwidth estimator. The
// zero value is not usable; construct with NewMeter.
type Meter struct {
	mu      sync.Mutex
	samples []float64 // bits per second
	count   int       // total samples ever added, including collapsed ones
}

// NewMeter creates an empty Meter.
func NewMeter() *Meter {
	return &Meter{samples: make([]float64, 0, windowSize)}
}

// Add records one fetch's elapsed time and byte count. Calls with a
// non-positive duration or byte count are ignored — they carry no
// throughput information and would otherwise divide by zero or skew the
// estimate toward infinity.
func (m *Meter) Add(seconds float64, bytes int64) {
	if seconds <= 0 || bytes <= 0 {
		return
	}

	bps := float64(bytes) * 8 / seconds

	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, bps)
	m.count++

	if len(m.samples) >= windowSize {
		m.samples = []float64{mean(m.samples)}
	}
}

// Estimate returns the current bandwidth estimate in bits per second, and
// false if fewer than 4 samples have been recorded. The estimate is the
// integer mean of the current window — after 20 samples the window has
// collapsed to exactly one entry, the prior mean, which then blends with
// subsequent samples at equal weight going forward.
func (m *Meter) Estimate() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count < minSamples {
		return 0, false
	}
	return int64(mean(m.samples)), true
}

// Reset clears all recorded samples.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = m.samples[:0]
	m.count = 0
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
