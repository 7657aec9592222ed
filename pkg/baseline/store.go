// Package baseline maintains rolling per-metric statistics: a bounded sample
// window with mean, stddev, p95/p99, min/max and a Student-t 95% confidence
// interval, plus EWMA mean/stddev for drift-sensitive comparisons. A baseline
// is only exposed once a metric has accumulated the configured minimum number
// of samples.
package baseline

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
)

// Defaults mirror the configuration surface.
const (
	DefaultWindowSize     = 1000
	DefaultMinimumSamples = 50
	DefaultWindowHours    = 24
	DefaultEWMAAlpha      = 0.1
)

// Baseline is a snapshot of one metric's rolling statistics.
type Baseline struct {
	MetricName     string    `json:"metric_name"`
	Mean           float64   `json:"mean"`
	StdDev         float64   `json:"std_dev"`
	P95            float64   `json:"p95"`
	P99            float64   `json:"p99"`
	Min            float64   `json:"min"`
	Max            float64   `json:"max"`
	SampleCount    int       `json:"sample_count"`
	ConfidenceLow  float64   `json:"confidence_low"`
	ConfidenceHigh float64   `json:"confidence_high"`
	EWMAMean       float64   `json:"ewma_mean"`
	EWMAStdDev     float64   `json:"ewma_std_dev"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
}

// Config tunes the store.
type Config struct {
	WindowSize     int
	MinimumSamples int
	WindowHours    int
	EWMAAlpha      float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		WindowSize:     DefaultWindowSize,
		MinimumSamples: DefaultMinimumSamples,
		WindowHours:    DefaultWindowHours,
		EWMAAlpha:      DefaultEWMAAlpha,
	}
}

type sample struct {
	value float64
	ts    time.Time
}

type series struct {
	mu       sync.Mutex
	samples  []sample
	ewmaMean float64
	ewmaVar  float64
	seeded   bool
}

// Store holds one series per metric name. Each series owns its lock; the
// store-level lock only guards the map.
type Store struct {
	mu     sync.RWMutex
	series map[string]*series
	cfg    Config
	clock  forensic.Clock
}

// NewStore creates a baseline store.
func NewStore(cfg Config, clock forensic.Clock) *Store {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.MinimumSamples <= 0 {
		cfg.MinimumSamples = DefaultMinimumSamples
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = DefaultWindowHours
	}
	if cfg.EWMAAlpha <= 0 || cfg.EWMAAlpha > 1 {
		cfg.EWMAAlpha = DefaultEWMAAlpha
	}
	if clock == nil {
		clock = forensic.WallClock{}
	}
	return &Store{series: make(map[string]*series), cfg: cfg, clock: clock}
}

// Record inserts a sample, evicting entries older than the window and keeping
// the series bounded to WindowSize.
func (s *Store) Record(metricName string, value float64, ts time.Time) {
	sr := s.getOrCreate(metricName)

	sr.mu.Lock()
	defer sr.mu.Unlock()

	cutoff := s.clock.Now().Add(-time.Duration(s.cfg.WindowHours) * time.Hour)
	sr.evictBefore(cutoff)

	sr.samples = append(sr.samples, sample{value: value, ts: ts.UTC()})
	if len(sr.samples) > s.cfg.WindowSize {
		sr.samples = sr.samples[len(sr.samples)-s.cfg.WindowSize:]
	}

	alpha := s.cfg.EWMAAlpha
	if !sr.seeded {
		sr.ewmaMean = value
		sr.ewmaVar = 0
		sr.seeded = true
		return
	}
	// EWMA variance update (West 1979): keeps drift sensitivity without
	// rescanning the window.
	diff := value - sr.ewmaMean
	incr := alpha * diff
	sr.ewmaMean += incr
	sr.ewmaVar = (1 - alpha) * (sr.ewmaVar + diff*incr)
}

// Baseline returns the current snapshot, or false while the series holds
// fewer than MinimumSamples inside the window.
func (s *Store) Baseline(metricName string) (*Baseline, bool) {
	s.mu.RLock()
	sr, ok := s.series[metricName]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	cutoff := s.clock.Now().Add(-time.Duration(s.cfg.WindowHours) * time.Hour)
	sr.evictBefore(cutoff)

	n := len(sr.samples)
	if n < s.cfg.MinimumSamples {
		return nil, false
	}

	values := make([]float64, n)
	var sum float64
	minV, maxV := math.Inf(1), math.Inf(-1)
	for i, sm := range sr.samples {
		values[i] = sm.value
		sum += sm.value
		if sm.value < minV {
			minV = sm.value
		}
		if sm.value > maxV {
			maxV = sm.value
		}
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	variance := sq / float64(n-1)
	stddev := math.Sqrt(variance)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	// 95% CI with Student's t at n-1 degrees of freedom.
	margin := TCritical95(n-1) * stddev / math.Sqrt(float64(n))

	return &Baseline{
		MetricName:     metricName,
		Mean:           mean,
		StdDev:         stddev,
		P95:            percentile(sorted, 0.95),
		P99:            percentile(sorted, 0.99),
		Min:            minV,
		Max:            maxV,
		SampleCount:    n,
		ConfidenceLow:  mean - margin,
		ConfidenceHigh: mean + margin,
		EWMAMean:       sr.ewmaMean,
		EWMAStdDev:     math.Sqrt(sr.ewmaVar),
		WindowStart:    sr.samples[0].ts,
		WindowEnd:      sr.samples[n-1].ts,
	}, true
}

// Recent returns up to n of the newest samples, oldest first. Used by the
// regression detector's change-point split.
func (s *Store) Recent(metricName string, n int) []float64 {
	s.mu.RLock()
	sr, ok := s.series[metricName]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()

	total := len(sr.samples)
	if n > total {
		n = total
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = sr.samples[total-n+i].value
	}
	return out
}

// SampleCount reports the live sample count for a metric.
func (s *Store) SampleCount(metricName string) int {
	s.mu.RLock()
	sr, ok := s.series[metricName]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.samples)
}

// Reset discards all samples for a metric.
func (s *Store) Reset(metricName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, metricName)
}

// Metrics lists the tracked metric names.
func (s *Store) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.series))
	for name := range s.series {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) getOrCreate(name string) *series {
	s.mu.RLock()
	sr, ok := s.series[name]
	s.mu.RUnlock()
	if ok {
		return sr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok = s.series[name]; ok {
		return sr
	}
	sr = &series{}
	s.series[name] = sr
	return sr
}

func (sr *series) evictBefore(cutoff time.Time) {
	idx := 0
	for idx < len(sr.samples) && sr.samples[idx].ts.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		sr.samples = sr.samples[idx:]
	}
}

// percentile uses nearest-rank interpolation on a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
