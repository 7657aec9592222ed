package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"golang.org/x/sync/errgroup"
)

// EvidenceStream is where collection outcomes are recorded.
const EvidenceStream = "metrics"

// CollectionResult is the outcome of one collector's cycle contribution.
// Err is set when collection or impact calculation failed; the assessment is
// nil in that case and the cycle carries on with the collectors that worked.
type CollectionResult struct {
	Collector  string
	Metrics    []*forensic.BusinessMetric
	Assessment *forensic.BusinessImpactAssessment
	Duration   time.Duration
	Err        error
}

// Manager drives the registered collectors. Each collector runs under a hard
// timeout with panic isolation; a wedged or crashing collector yields an
// errored CollectionResult instead of taking the cycle down.
type Manager struct {
	registry *Registry
	log      *evidence.Log
	timeout  time.Duration
	clock    forensic.Clock
	logger   *slog.Logger
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithTimeout overrides the per-collector timeout.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

// WithClock overrides the clock for testing.
func WithClock(c forensic.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithLogger overrides the default logger.
func WithLogger(lg *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = lg }
}

// NewManager wires the manager. The evidence log may be nil in tests.
func NewManager(reg *Registry, log *evidence.Log, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: reg,
		log:      log,
		timeout:  DefaultCollectionTimeout,
		clock:    forensic.WallClock{},
		logger:   slog.Default().With("component", "metrics"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CollectAll runs every registered collector concurrently and returns one
// result per collector, keyed by name.
func (m *Manager) CollectAll(ctx context.Context) map[string]*CollectionResult {
	results := make(map[string]*CollectionResult)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.registry.All() {
		c := c
		g.Go(func() error {
			r := m.Collect(gctx, c)
			mu.Lock()
			results[c.Name()] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Collect runs one collector end to end: sample metrics, verify their seals,
// price the impact, and record the outcome as evidence.
func (m *Manager) Collect(ctx context.Context, c Collector) *CollectionResult {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.clock.Now()
	result := &CollectionResult{Collector: c.Name()}

	metrics, err := m.safeCollect(cctx, c)
	if err != nil {
		result.Err = fmt.Errorf("metrics: collect %s: %w", c.Name(), err)
		m.record(ctx, result, m.clock.Now().Sub(start))
		return result
	}
	for _, metric := range metrics {
		if !metric.VerifyIntegrity() {
			result.Err = fmt.Errorf("metrics: collector %s produced tampered metric %s", c.Name(), metric.Name)
			m.record(ctx, result, m.clock.Now().Sub(start))
			return result
		}
	}
	result.Metrics = metrics

	assessment, err := m.safeAssess(cctx, c, metrics)
	if err != nil {
		result.Err = fmt.Errorf("metrics: assess %s: %w", c.Name(), err)
		m.record(ctx, result, m.clock.Now().Sub(start))
		return result
	}
	result.Assessment = assessment

	m.record(ctx, result, m.clock.Now().Sub(start))
	return result
}

func (m *Manager) safeCollect(ctx context.Context, c Collector) (out []*forensic.BusinessMetric, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("collector panicked: %v", r)
		}
	}()
	return c.CollectMetrics(ctx)
}

func (m *Manager) safeAssess(ctx context.Context, c Collector, metrics []*forensic.BusinessMetric) (out *forensic.BusinessImpactAssessment, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("collector panicked: %v", r)
		}
	}()
	return c.CalculateImpact(ctx, metrics)
}

func (m *Manager) record(ctx context.Context, r *CollectionResult, elapsed time.Duration) {
	r.Duration = elapsed
	if m.log == nil {
		return
	}

	if r.Err != nil {
		m.logger.Warn("collection failed", "collector", r.Collector, "error", r.Err)
		_, _ = m.log.Append(ctx, EvidenceStream, "collection_failed", forensic.Map(map[string]forensic.Value{
			"collector":   forensic.String(r.Collector),
			"error":       forensic.String(r.Err.Error()),
			"duration_ms": forensic.Float(float64(elapsed.Microseconds()) / 1000),
		}))
		return
	}

	data := map[string]forensic.Value{
		"collector":    forensic.String(r.Collector),
		"metric_count": forensic.Int(int64(len(r.Metrics))),
		"duration_ms":  forensic.Float(float64(elapsed.Microseconds()) / 1000),
	}
	if r.Assessment != nil {
		data["assessment_id"] = forensic.String(r.Assessment.AssessmentID)
		data["impact_level"] = forensic.String(string(r.Assessment.ImpactLevel))
		data["estimated_loss"] = forensic.Number(r.Assessment.EstimatedLoss.String())
		data["forensic_hash"] = forensic.String(r.Assessment.ForensicHash)
	}
	_, _ = m.log.Append(ctx, EvidenceStream, "collection_completed", forensic.Map(data))
}
