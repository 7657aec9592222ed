// Package pharma implements the manufacturing-line business metric
// collector. It watches line efficiency against a regulatory floor and the
// environmental parameters (temperature, pressure, humidity, particle count)
// against their validated acceptable ranges; an out-of-range parameter is a
// compliance violation, not merely a performance problem.
package pharma

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/baseline"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/impact"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/metrics"
	"github.com/shopspring/decimal"
)

// CollectorName is the registry key for this collector.
const CollectorName = "pharma_manufacturing"

// Metric names emitted by this collector.
const (
	MetricEfficiency    = "manufacturing_efficiency"
	MetricTemperature   = "reactor_temperature_celsius"
	MetricPressure      = "reactor_pressure_kpa"
	MetricHumidity      = "cleanroom_humidity_percent"
	MetricParticleCount = "cleanroom_particle_count"
)

// Range is a validated acceptable band for an environmental parameter.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v is inside the band.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Thresholds carries the line's regulatory and pricing parameters.
type Thresholds struct {
	// EfficiencyFloorPercent is the minimum acceptable line efficiency.
	EfficiencyFloorPercent float64
	// LossPerEfficiencyPoint prices each percentage point below baseline.
	LossPerEfficiencyPoint decimal.Decimal
	// ComplianceViolationLoss is the fixed exposure booked per parameter
	// excursion (investigation, batch quarantine).
	ComplianceViolationLoss decimal.Decimal
	// ParameterRanges maps environmental metric names to validated bands.
	ParameterRanges map[string]Range
}

// DefaultThresholds are the stock manufacturing-line parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EfficiencyFloorPercent:  98.0,
		LossPerEfficiencyPoint:  decimal.NewFromInt(20_000),
		ComplianceViolationLoss: decimal.NewFromInt(150_000),
		ParameterRanges: map[string]Range{
			MetricTemperature:   {Min: 18, Max: 24},
			MetricPressure:      {Min: 95, Max: 110},
			MetricHumidity:      {Min: 30, Max: 60},
			MetricParticleCount: {Min: 0, Max: 3520},
		},
	}
}

// Sample is one raw observation from the line's historian.
type Sample struct {
	EfficiencyPercent float64
	Temperature       float64
	Pressure          float64
	Humidity          float64
	ParticleCount     float64
}

// Source supplies line observations.
type Source interface {
	Sample(ctx context.Context) (*Sample, error)
	Historical(ctx context.Context, hoursBack int) ([]*Sample, error)
}

// Collector is the pharma industry integration.
type Collector struct {
	source     Source
	baselines  *baseline.Store
	assessor   *impact.Assessor
	thresholds Thresholds
	log        *evidence.Log
	clock      forensic.Clock
	logger     *slog.Logger
}

// New wires the collector. The evidence log may be nil in tests.
func New(source Source, baselines *baseline.Store, thresholds Thresholds, log *evidence.Log, clock forensic.Clock) *Collector {
	if clock == nil {
		clock = forensic.WallClock{}
	}
	rules := map[string]impact.MetricRule{
		MetricEfficiency: {Trigger: forensic.TriggerEfficiencyDrop, LossPerUnit: thresholds.LossPerEfficiencyPoint},
	}
	return &Collector{
		source:     source,
		baselines:  baselines,
		assessor:   impact.NewAssessor(CollectorName, baselines, rules, clock),
		thresholds: thresholds,
		log:        log,
		clock:      clock,
		logger:     slog.Default().With("collector", CollectorName),
	}
}

// Name implements metrics.Collector.
func (c *Collector) Name() string { return CollectorName }

// CollectMetrics samples the line and seals one metric per quantity. Source
// failure yields an empty set plus an evidence event.
func (c *Collector) CollectMetrics(ctx context.Context) ([]*forensic.BusinessMetric, error) {
	sample, err := c.source.Sample(ctx)
	if err != nil {
		c.logger.Warn("sample failed", "error", err)
		if c.log != nil {
			_, _ = c.log.Append(ctx, metrics.EvidenceStream, "collection_failed", forensic.Map(map[string]forensic.Value{
				"collector": forensic.String(CollectorName),
				"error":     forensic.String(err.Error()),
			}))
		}
		return nil, nil
	}

	now := c.clock.Now()
	out := make([]*forensic.BusinessMetric, 0, 5)
	for _, spec := range []struct {
		name  string
		value float64
		unit  string
	}{
		{MetricEfficiency, sample.EfficiencyPercent, "percent"},
		{MetricTemperature, sample.Temperature, "celsius"},
		{MetricPressure, sample.Pressure, "kpa"},
		{MetricHumidity, sample.Humidity, "percent"},
		{MetricParticleCount, sample.ParticleCount, "per_m3"},
	} {
		m, err := forensic.NewBusinessMetric(spec.name, decimal.NewFromFloat(spec.value), now, 0.95)
		if err != nil {
			return nil, fmt.Errorf("pharma: seal metric %s: %w", spec.name, err)
		}
		m, err = m.WithSource("live", "", spec.unit)
		if err != nil {
			return nil, fmt.Errorf("pharma: seal metric %s: %w", spec.name, err)
		}
		out = append(out, m)
		c.baselines.Record(spec.name, spec.value, now)
	}
	return out, nil
}

// CalculateImpact prices the efficiency deviation, then overlays compliance:
// any parameter outside its validated range, or efficiency under the floor,
// forces at least CRITICAL with a COMPLIANCE_VIOLATION trigger.
func (c *Collector) CalculateImpact(ctx context.Context, current []*forensic.BusinessMetric) (*forensic.BusinessImpactAssessment, error) {
	assessment, err := c.assessor.Assess(current)
	if err != nil {
		return nil, err
	}

	violations := c.violations(current)
	if len(violations) == 0 {
		return assessment, nil
	}

	loss := assessment.EstimatedLoss
	for range violations {
		loss = loss.Add(c.thresholds.ComplianceViolationLoss)
	}
	assessment.EstimatedLoss = loss
	assessment.TriggerType = forensic.TriggerComplianceViolation
	if assessment.ImpactLevel.Rank() < forensic.ImpactCritical.Rank() {
		assessment.ImpactLevel = forensic.ImpactCritical
	}
	assessment.Recommendation = fmt.Sprintf("compliance excursion on %v: quarantine affected batches and rollback", violations)

	violationSeq := make([]forensic.Value, 0, len(violations))
	for _, v := range violations {
		violationSeq = append(violationSeq, forensic.String(v))
	}
	assessment.Evidence = forensic.Map(map[string]forensic.Value{
		"base_evidence":         assessment.Evidence,
		"compliance_violations": forensic.Seq(violationSeq...),
	})
	if err := forensic.SealAssessment(assessment); err != nil {
		return nil, fmt.Errorf("pharma: reseal assessment: %w", err)
	}
	return assessment, nil
}

// violations lists the metrics breaching their validated bands, plus the
// efficiency floor.
func (c *Collector) violations(current []*forensic.BusinessMetric) []string {
	var out []string
	for _, m := range current {
		v, _ := m.Value.Float64()
		if m.Name == MetricEfficiency {
			if v < c.thresholds.EfficiencyFloorPercent {
				out = append(out, MetricEfficiency)
			}
			continue
		}
		if band, ok := c.thresholds.ParameterRanges[m.Name]; ok && !band.Contains(v) {
			out = append(out, m.Name)
		}
	}
	return out
}

// EstablishBaseline replays the trailing hoursBack hours of line history into
// the baseline store, one sample per minute.
func (c *Collector) EstablishBaseline(ctx context.Context, hoursBack int) (*metrics.BaselineSummary, error) {
	history, err := c.source.Historical(ctx, hoursBack)
	if err != nil {
		return nil, fmt.Errorf("pharma: fetch history: %w", err)
	}

	now := c.clock.Now()
	ts := now.Add(-time.Duration(len(history)) * time.Minute)
	for _, s := range history {
		c.baselines.Record(MetricEfficiency, s.EfficiencyPercent, ts)
		c.baselines.Record(MetricTemperature, s.Temperature, ts)
		c.baselines.Record(MetricPressure, s.Pressure, ts)
		c.baselines.Record(MetricHumidity, s.Humidity, ts)
		c.baselines.Record(MetricParticleCount, s.ParticleCount, ts)
		ts = ts.Add(time.Minute)
	}

	expected := map[string]float64{}
	for _, name := range []string{MetricEfficiency, MetricTemperature, MetricPressure, MetricHumidity, MetricParticleCount} {
		if b, ok := c.baselines.Baseline(name); ok {
			expected[name] = b.Mean
		}
	}
	return &metrics.BaselineSummary{
		Collector:   CollectorName,
		WindowHours: hoursBack,
		Established: now,
		SampleCount: len(history),
		Expected:    expected,
	}, nil
}
