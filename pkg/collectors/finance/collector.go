// Package finance implements the trading-platform business metric collector.
// It samples P&L, order latency, error counts and throughput from a pluggable
// source, prices deviations with the trading desk's loss rates, and escalates
// impact by the revenue-loss-per-minute tiers.
package finance

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
const CollectorName = "finance_trading"

// Metric names emitted by this collector.
const (
	MetricPnLPerMinute = "trading_pnl_per_minute"
	MetricOrderLatency = "order_execution_time_ms"
	MetricErrorCount   = "order_error_count"
	MetricThroughput   = "order_throughput"
)

// Thresholds carries the trading desk's loss pricing.
type Thresholds struct {
	// Revenue-loss-per-minute tiers. Crossing a tier escalates the impact
	// level to at least the tier's classification.
	RevenueLossPerMinuteCatastrophic decimal.Decimal
	RevenueLossPerMinuteCritical     decimal.Decimal
	RevenueLossPerMinuteHigh         decimal.Decimal
	RevenueLossPerMinuteMedium       decimal.Decimal

	// LatencyCostPerMs prices each millisecond of order latency above
	// baseline.
	LatencyCostPerMs decimal.Decimal
	// ErrorCostPerFailure prices each failed order.
	ErrorCostPerFailure decimal.Decimal
}

// DefaultThresholds are the stock trading-desk rates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RevenueLossPerMinuteCatastrophic: decimal.NewFromInt(100_000),
		RevenueLossPerMinuteCritical:     decimal.NewFromInt(50_000),
		RevenueLossPerMinuteHigh:         decimal.NewFromInt(10_000),
		RevenueLossPerMinuteMedium:       decimal.NewFromInt(1_000),
		LatencyCostPerMs:                 decimal.NewFromInt(50),
		ErrorCostPerFailure:              decimal.NewFromInt(500),
	}
}

// Sample is one raw observation from the trading platform.
type Sample struct {
	PnLPerMinute decimal.Decimal
	LatencyMs    decimal.Decimal
	ErrorCount   int64
	Throughput   decimal.Decimal
}

// Source supplies trading-platform observations. Implementations wrap the
// live platform API or a simulation.
type Source interface {
	Sample(ctx context.Context) (*Sample, error)
	// Historical returns per-minute samples for the trailing hoursBack
	// hours, oldest first.
	Historical(ctx context.Context, hoursBack int) ([]*Sample, error)
}

// Collector is the finance industry integration.
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
		MetricPnLPerMinute: {Trigger: forensic.TriggerRevenueLoss, LossPerUnit: decimal.NewFromInt(1)},
		MetricOrderLatency: {Trigger: forensic.TriggerLatencyDegradation, LossPerUnit: thresholds.LatencyCostPerMs},
		MetricErrorCount:   {Trigger: forensic.TriggerErrorRateSpike, LossPerUnit: thresholds.ErrorCostPerFailure},
		MetricThroughput:   {Trigger: forensic.TriggerCustomerImpact, LossPerUnit: decimal.NewFromInt(10)},
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

// CollectMetrics samples the platform and seals one metric per observed
// quantity. Source failure yields an empty set and an evidence event, never
// an error to the caller's cycle.
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
	out := make([]*forensic.BusinessMetric, 0, 4)
	for _, spec := range []struct {
		name     string
		value    decimal.Decimal
		currency string
		unit     string
	}{
		{MetricPnLPerMinute, sample.PnLPerMinute, "USD", "per_minute"},
		{MetricOrderLatency, sample.LatencyMs, "", "ms"},
		{MetricErrorCount, decimal.NewFromInt(sample.ErrorCount), "", "count"},
		{MetricThroughput, sample.Throughput, "", "orders_per_minute"},
	} {
		m, err := forensic.NewBusinessMetric(spec.name, spec.value, now, 0.95)
		if err != nil {
			return nil, fmt.Errorf("finance: seal metric %s: %w", spec.name, err)
		}
		m, err = m.WithSource("live", spec.currency, spec.unit)
		if err != nil {
			return nil, fmt.Errorf("finance: seal metric %s: %w", spec.name, err)
		}
		out = append(out, m)
		v, _ := spec.value.Float64()
		c.baselines.Record(spec.name, v, now)
	}
	return out, nil
}

// CalculateImpact prices deviations and classifies by the desk's loss tiers.
// Percent change against a near-zero P&L baseline is meaningless, so the
// monetary tiers are authoritative for this collector: the level is the
// worse of the per-minute tier and the absolute-loss ladder.
func (c *Collector) CalculateImpact(ctx context.Context, current []*forensic.BusinessMetric) (*forensic.BusinessImpactAssessment, error) {
	assessment, err := c.assessor.Assess(current)
	if err != nil {
		return nil, err
	}

	level := forensic.MaxImpact(c.tierLevel(assessment.EstimatedLoss), impact.ClassifyImpact(0, assessment.EstimatedLoss))
	if level != assessment.ImpactLevel {
		assessment.ImpactLevel = level
		if err := forensic.SealAssessment(assessment); err != nil {
			return nil, fmt.Errorf("finance: reseal assessment: %w", err)
		}
	}
	return assessment, nil
}

// tierLevel maps per-minute revenue loss onto the desk's tiers.
func (c *Collector) tierLevel(loss decimal.Decimal) forensic.ImpactLevel {
	switch {
	case loss.GreaterThanOrEqual(c.thresholds.RevenueLossPerMinuteCatastrophic):
		return forensic.ImpactCatastrophic
	case loss.GreaterThanOrEqual(c.thresholds.RevenueLossPerMinuteCritical):
		return forensic.ImpactCritical
	case loss.GreaterThanOrEqual(c.thresholds.RevenueLossPerMinuteHigh):
		return forensic.ImpactHigh
	case loss.GreaterThanOrEqual(c.thresholds.RevenueLossPerMinuteMedium):
		return forensic.ImpactMedium
	default:
		return forensic.ImpactNone
	}
}

// EstablishBaseline replays the trailing hoursBack hours of history into the
// baseline store, one sample per minute.
func (c *Collector) EstablishBaseline(ctx context.Context, hoursBack int) (*metrics.BaselineSummary, error) {
	history, err := c.source.Historical(ctx, hoursBack)
	if err != nil {
		return nil, fmt.Errorf("finance: fetch history: %w", err)
	}

	now := c.clock.Now()
	ts := now.Add(-time.Duration(len(history)) * time.Minute)
	for _, s := range history {
		pnl, _ := s.PnLPerMinute.Float64()
		lat, _ := s.LatencyMs.Float64()
		thr, _ := s.Throughput.Float64()
		c.baselines.Record(MetricPnLPerMinute, pnl, ts)
		c.baselines.Record(MetricOrderLatency, lat, ts)
		c.baselines.Record(MetricErrorCount, float64(s.ErrorCount), ts)
		c.baselines.Record(MetricThroughput, thr, ts)
		ts = ts.Add(time.Minute)
	}

	expected := map[string]float64{}
	for _, name := range []string{MetricPnLPerMinute, MetricOrderLatency, MetricErrorCount, MetricThroughput} {
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
