package impact

import (
	"testing"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/baseline"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInstant = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seededStore(t *testing.T, metric string, mean float64, n int) (*baseline.Store, *forensic.FixedClock) {
	t.Helper()
	clock := &forensic.FixedClock{Instant: testInstant}
	cfg := baseline.DefaultConfig()
	cfg.MinimumSamples = 20
	store := baseline.NewStore(cfg, clock)
	for i := 0; i < n; i++ {
		store.Record(metric, mean, clock.Now())
	}
	return store, clock
}

func liveMetric(t *testing.T, name, value string, ts time.Time) *forensic.BusinessMetric {
	t.Helper()
	m, err := forensic.NewBusinessMetric(name, decimal.RequireFromString(value), ts, 0.95)
	require.NoError(t, err)
	m, err = m.WithSource("live", "USD", "")
	require.NoError(t, err)
	return m
}

func TestAssess_NoMetricsYieldsNoneZeroConfidence(t *testing.T) {
	store, clock := seededStore(t, "revenue_per_minute", 1000, 50)
	a := NewAssessor("trading-app", store, nil, clock)

	got, err := a.Assess(nil)
	require.NoError(t, err)
	assert.Equal(t, forensic.ImpactNone, got.ImpactLevel)
	assert.True(t, got.EstimatedLoss.IsZero())
	assert.Zero(t, got.Confidence)
	assert.True(t, got.VerifyIntegrity())
}

func TestAssess_MetricAtBaselineIsNone(t *testing.T) {
	store, clock := seededStore(t, "trading_pnl_per_minute", 1000, 50)
	rules := map[string]MetricRule{
		"trading_pnl_per_minute": {Trigger: forensic.TriggerRevenueLoss, LossPerUnit: decimal.NewFromInt(1)},
	}
	a := NewAssessor("trading-app", store, rules, clock)

	got, err := a.Assess([]*forensic.BusinessMetric{
		liveMetric(t, "trading_pnl_per_minute", "1000.00", clock.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, forensic.ImpactNone, got.ImpactLevel)
	assert.True(t, got.EstimatedLoss.IsZero())
	assert.False(t, got.Confidence == 0, "fresh live metric should carry confidence")
}

func TestAssess_LargeDropIsHighOrWorse(t *testing.T) {
	store, clock := seededStore(t, "trading_pnl_per_minute", 1000, 50)
	rules := map[string]MetricRule{
		"trading_pnl_per_minute": {Trigger: forensic.TriggerRevenueLoss, LossPerUnit: decimal.NewFromInt(1)},
	}
	a := NewAssessor("trading-app", store, rules, clock)

	got, err := a.Assess([]*forensic.BusinessMetric{
		liveMetric(t, "trading_pnl_per_minute", "-9000.00", clock.Now()),
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.ImpactLevel.Rank(), forensic.ImpactHigh.Rank())
	assert.Equal(t, forensic.TriggerRevenueLoss, got.TriggerType)
	assert.True(t, got.EstimatedLoss.Equal(decimal.NewFromInt(10000)),
		"loss is the full $10,000/min deviation, got %s", got.EstimatedLoss)
}

func TestAssess_DominantTriggerWins(t *testing.T) {
	clock := &forensic.FixedClock{Instant: testInstant}
	cfg := baseline.DefaultConfig()
	cfg.MinimumSamples = 20
	store := baseline.NewStore(cfg, clock)
	for i := 0; i < 50; i++ {
		store.Record("trading_pnl_per_minute", 1000, clock.Now())
		store.Record("order_error_count", 1, clock.Now())
	}
	rules := map[string]MetricRule{
		"trading_pnl_per_minute": {Trigger: forensic.TriggerRevenueLoss, LossPerUnit: decimal.NewFromInt(1)},
		"order_error_count":      {Trigger: forensic.TriggerErrorRateSpike, LossPerUnit: decimal.NewFromInt(500)},
	}
	a := NewAssessor("trading-app", store, rules, clock)

	got, err := a.Assess([]*forensic.BusinessMetric{
		liveMetric(t, "trading_pnl_per_minute", "900.00", clock.Now()), // $100 loss
		liveMetric(t, "order_error_count", "21", clock.Now()),          // $10,000 loss
	})
	require.NoError(t, err)
	assert.Equal(t, forensic.TriggerErrorRateSpike, got.TriggerType,
		"trigger follows the largest loss contributor")
}

func TestClassifyImpact_Ladder(t *testing.T) {
	cases := []struct {
		percent float64
		loss    string
		want    forensic.ImpactLevel
	}{
		{0, "0", forensic.ImpactNone},
		{0.5, "50", forensic.ImpactNone},
		{1, "0", forensic.ImpactLow},
		{0, "150", forensic.ImpactLow},
		{5, "0", forensic.ImpactMedium},
		{0, "1000", forensic.ImpactMedium},
		{10, "0", forensic.ImpactHigh},
		{0, "10000", forensic.ImpactHigh},
		{25, "0", forensic.ImpactCritical},
		{0, "100000", forensic.ImpactCritical},
		{50, "0", forensic.ImpactCatastrophic},
		{0, "1000000", forensic.ImpactCatastrophic},
		{2, "1200000", forensic.ImpactCatastrophic},
	}
	for _, c := range cases {
		got := ClassifyImpact(c.percent, decimal.RequireFromString(c.loss))
		assert.Equal(t, c.want, got, "percent=%v loss=%s", c.percent, c.loss)
	}
}

func TestClassifyImpact_MonotoneInLoss(t *testing.T) {
	losses := []int64{0, 99, 100, 999, 1000, 9_999, 10_000, 99_999, 100_000, 999_999, 1_000_000, 5_000_000}
	prev := forensic.ImpactNone
	for _, l := range losses {
		got := ClassifyImpact(0, decimal.NewFromInt(l))
		assert.GreaterOrEqual(t, got.Rank(), prev.Rank(), "loss=%d", l)
		prev = got
	}
}

func TestClassifyImpact_MonotoneInPercent(t *testing.T) {
	prev := forensic.ImpactNone
	for p := 0.0; p <= 60; p += 0.5 {
		got := ClassifyImpact(p, decimal.Zero)
		assert.GreaterOrEqual(t, got.Rank(), prev.Rank(), "percent=%v", p)
		prev = got
	}
}

func TestConfidence_FreshnessDecay(t *testing.T) {
	store, clock := seededStore(t, "trading_pnl_per_minute", 1000, 50)
	rules := map[string]MetricRule{
		"trading_pnl_per_minute": {Trigger: forensic.TriggerRevenueLoss, LossPerUnit: decimal.NewFromInt(1)},
	}
	a := NewAssessor("trading-app", store, rules, clock)

	fresh, err := a.Assess([]*forensic.BusinessMetric{
		liveMetric(t, "trading_pnl_per_minute", "500.00", clock.Now()),
	})
	require.NoError(t, err)

	stale, err := a.Assess([]*forensic.BusinessMetric{
		liveMetric(t, "trading_pnl_per_minute", "500.00", clock.Now().Add(-4*time.Minute)),
	})
	require.NoError(t, err)

	assert.Greater(t, fresh.Confidence, stale.Confidence)

	expired, err := a.Assess([]*forensic.BusinessMetric{
		liveMetric(t, "trading_pnl_per_minute", "500.00", clock.Now().Add(-10*time.Minute)),
	})
	require.NoError(t, err)
	assert.Zero(t, expired.Confidence, "metrics beyond the freshness window carry no weight")
}

func TestAssess_GoodDirectionNotPenalized(t *testing.T) {
	store, clock := seededStore(t, "order_throughput", 500, 50)
	rules := map[string]MetricRule{
		"order_throughput": {Trigger: forensic.TriggerCustomerImpact, LossPerUnit: decimal.NewFromInt(10)},
	}
	a := NewAssessor("trading-app", store, rules, clock)

	got, err := a.Assess([]*forensic.BusinessMetric{
		liveMetric(t, "order_throughput", "900", clock.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, forensic.ImpactNone, got.ImpactLevel, "more throughput is not harm")
	assert.True(t, got.EstimatedLoss.IsZero())
}
