package finance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/baseline"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct{}

func (failingSource) Sample(ctx context.Context) (*Sample, error) {
	return nil, errors.New("exchange gateway down")
}

func (failingSource) Historical(ctx context.Context, hoursBack int) ([]*Sample, error) {
	return nil, errors.New("exchange gateway down")
}

func newCollector(t *testing.T, src Source) (*Collector, *forensic.FixedClock) {
	t.Helper()
	clock := &forensic.FixedClock{Instant: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := baseline.DefaultConfig()
	cfg.MinimumSamples = 30
	store := baseline.NewStore(cfg, clock)
	return New(src, store, DefaultThresholds(), nil, clock), clock
}

func TestCollectMetrics_SealsAllQuantities(t *testing.T) {
	c, _ := newCollector(t, NewSimulatedSource(1))

	got, err := c.CollectMetrics(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, m := range got {
		assert.True(t, m.VerifyIntegrity(), m.Name)
		assert.Equal(t, "live", m.Source)
	}
}

func TestCollectMetrics_SourceFailureYieldsEmpty(t *testing.T) {
	clock := &forensic.FixedClock{Instant: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := baseline.NewStore(baseline.DefaultConfig(), clock)
	log := evidence.NewLog(evidence.WithClock(clock))
	c := New(failingSource{}, store, DefaultThresholds(), log, clock)

	got, err := c.CollectMetrics(context.Background())
	require.NoError(t, err, "source failure is degraded output, not an error")
	assert.Empty(t, got)

	events, err := log.Events("metrics")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "collection_failed", events[0].EventType)
}

func steadySample() *Sample {
	return &Sample{
		PnLPerMinute: decimal.NewFromInt(1000),
		LatencyMs:    decimal.NewFromInt(45),
		ErrorCount:   1,
		Throughput:   decimal.NewFromInt(500),
	}
}

func TestCalculateImpact_SteadyStateIsNone(t *testing.T) {
	src := NewSimulatedSource(7)
	src.Override = steadySample()
	c, _ := newCollector(t, src)

	_, err := c.EstablishBaseline(context.Background(), 1)
	require.NoError(t, err)

	got, err := c.CollectMetrics(context.Background())
	require.NoError(t, err)

	a, err := c.CalculateImpact(context.Background(), got)
	require.NoError(t, err)
	assert.Equal(t, forensic.ImpactNone, a.ImpactLevel)
	assert.True(t, a.EstimatedLoss.IsZero())
	assert.True(t, a.VerifyIntegrity())
}

func TestCalculateImpact_PnLCollapseEscalates(t *testing.T) {
	src := NewSimulatedSource(7)
	src.Override = steadySample()
	c, _ := newCollector(t, src)

	_, err := c.EstablishBaseline(context.Background(), 1)
	require.NoError(t, err)

	src.Override = &Sample{
		PnLPerMinute: decimal.NewFromInt(-9000),
		LatencyMs:    decimal.NewFromInt(45),
		ErrorCount:   1,
		Throughput:   decimal.NewFromInt(500),
	}
	got, err := c.CollectMetrics(context.Background())
	require.NoError(t, err)

	a, err := c.CalculateImpact(context.Background(), got)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, a.ImpactLevel.Rank(), forensic.ImpactHigh.Rank())
	assert.True(t, a.EstimatedLoss.GreaterThanOrEqual(decimal.NewFromInt(9000)),
		"loss at least the pnl deviation, got %s", a.EstimatedLoss)
	assert.True(t, a.VerifyIntegrity(), "tier escalation must reseal the record")
}

func TestEstablishBaseline_SeedsAllSeries(t *testing.T) {
	c, _ := newCollector(t, NewSimulatedSource(3))

	summary, err := c.EstablishBaseline(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 120, summary.SampleCount)
	assert.Contains(t, summary.Expected, MetricPnLPerMinute)
	assert.Contains(t, summary.Expected, MetricOrderLatency)
	assert.InDelta(t, 1000, summary.Expected[MetricPnLPerMinute], 60)
}
