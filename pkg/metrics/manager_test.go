package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	name       string
	metrics    []*forensic.BusinessMetric
	collectErr error
	panics     bool
	block      bool
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) CollectMetrics(ctx context.Context) ([]*forensic.BusinessMetric, error) {
	if f.panics {
		panic("collector exploded")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	return f.metrics, nil
}

func (f *fakeCollector) CalculateImpact(ctx context.Context, metrics []*forensic.BusinessMetric) (*forensic.BusinessImpactAssessment, error) {
	a := &forensic.BusinessImpactAssessment{
		AssessmentID:  uuid.NewString(),
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DeploymentID:  f.name,
		ImpactLevel:   forensic.ImpactNone,
		EstimatedLoss: decimal.Zero,
		Confidence:    0.9,
		TriggerType:   forensic.TriggerRevenueLoss,
		Evidence:      forensic.Map(map[string]forensic.Value{}),
	}
	if err := forensic.SealAssessment(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (f *fakeCollector) EstablishBaseline(ctx context.Context, hoursBack int) (*BaselineSummary, error) {
	return &BaselineSummary{Collector: f.name, WindowHours: hoursBack}, nil
}

func sealedMetric(t *testing.T, name string, value string) *forensic.BusinessMetric {
	t.Helper()
	m, err := forensic.NewBusinessMetric(name, decimal.RequireFromString(value),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), 0.95)
	require.NoError(t, err)
	return m
}

func TestRegistry_DuplicateCollectorRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeCollector{name: "finance"}))
	assert.Error(t, reg.Register(&fakeCollector{name: "finance"}))
}

func TestCollect_HappyPath(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&fakeCollector{
		name:    "finance",
		metrics: []*forensic.BusinessMetric{sealedMetric(t, "revenue_per_minute", "1250.50")},
	})
	log := evidence.NewLog()
	m := NewManager(reg, log)

	results := m.CollectAll(context.Background())
	require.Len(t, results, 1)
	r := results["finance"]
	require.NoError(t, r.Err)
	assert.Len(t, r.Metrics, 1)
	require.NotNil(t, r.Assessment)
	assert.True(t, r.Assessment.VerifyIntegrity())

	events, err := log.Events(EvidenceStream)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "collection_completed", events[0].EventType)
}

func TestCollect_ErrorIsolated(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&fakeCollector{name: "broken", collectErr: errors.New("exchange down")})
	reg.MustRegister(&fakeCollector{
		name:    "finance",
		metrics: []*forensic.BusinessMetric{sealedMetric(t, "revenue_per_minute", "1000")},
	})
	m := NewManager(reg, nil)

	results := m.CollectAll(context.Background())
	require.Len(t, results, 2)
	assert.Error(t, results["broken"].Err)
	assert.NoError(t, results["finance"].Err, "one failing collector must not poison the rest")
}

func TestCollect_PanicIsolated(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&fakeCollector{name: "bomb", panics: true})
	m := NewManager(reg, nil)

	results := m.CollectAll(context.Background())
	require.Len(t, results, 1)
	require.Error(t, results["bomb"].Err)
	assert.Contains(t, results["bomb"].Err.Error(), "panicked")
}

func TestCollect_TimeoutEnforced(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&fakeCollector{name: "wedged", block: true})
	m := NewManager(reg, nil, WithTimeout(20*time.Millisecond))

	start := time.Now()
	results := m.CollectAll(context.Background())
	require.Error(t, results["wedged"].Err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCollect_TamperedMetricRejected(t *testing.T) {
	tampered := sealedMetric(t, "revenue_per_minute", "1000")
	tampered.Value = decimal.RequireFromString("99999")

	reg := NewRegistry()
	reg.MustRegister(&fakeCollector{name: "finance", metrics: []*forensic.BusinessMetric{tampered}})
	log := evidence.NewLog()
	m := NewManager(reg, log)

	results := m.CollectAll(context.Background())
	require.Error(t, results["finance"].Err)
	assert.Contains(t, results["finance"].Err.Error(), "tampered")

	events, err := log.Events(EvidenceStream)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "collection_failed", events[0].EventType)
}
