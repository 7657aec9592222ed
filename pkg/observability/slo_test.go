package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackerAt(now time.Time) *SLOTracker {
	return NewSLOTracker().WithClock(func() time.Time { return now })
}

func TestSLOTracker_NoObservationsIsCompliant(t *testing.T) {
	tr := trackerAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tr.SetTarget(&SLOTarget{SLOID: "slo-decide", Operation: OpDecide, LatencyP99: time.Second, SuccessRate: 0.999, WindowHours: 24})

	status, err := tr.Status(OpDecide)
	require.NoError(t, err)
	assert.True(t, status.InCompliance)
	assert.Equal(t, 100.0, status.ErrorBudgetLeft)
	assert.Zero(t, status.ObservationCount)
}

func TestSLOTracker_UnknownOperation(t *testing.T) {
	_, err := NewSLOTracker().Status("compile")
	assert.Error(t, err)
}

func TestSLOTracker_CompliantWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := trackerAt(now)
	tr.SetTarget(&SLOTarget{SLOID: "slo-collect", Operation: OpCollect, LatencyP99: 10 * time.Second, SuccessRate: 0.9, WindowHours: 24})

	for i := 0; i < 100; i++ {
		tr.Record(SLOObservation{Operation: OpCollect, Latency: 50 * time.Millisecond, Success: true, Timestamp: now.Add(-time.Minute)})
	}

	status, err := tr.Status(OpCollect)
	require.NoError(t, err)
	assert.True(t, status.InCompliance)
	assert.Equal(t, 1.0, status.CurrentSuccess)
	assert.Equal(t, 100, status.ObservationCount)
	assert.Zero(t, status.BurnRate)
}

func TestSLOTracker_LatencyBreach(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := trackerAt(now)
	tr.SetTarget(&SLOTarget{SLOID: "slo-execute", Operation: OpExecute, LatencyP99: time.Second, SuccessRate: 0.5, WindowHours: 24})

	tr.Record(SLOObservation{Operation: OpExecute, Latency: 5 * time.Second, Success: true, Timestamp: now.Add(-time.Hour)})

	status, err := tr.Status(OpExecute)
	require.NoError(t, err)
	assert.False(t, status.InCompliance, "p99 over target breaks the SLO even with full success")
}

func TestSLOTracker_BurnRate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := trackerAt(now)
	tr.SetTarget(&SLOTarget{SLOID: "slo-probe", Operation: OpProbe, LatencyP99: time.Minute, SuccessRate: 0.9, WindowHours: 24})

	// 20% failures against a 10% budget burns at 2x.
	for i := 0; i < 10; i++ {
		tr.Record(SLOObservation{Operation: OpProbe, Latency: time.Millisecond, Success: i >= 2, Timestamp: now.Add(-time.Minute)})
	}

	status, err := tr.Status(OpProbe)
	require.NoError(t, err)
	assert.False(t, status.InCompliance)
	assert.InDelta(t, 2.0, status.BurnRate, 1e-9)
	assert.Zero(t, status.ErrorBudgetLeft)
}

func TestSLOTracker_WindowExcludesOldObservations(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := trackerAt(now)
	tr.SetTarget(&SLOTarget{SLOID: "slo-decide", Operation: OpDecide, LatencyP99: time.Second, SuccessRate: 0.99, WindowHours: 1})

	tr.Record(SLOObservation{Operation: OpDecide, Latency: time.Hour, Success: false, Timestamp: now.Add(-2 * time.Hour)})
	tr.Record(SLOObservation{Operation: OpDecide, Latency: time.Millisecond, Success: true, Timestamp: now.Add(-time.Minute)})

	status, err := tr.Status(OpDecide)
	require.NoError(t, err)
	assert.True(t, status.InCompliance)
	assert.Equal(t, 1, status.ObservationCount)
}

func TestDefaultTargets_CoverEveryOperation(t *testing.T) {
	ops := map[string]bool{}
	for _, target := range DefaultTargets() {
		ops[target.Operation] = true
	}
	for _, op := range []string{OpCollect, OpAssess, OpDecide, OpExecute, OpAnalyze, OpProbe} {
		assert.True(t, ops[op], op)
	}
}
