package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/baseline"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyProbe(component string) Probe {
	return ProbeFunc(func(ctx context.Context) (*CheckResult, error) {
		return NewCheckResult(ResultSpec{
			Component: component,
			CheckType: "probe",
			Status:    forensic.StatusHealthy,
			Score:     95,
			Severity:  forensic.SeverityInfo,
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		})
	})
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("db", healthyProbe("db")))
	err := reg.Register("db", healthyProbe("db"))
	assert.Error(t, err)
}

func TestExecute_HealthyProbe(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("db", healthyProbe("db"))
	ex := NewExecutor(reg, nil, nil, nil)

	res, err := ex.Execute(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, forensic.StatusHealthy, res.Status)
	assert.True(t, res.VerifyIntegrity())
}

func TestExecute_UnknownProbe(t *testing.T) {
	ex := NewExecutor(NewRegistry(), nil, nil, nil)
	_, err := ex.Execute(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownProbe)
}

func TestExecute_ErrorBecomesCritical(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("flaky", ProbeFunc(func(ctx context.Context) (*CheckResult, error) {
		return nil, errors.New("connection refused")
	}))
	ex := NewExecutor(reg, nil, nil, nil)

	res, err := ex.Execute(context.Background(), "flaky")
	require.NoError(t, err, "probe errors never propagate")
	assert.Equal(t, forensic.StatusCritical, res.Status)
	assert.Equal(t, "connection refused", res.ErrorMessage)
	assert.Zero(t, res.Score)
	assert.True(t, res.VerifyIntegrity())
}

func TestExecute_PanicBecomesCritical(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("bomb", ProbeFunc(func(ctx context.Context) (*CheckResult, error) {
		panic("boom")
	}))
	ex := NewExecutor(reg, nil, nil, nil)

	res, err := ex.Execute(context.Background(), "bomb")
	require.NoError(t, err)
	assert.Equal(t, forensic.StatusCritical, res.Status)
	assert.Contains(t, res.ErrorMessage, "panicked")
}

func TestExecute_TimeoutMarkedCritical(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("slow", ProbeFunc(func(ctx context.Context) (*CheckResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	ex := NewExecutor(reg, nil, nil, nil, WithTimeout(20*time.Millisecond))

	res, err := ex.Execute(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, forensic.StatusCritical, res.Status)
	assert.Equal(t, "timeout", res.ErrorMessage)
}

func TestExecute_CancelledMarkedUnknown(t *testing.T) {
	reg := NewRegistry()
	started := make(chan struct{})
	reg.MustRegister("waiting", ProbeFunc(func(ctx context.Context) (*CheckResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	ex := NewExecutor(reg, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := ex.Execute(ctx, "waiting")
	require.NoError(t, err)
	assert.Equal(t, forensic.StatusUnknown, res.Status)
	assert.Equal(t, "cancelled", res.ErrorMessage)
}

func TestExecuteAll_RunsEveryProbe(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"db", "cache", "queue"} {
		reg.MustRegister(name, healthyProbe(name))
	}
	ex := NewExecutor(reg, nil, nil, nil)

	results := ex.ExecuteAll(context.Background())
	assert.Len(t, results, 3)
	for name, res := range results {
		assert.Equal(t, forensic.StatusHealthy, res.Status, name)
	}
}

func TestExecutePhased_LaterPhasesRunAfterEarlier(t *testing.T) {
	reg := NewRegistry()
	order := make(chan string, 4)
	mk := func(name string) Probe {
		return ProbeFunc(func(ctx context.Context) (*CheckResult, error) {
			order <- name
			return healthyProbe(name).Execute(ctx)
		})
	}
	reg.MustRegister("infra_a", mk("infra_a"))
	reg.MustRegister("infra_b", mk("infra_b"))
	reg.MustRegister("app", mk("app"))
	ex := NewExecutor(reg, nil, nil, nil)

	results := ex.ExecutePhased(context.Background(), [][]string{
		{"infra_a", "infra_b"},
		{"app"},
	})
	require.Len(t, results, 3)
	close(order)

	var seen []string
	for name := range order {
		seen = append(seen, name)
	}
	require.Len(t, seen, 3)
	assert.Equal(t, "app", seen[2], "phase two starts after phase one finished")
}

func TestExecute_FeedsBaselinesAndEvidence(t *testing.T) {
	clock := &forensic.FixedClock{Instant: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := baseline.NewStore(baseline.DefaultConfig(), clock)
	log := evidence.NewLog(evidence.WithClock(clock))

	reg := NewRegistry()
	reg.MustRegister("db", healthyProbe("db"))
	ex := NewExecutor(reg, store, nil, log, WithClock(clock))

	_, err := ex.Execute(context.Background(), "db")
	require.NoError(t, err)

	assert.Equal(t, 1, store.SampleCount("db.duration_ms"))
	assert.Equal(t, 1, store.SampleCount("db.score"))

	events, err := log.Events(EvidenceStream)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "health_check_completed", events[0].EventType)
}

func TestTamperedResultDetected(t *testing.T) {
	res, err := NewCheckResult(ResultSpec{
		Component: "trading_engine",
		CheckType: "probe",
		Status:    forensic.StatusHealthy,
		Score:     98,
		Severity:  forensic.SeverityInfo,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, res.VerifyIntegrity())

	res.Score = 10 // post-hoc mutation
	assert.False(t, res.VerifyIntegrity())

	// Detection is itself recorded as evidence.
	clock := &forensic.FixedClock{Instant: time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)}
	log := evidence.NewLog(evidence.WithClock(clock))
	_, err = log.Append(context.Background(), EvidenceStream, "integrity_violation_detected", forensic.Map(map[string]forensic.Value{
		"check_id":      forensic.String(res.CheckID),
		"component":     forensic.String(res.Component),
		"recorded_hash": forensic.String(res.Hash),
	}))
	require.NoError(t, err)

	report, err := log.VerifyChain(EvidenceStream)
	require.NoError(t, err)
	assert.True(t, report.Intact)
}

func TestSystemResourcesProbe(t *testing.T) {
	p := &SystemResourcesProbe{Clock: &forensic.FixedClock{Instant: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}}
	res, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "system_resources", res.Component)
	assert.Greater(t, res.Metrics["goroutines"], 0.0)
	assert.True(t, res.VerifyIntegrity())
}

func TestEvidenceSinkProbe_DegradedOnSinkFailure(t *testing.T) {
	sink := evidence.NewMemorySink()
	log := evidence.NewLog(evidence.WithSink(sink))
	_, err := log.Append(context.Background(), "s", "ok", forensic.Null())
	require.NoError(t, err)

	sink.FailWith(evidence.ErrSinkUnavailable)
	_, err = log.Append(context.Background(), "s", "degraded", forensic.Null())
	require.NoError(t, err)

	p := &EvidenceSinkProbe{Log: log}
	res, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forensic.StatusDegraded, res.Status)
	assert.Greater(t, res.Metrics["failed_persists"], 0.0)
}
