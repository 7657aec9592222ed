package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/analysis"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/baseline"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/collectors/finance"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/collectors/pharma"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/decision"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/health"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/metrics"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/observability"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/regression"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/rollback"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steadyFinance() *finance.Sample {
	return &finance.Sample{
		PnLPerMinute: decimal.NewFromInt(1000),
		LatencyMs:    decimal.NewFromInt(45),
		ErrorCount:   1,
		Throughput:   decimal.NewFromInt(500),
	}
}

func steadyPharma() *pharma.Sample {
	return &pharma.Sample{
		EfficiencyPercent: 98.8,
		Temperature:       21,
		Pressure:          101.3,
		Humidity:          45,
		ParticleCount:     1800,
	}
}

type platform struct {
	orch   *Orchestrator
	log    *evidence.Log
	driver *rollback.SimulatedDriver
	finSrc *finance.SimulatedSource
	phaSrc *pharma.SimulatedSource
}

// newPlatform wires the full pipeline against simulated sources and drivers,
// with baselines pre-established from one hour of steady history.
func newPlatform(t *testing.T, cfg Config, driver *rollback.SimulatedDriver, opts ...Option) *platform {
	t.Helper()

	log := evidence.NewLog()

	finSrc := finance.NewSimulatedSource(1)
	finSrc.Override = steadyFinance()
	finStore := baseline.NewStore(baseline.DefaultConfig(), nil)
	fin := finance.New(finSrc, finStore, finance.DefaultThresholds(), log, nil)

	phaSrc := pharma.NewSimulatedSource(2)
	phaSrc.Override = steadyPharma()
	phaStore := baseline.NewStore(baseline.DefaultConfig(), nil)
	pha := pharma.New(phaSrc, phaStore, pharma.DefaultThresholds(), log, nil)

	ctx := context.Background()
	_, err := fin.EstablishBaseline(ctx, 1)
	require.NoError(t, err)
	_, err = pha.EstablishBaseline(ctx, 1)
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	reg.MustRegister(fin)
	reg.MustRegister(pha)
	manager := metrics.NewManager(reg, log)

	engine, err := decision.NewEngine(decision.DefaultConfig(), log, nil)
	require.NoError(t, err)

	if driver == nil {
		driver = &rollback.SimulatedDriver{}
	}
	executor := rollback.NewExecutor(rollback.SimulatedDrivers(driver), log, nil)
	analyzer := analysis.NewAnalyzer(analysis.DefaultConfig(), log, nil)

	if cfg.DeploymentID == "" {
		cfg.DeploymentID = "trading-app"
	}
	orch, err := New(cfg, manager, engine, executor, analyzer, log, opts...)
	require.NoError(t, err)

	return &platform{orch: orch, log: log, driver: driver, finSrc: finSrc, phaSrc: phaSrc}
}

func eventTypes(t *testing.T, log *evidence.Log, stream string) []string {
	t.Helper()
	events, err := log.Events(stream)
	require.NoError(t, err)
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}

func TestRunCycle_SteadyStateNoRollback(t *testing.T) {
	p := newPlatform(t, Config{}, nil)

	report, err := p.orch.RunCycle(context.Background())
	require.NoError(t, err)

	require.NotNil(t, report.Overall)
	assert.Equal(t, forensic.ImpactNone, report.Overall.ImpactLevel)
	assert.True(t, report.Overall.EstimatedLoss.IsZero())

	require.NotNil(t, report.Verdict)
	assert.False(t, report.Verdict.Decision.RollbackRecommended)
	assert.False(t, report.ExecutionStarted)
	p.orch.wg.Wait()
	assert.Empty(t, p.driver.Executed(), "steady state must never execute a rollback step")

	assert.Contains(t, eventTypes(t, p.log, "decisions"), "decision_made")
	assert.Contains(t, eventTypes(t, p.log, EvidenceStream), "cycle_completed")
}

func TestRunCycle_PnLCollapseRunsBlueGreen(t *testing.T) {
	p := newPlatform(t, Config{}, nil)

	p.finSrc.Override = &finance.Sample{
		PnLPerMinute: decimal.NewFromInt(-9000),
		LatencyMs:    decimal.NewFromInt(45),
		ErrorCount:   1,
		Throughput:   decimal.NewFromInt(500),
	}

	report, err := p.orch.RunCycle(context.Background())
	require.NoError(t, err)

	require.NotNil(t, report.Overall)
	assert.Equal(t, forensic.ImpactHigh, report.Overall.ImpactLevel)
	assert.Equal(t, forensic.UrgencyUrgent, report.Verdict.Decision.Urgency)
	assert.True(t, report.Verdict.Decision.RollbackRecommended)
	assert.True(t, report.ExecutionStarted)

	p.orch.wg.Wait()
	assert.Len(t, p.driver.Executed(), 3, "URGENT at HIGH impact selects blue_green")

	events, err := p.log.Events(rollback.EvidenceStream)
	require.NoError(t, err)
	var finished bool
	for _, ev := range events {
		if ev.EventType == "rollback_finished" {
			finished = true
			assert.Equal(t, string(forensic.ExecutionCompleted), ev.Data.MapVal()["status"].StringVal())
		}
	}
	assert.True(t, finished)
	assert.Contains(t, eventTypes(t, p.log, analysis.EvidenceStream), "post_rollback_report")
}

func TestRunCycle_CombinedCatastropheRunsFullStack(t *testing.T) {
	driver := &rollback.SimulatedDriver{CurrentVersion: "2.4.1", Versions: []string{"2.3.0", "2.4.0", "2.4.1"}}
	p := newPlatform(t, Config{}, driver)

	p.finSrc.Override = &finance.Sample{
		PnLPerMinute: decimal.NewFromInt(-1_199_000),
		LatencyMs:    decimal.NewFromInt(45),
		ErrorCount:   1,
		Throughput:   decimal.NewFromInt(500),
	}
	p.phaSrc.Override = &pharma.Sample{
		EfficiencyPercent: 45,
		Temperature:       30, // outside the validated band
		Pressure:          101.3,
		Humidity:          45,
		ParticleCount:     1800,
	}

	report, err := p.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, forensic.ImpactCatastrophic, report.Overall.ImpactLevel)
	assert.Equal(t, forensic.TriggerComplianceViolation, report.Overall.TriggerType,
		"compliance outranks the costlier revenue trigger")
	assert.Equal(t, forensic.UrgencyEmergency, report.Verdict.Decision.Urgency)
	assert.True(t, report.ExecutionStarted)

	p.orch.wg.Wait()
	assert.GreaterOrEqual(t, len(p.driver.Executed()), 6, "full_stack runs blue_green, database and notification steps")
	assert.Contains(t, eventTypes(t, p.log, analysis.EvidenceStream), "post_rollback_report")
}

func TestRunCycle_SkipsWhileExecutionActive(t *testing.T) {
	driver := &rollback.SimulatedDriver{StepDelay: 100 * time.Millisecond}
	p := newPlatform(t, Config{}, driver)

	p.finSrc.Override = &finance.Sample{
		PnLPerMinute: decimal.NewFromInt(-9000),
		LatencyMs:    decimal.NewFromInt(45),
		ErrorCount:   1,
		Throughput:   decimal.NewFromInt(500),
	}

	first, err := p.orch.RunCycle(context.Background())
	require.NoError(t, err)
	require.True(t, first.ExecutionStarted)
	require.True(t, p.orch.Active())

	second, err := p.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, second.ExecutionStarted)
	assert.True(t, second.SkippedActive)

	p.orch.wg.Wait()
	assert.Contains(t, eventTypes(t, p.log, EvidenceStream), "rollback_skipped_active")
	assert.Len(t, p.driver.Executed(), 3, "only the first verdict executed")
}

type erroringCollector struct{}

func (erroringCollector) Name() string { return "erroring" }

func (erroringCollector) CollectMetrics(ctx context.Context) ([]*forensic.BusinessMetric, error) {
	return nil, errors.New("historian unreachable")
}

func (erroringCollector) CalculateImpact(ctx context.Context, current []*forensic.BusinessMetric) (*forensic.BusinessImpactAssessment, error) {
	return nil, errors.New("historian unreachable")
}

func (erroringCollector) EstablishBaseline(ctx context.Context, hoursBack int) (*metrics.BaselineSummary, error) {
	return nil, errors.New("historian unreachable")
}

func TestRunCycle_NoAssessmentsIsDegradedNotFatal(t *testing.T) {
	log := evidence.NewLog()
	reg := metrics.NewRegistry()
	reg.MustRegister(erroringCollector{})
	manager := metrics.NewManager(reg, log)

	engine, err := decision.NewEngine(decision.DefaultConfig(), log, nil)
	require.NoError(t, err)
	executor := rollback.NewExecutor(rollback.SimulatedDrivers(&rollback.SimulatedDriver{}), log, nil)
	analyzer := analysis.NewAnalyzer(analysis.DefaultConfig(), log, nil)

	orch, err := New(Config{DeploymentID: "trading-app"}, manager, engine, executor, analyzer, log)
	require.NoError(t, err)

	report, err := orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report.Overall)
	assert.Nil(t, report.Verdict)
	assert.Contains(t, eventTypes(t, log, EvidenceStream), "cycle_degraded")
}

func TestRunCycle_ProbeSignalsReachTheDecision(t *testing.T) {
	store := baseline.NewStore(baseline.DefaultConfig(), nil)
	detector := regression.NewDetector(store, regression.DefaultConfig())
	probeReg := health.NewRegistry()
	probeReg.MustRegister("static", health.ProbeFunc(func(ctx context.Context) (*health.CheckResult, error) {
		return health.NewCheckResult(health.ResultSpec{
			Component: "static",
			CheckType: "synthetic",
			Status:    forensic.StatusHealthy,
			Score:     100,
			Severity:  forensic.SeverityInfo,
			Timestamp: time.Now(),
		})
	}))
	probes := health.NewExecutor(probeReg, store, detector, nil)

	p := newPlatform(t, Config{ProbeEvery: 1}, nil, WithHealthExecutor(probes))

	report, err := p.orch.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Probes, 1)

	signals, ok := report.Verdict.Decision.Evidence.MapVal()["health_signals"]
	require.True(t, ok, "probe outcomes must be captured in the decision evidence")
	assert.Equal(t, "HEALTHY", signals.MapVal()["static"].MapVal()["status"].StringVal())
	p.orch.wg.Wait()
}

func TestRun_LoopCyclesAndStopsCleanly(t *testing.T) {
	p := newPlatform(t, Config{Interval: 20 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.orch.Run(ctx) }()

	time.Sleep(90 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, p.orch.Cycles(), int64(2))
}

func TestDrain_CancelsStragglersAfterGrace(t *testing.T) {
	driver := &rollback.SimulatedDriver{StepDelay: 10 * time.Second}
	p := newPlatform(t, Config{ShutdownGrace: 50 * time.Millisecond}, driver)

	p.finSrc.Override = &finance.Sample{
		PnLPerMinute: decimal.NewFromInt(-9000),
		LatencyMs:    decimal.NewFromInt(45),
		ErrorCount:   1,
		Throughput:   decimal.NewFromInt(500),
	}

	report, err := p.orch.RunCycle(context.Background())
	require.NoError(t, err)
	require.True(t, report.ExecutionStarted)

	require.NoError(t, p.orch.drain())

	events, err := p.log.Events(rollback.EvidenceStream)
	require.NoError(t, err)
	var cancelled, finishedCancelled bool
	for _, ev := range events {
		switch ev.EventType {
		case "execution_cancelled":
			cancelled = true
		case "rollback_finished":
			if ev.Data.MapVal()["status"].StringVal() == string(forensic.ExecutionCancelled) {
				finishedCancelled = true
			}
		}
	}
	assert.True(t, cancelled, "the straggler must be cancelled, not failed")
	assert.True(t, finishedCancelled)
}

func TestRun_PanickingCollectorDoesNotKillTheLoop(t *testing.T) {
	// A panic inside a collector is already contained by the metrics manager;
	// this covers the orchestrator's own containment for faults past it.
	p := newPlatform(t, Config{Interval: 10 * time.Millisecond}, nil)

	// Force a panic inside the cycle by breaking an invariant the aggregate
	// path relies on.
	p.orch.manager = nil

	_, err := p.orch.safeCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestAggregate_WorstLevelSummedLossWeightedConfidence(t *testing.T) {
	p := newPlatform(t, Config{}, nil)

	mk := func(level forensic.ImpactLevel, loss int64, conf float64, trigger forensic.TriggerType) *forensic.BusinessImpactAssessment {
		a := &forensic.BusinessImpactAssessment{
			AssessmentID:  uuid.NewString(),
			Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			DeploymentID:  "trading-app",
			ImpactLevel:   level,
			EstimatedLoss: decimal.NewFromInt(loss),
			Confidence:    conf,
			TriggerType:   trigger,
			Evidence:      forensic.Map(map[string]forensic.Value{}),
		}
		require.NoError(t, forensic.SealAssessment(a))
		return a
	}

	overall, err := p.orch.aggregate(map[string]*forensic.BusinessImpactAssessment{
		"finance_trading":      mk(forensic.ImpactHigh, 30_000, 0.9, forensic.TriggerRevenueLoss),
		"pharma_manufacturing": mk(forensic.ImpactMedium, 10_000, 0.5, forensic.TriggerEfficiencyDrop),
	})
	require.NoError(t, err)

	assert.Equal(t, forensic.ImpactHigh, overall.ImpactLevel)
	assert.True(t, overall.EstimatedLoss.Equal(decimal.NewFromInt(40_000)))
	assert.InDelta(t, 0.9*0.75+0.5*0.25, overall.Confidence, 1e-9)
	assert.Equal(t, forensic.TriggerRevenueLoss, overall.TriggerType, "largest loss dominates")
	assert.True(t, overall.VerifyIntegrity())

	// Zero loss everywhere falls back to the mean.
	overall, err = p.orch.aggregate(map[string]*forensic.BusinessImpactAssessment{
		"finance_trading":      mk(forensic.ImpactNone, 0, 0.8, forensic.TriggerRevenueLoss),
		"pharma_manufacturing": mk(forensic.ImpactNone, 0, 0.6, forensic.TriggerEfficiencyDrop),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, overall.Confidence, 1e-9)

	// Compliance outranks cost.
	overall, err = p.orch.aggregate(map[string]*forensic.BusinessImpactAssessment{
		"finance_trading":      mk(forensic.ImpactCatastrophic, 2_000_000, 0.9, forensic.TriggerRevenueLoss),
		"pharma_manufacturing": mk(forensic.ImpactCritical, 150_000, 0.9, forensic.TriggerComplianceViolation),
	})
	require.NoError(t, err)
	assert.Equal(t, forensic.TriggerComplianceViolation, overall.TriggerType)
}

func TestRunCycle_SLOObservationsRecorded(t *testing.T) {
	slo := observability.NewSLOTracker()
	for _, target := range observability.DefaultTargets() {
		slo.SetTarget(target)
	}
	p := newPlatform(t, Config{}, nil, WithSLOTracker(slo))

	_, err := p.orch.RunCycle(context.Background())
	require.NoError(t, err)
	p.orch.wg.Wait()

	status, err := slo.Status(observability.OpCollect)
	require.NoError(t, err)
	assert.Equal(t, 1, status.ObservationCount)
	status, err = slo.Status(observability.OpDecide)
	require.NoError(t, err)
	assert.Equal(t, 1, status.ObservationCount)
}
