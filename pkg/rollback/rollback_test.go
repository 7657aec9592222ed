package rollback

import (
	"context"
	"testing"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decisionFor(t *testing.T, urgency forensic.Urgency, level forensic.ImpactLevel) *forensic.RollbackDecision {
	t.Helper()
	a := &forensic.BusinessImpactAssessment{
		AssessmentID:  uuid.NewString(),
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DeploymentID:  "trading-app",
		ImpactLevel:   level,
		EstimatedLoss: decimal.NewFromInt(50_000),
		Confidence:    0.9,
		TriggerType:   forensic.TriggerRevenueLoss,
		Evidence:      forensic.Map(map[string]forensic.Value{}),
	}
	require.NoError(t, forensic.SealAssessment(a))
	d := &forensic.RollbackDecision{
		DecisionID:          uuid.NewString(),
		Timestamp:           a.Timestamp,
		RollbackRecommended: true,
		Urgency:             urgency,
		Assessment:          a,
		Justification:       "test decision",
		Evidence:            forensic.Map(map[string]forensic.Value{}),
		DecisionMaker:       forensic.DecisionMakerAutomated,
	}
	require.NoError(t, forensic.SealDecision(d))
	return d
}

func TestSelectStrategy(t *testing.T) {
	cases := []struct {
		urgency forensic.Urgency
		level   forensic.ImpactLevel
		want    string
	}{
		{forensic.UrgencyEmergency, forensic.ImpactCatastrophic, StrategyFullStack},
		{forensic.UrgencyEmergency, forensic.ImpactCritical, StrategyBlueGreen},
		{forensic.UrgencyImmediate, forensic.ImpactCritical, StrategyBlueGreen},
		{forensic.UrgencyUrgent, forensic.ImpactHigh, StrategyBlueGreen},
		{forensic.UrgencyHigh, forensic.ImpactMedium, StrategyRolling},
		{forensic.UrgencyMedium, forensic.ImpactLow, StrategyRolling},
	}
	for _, c := range cases {
		got := SelectStrategy(c.urgency, c.level)
		assert.Equal(t, c.want, got.Name, "urgency=%s level=%s", c.urgency, c.level)
	}
}

func TestExecution_LegalLifecycle(t *testing.T) {
	exec, err := NewExecution(decisionFor(t, forensic.UrgencyUrgent, forensic.ImpactHigh), "trading-app", StrategyRolling, nil)
	require.NoError(t, err)
	assert.Equal(t, forensic.ExecutionPending, exec.Status())

	require.NoError(t, exec.Transition(forensic.ExecutionInProgress))
	require.NoError(t, exec.Transition(forensic.ExecutionCompleted))
	assert.False(t, exec.EndTime().IsZero())
	assert.True(t, !exec.EndTime().Before(exec.StartTime()))
}

func TestExecution_IllegalTransitionMarksTampered(t *testing.T) {
	exec, err := NewExecution(decisionFor(t, forensic.UrgencyUrgent, forensic.ImpactHigh), "trading-app", StrategyRolling, nil)
	require.NoError(t, err)

	err = exec.Transition(forensic.ExecutionCompleted)
	require.Error(t, err, "PENDING -> COMPLETED is not a legal edge")
	assert.True(t, exec.Tampered())

	err = exec.Transition(forensic.ExecutionInProgress)
	assert.ErrorIs(t, err, ErrTampered, "a tampered record accepts no further transitions")

	timeline := exec.Timeline()
	last := timeline[len(timeline)-1]
	assert.Equal(t, "invariant_violation", last.EventType)
}

func TestExecution_TerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []forensic.ExecutionStatus{
		forensic.ExecutionCompleted, forensic.ExecutionFailed, forensic.ExecutionCancelled,
	} {
		exec, err := NewExecution(decisionFor(t, forensic.UrgencyUrgent, forensic.ImpactHigh), "trading-app", StrategyRolling, nil)
		require.NoError(t, err)
		require.NoError(t, exec.Transition(forensic.ExecutionInProgress))
		require.NoError(t, exec.Transition(terminal))
		assert.Error(t, exec.Transition(forensic.ExecutionInProgress), string(terminal))
	}
}

func TestExecution_TimelineChainVerifies(t *testing.T) {
	exec, err := NewExecution(decisionFor(t, forensic.UrgencyUrgent, forensic.ImpactHigh), "trading-app", StrategyRolling, nil)
	require.NoError(t, err)
	require.NoError(t, exec.Transition(forensic.ExecutionInProgress))
	require.NoError(t, exec.RecordStep(StepRecord{StepName: "issue_rollback", Success: true, Data: forensic.Null()}))
	require.NoError(t, exec.Transition(forensic.ExecutionCompleted))

	intact, at := exec.VerifyTimeline()
	assert.True(t, intact)
	assert.Zero(t, at)

	// Mutating a middle event breaks the chain at that position.
	exec.timeline[1].Data = forensic.String("rewritten history")
	intact, at = exec.VerifyTimeline()
	assert.False(t, intact)
	assert.Equal(t, 2, at)
}

func TestExecuteStrategy_BlueGreenHappyPath(t *testing.T) {
	driver := &SimulatedDriver{}
	log := evidence.NewLog()
	x := NewExecutor(SimulatedDrivers(driver), log, nil)
	d := decisionFor(t, forensic.UrgencyUrgent, forensic.ImpactHigh)

	exec, err := x.Execute(context.Background(), d, "trading-app")
	require.NoError(t, err)
	assert.Equal(t, forensic.ExecutionCompleted, exec.Status())
	assert.Equal(t, StrategyBlueGreen, exec.StrategyName)
	assert.Len(t, exec.Steps(), 3, "blue_green records exactly 3 steps")
	for _, s := range exec.Steps() {
		assert.True(t, s.Success, s.StepName)
	}

	intact, _ := exec.VerifyTimeline()
	assert.True(t, intact)

	events, err := log.Events(EvidenceStream)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	assert.Contains(t, types, "rollback_started")
	assert.Contains(t, types, "rollback_finished")
}

func TestExecuteStrategy_FullStackStepCount(t *testing.T) {
	driver := &SimulatedDriver{CurrentVersion: "2.4.1", Versions: []string{"2.3.0", "2.4.0", "2.4.1"}}
	x := NewExecutor(SimulatedDrivers(driver), nil, nil)
	d := decisionFor(t, forensic.UrgencyEmergency, forensic.ImpactCatastrophic)

	exec, err := x.Execute(context.Background(), d, "trading-app")
	require.NoError(t, err)
	assert.Equal(t, StrategyFullStack, exec.StrategyName)
	assert.GreaterOrEqual(t, len(exec.Steps()), 6, "blue_green + database + notify")
	assert.Equal(t, forensic.ExecutionCompleted, exec.Status())
}

func TestExecuteStrategy_CriticalStepFailureAborts(t *testing.T) {
	driver := &SimulatedDriver{FailOn: map[string]string{"apply_rollback_script": "constraint violation"}}
	log := evidence.NewLog()
	x := NewExecutor(SimulatedDrivers(driver), log, nil)
	d := decisionFor(t, forensic.UrgencyImmediate, forensic.ImpactCritical)

	strategy, err := LookupStrategy(StrategyDatabase)
	require.NoError(t, err)
	exec, err := x.ExecuteStrategy(context.Background(), d, "trading-app", strategy)
	require.NoError(t, err)

	assert.Equal(t, forensic.ExecutionFailed, exec.Status())
	steps := exec.Steps()
	require.Len(t, steps, 2, "verify_integrity must not run after the failure")
	assert.Equal(t, "apply_rollback_script", steps[1].StepName)
	assert.False(t, steps[1].Success)

	var sawError bool
	for _, ev := range exec.Timeline() {
		if ev.EventType == "rollback_error_occurred" {
			sawError = true
		}
	}
	assert.True(t, sawError)

	events, err := log.Events(EvidenceStream)
	require.NoError(t, err)
	var logged bool
	for _, ev := range events {
		if ev.EventType == "rollback_error_occurred" {
			logged = true
			assert.Equal(t, "apply_rollback_script", ev.Data.MapVal()["step_name"].StringVal())
		}
	}
	assert.True(t, logged)
}

func TestExecuteStrategy_NonCriticalFailureContinues(t *testing.T) {
	driver := &SimulatedDriver{FailOn: map[string]string{"verify_health": "probe flaked"}}
	x := NewExecutor(SimulatedDrivers(driver), nil, nil)
	d := decisionFor(t, forensic.UrgencyHigh, forensic.ImpactMedium)

	exec, err := x.Execute(context.Background(), d, "trading-app")
	require.NoError(t, err)
	assert.Equal(t, forensic.ExecutionCompleted, exec.Status(),
		"non-critical failures are logged, not fatal")
	assert.Len(t, exec.Steps(), 4)
	assert.Len(t, exec.Errors(), 1)
}

func TestExecuteStrategy_GlobalTimeoutFails(t *testing.T) {
	driver := &SimulatedDriver{StepDelay: 40 * time.Millisecond}
	x := NewExecutor(SimulatedDrivers(driver), nil, nil,
		WithGlobalTimeout(60*time.Millisecond))
	d := decisionFor(t, forensic.UrgencyHigh, forensic.ImpactMedium)

	exec, err := x.Execute(context.Background(), d, "trading-app")
	require.NoError(t, err)
	assert.Equal(t, forensic.ExecutionFailed, exec.Status())

	var sawTimeout bool
	for _, e := range exec.Errors() {
		if e.ErrorType == "execution_timeout" {
			sawTimeout = true
		}
	}
	assert.True(t, sawTimeout, "timeout must be recorded even when every finished step succeeded")
}

func TestExecuteStrategy_StepTimeoutIsFailure(t *testing.T) {
	driver := &SimulatedDriver{SleepFor: map[string]time.Duration{"switch_traffic": time.Hour}}
	x := NewExecutor(SimulatedDrivers(driver), nil, nil,
		WithStepTimeout(30*time.Millisecond))
	d := decisionFor(t, forensic.UrgencyUrgent, forensic.ImpactHigh)

	exec, err := x.Execute(context.Background(), d, "trading-app")
	require.NoError(t, err)
	assert.Equal(t, forensic.ExecutionFailed, exec.Status(),
		"switch_traffic is critical; its timeout aborts the execution")
}

func TestExecuteStrategy_CallerCancellationEndsCancelled(t *testing.T) {
	driver := &SimulatedDriver{StepDelay: 50 * time.Millisecond}
	x := NewExecutor(SimulatedDrivers(driver), nil, nil)
	d := decisionFor(t, forensic.UrgencyHigh, forensic.ImpactMedium)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	exec, err := x.Execute(ctx, d, "trading-app")
	require.NoError(t, err)
	assert.Equal(t, forensic.ExecutionCancelled, exec.Status())

	var sawCancel bool
	for _, e := range exec.Errors() {
		if e.ErrorType == "execution_cancelled" {
			sawCancel = true
		}
	}
	assert.True(t, sawCancel)
}

func TestPreviousVersion(t *testing.T) {
	got, err := PreviousVersion("2.4.1", []string{"2.3.0", "2.4.0", "2.4.1", "2.5.0-rc.1", "garbage"})
	require.NoError(t, err)
	assert.Equal(t, "2.4.0", got)

	_, err = PreviousVersion("1.0.0", []string{"1.0.0", "2.0.0"})
	assert.Error(t, err, "no older release available")

	_, err = PreviousVersion("not-a-version", []string{"1.0.0"})
	assert.Error(t, err)
}

func TestExecuteStrategy_DriverPanicIsStepFailure(t *testing.T) {
	panicking := panicDriver{}
	drivers := map[string]Driver{
		StrategyRolling:   panicking,
		StrategyBlueGreen: panicking,
		StrategyCanary:    panicking,
		StrategyDatabase:  panicking,
		StrategyFullStack: panicking,
	}
	x := NewExecutor(drivers, nil, nil)
	d := decisionFor(t, forensic.UrgencyHigh, forensic.ImpactMedium)

	exec, err := x.Execute(context.Background(), d, "trading-app")
	require.NoError(t, err)
	assert.Equal(t, forensic.ExecutionFailed, exec.Status())
}

type panicDriver struct{}

func (panicDriver) Execute(ctx context.Context, input StepInput) (*StepResult, error) {
	panic("driver exploded")
}
