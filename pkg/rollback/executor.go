package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/notify"
)

// DefaultExecutionTimeout bounds a whole rollback.
const DefaultExecutionTimeout = 600 * time.Second

// EvidenceStream is where execution lifecycle events land.
const EvidenceStream = "rollbacks"

// Executor runs rollback strategies. One executor serves all strategies;
// drivers are keyed by strategy family.
type Executor struct {
	drivers       map[string]Driver
	log           *evidence.Log
	notifier      *notify.Dispatcher
	stepTimeout   time.Duration
	globalTimeout time.Duration
	clock         forensic.Clock
	logger        *slog.Logger
}

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithStepTimeout overrides the default per-step timeout.
func WithStepTimeout(d time.Duration) ExecutorOption {
	return func(x *Executor) { x.stepTimeout = d }
}

// WithGlobalTimeout overrides the whole-execution timeout.
func WithGlobalTimeout(d time.Duration) ExecutorOption {
	return func(x *Executor) { x.globalTimeout = d }
}

// WithClock overrides the clock for testing.
func WithClock(c forensic.Clock) ExecutorOption {
	return func(x *Executor) { x.clock = c }
}

// WithLogger overrides the default logger.
func WithLogger(lg *slog.Logger) ExecutorOption {
	return func(x *Executor) { x.logger = lg }
}

// NewExecutor wires the executor. Every strategy in the catalog must have a
// driver for each driver key its steps reference; missing drivers are a
// configuration fault surfaced at execution time.
func NewExecutor(drivers map[string]Driver, log *evidence.Log, notifier *notify.Dispatcher, opts ...ExecutorOption) *Executor {
	x := &Executor{
		drivers:       drivers,
		log:           log,
		notifier:      notifier,
		stepTimeout:   DefaultStepTimeout,
		globalTimeout: DefaultExecutionTimeout,
		clock:         forensic.WallClock{},
		logger:        slog.Default().With("component", "rollback"),
	}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Execute runs the strategy selected for the decision and returns the
// finished execution record. The returned error covers wiring faults only;
// operational failure is expressed through the execution's FAILED state.
func (x *Executor) Execute(ctx context.Context, decision *forensic.RollbackDecision, deploymentID string) (*Execution, error) {
	strategy := SelectStrategy(decision.Urgency, decision.Assessment.ImpactLevel)
	return x.ExecuteStrategy(ctx, decision, deploymentID, strategy)
}

// ExecuteStrategy runs one named strategy end to end.
func (x *Executor) ExecuteStrategy(ctx context.Context, decision *forensic.RollbackDecision, deploymentID string, strategy Strategy) (*Execution, error) {
	exec, err := NewExecution(decision, deploymentID, strategy.Name, x.clock)
	if err != nil {
		return nil, err
	}

	if err := exec.Transition(forensic.ExecutionInProgress); err != nil {
		return nil, err
	}
	x.emit(ctx, exec, "rollback_started", forensic.Map(map[string]forensic.Value{
		"strategy":    forensic.String(strategy.Name),
		"urgency":     forensic.String(string(decision.Urgency)),
		"decision_id": forensic.String(decision.DecisionID),
	}))
	x.notify(ctx, exec, notify.LevelCritical, "rollback started",
		fmt.Sprintf("strategy %s on %s (urgency %s)", strategy.Name, deploymentID, decision.Urgency))

	deadline := x.clock.Now().Add(x.globalTimeout)
	gctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	final := forensic.ExecutionCompleted
	for _, step := range strategy.Steps {
		if x.clock.Now().After(deadline) || gctx.Err() != nil {
			final = x.interrupt(ctx, exec, gctx.Err())
			break
		}

		rec, stepErr := x.runStep(gctx, exec, strategy, step)
		if err := exec.RecordStep(rec); err != nil {
			return exec, err
		}
		if gctx.Err() != nil {
			// The global budget ran out or the caller shut down mid-step;
			// per-step outcomes no longer matter.
			final = x.interrupt(ctx, exec, gctx.Err())
			break
		}
		if rec.Success {
			continue
		}

		_ = exec.RecordError(ErrorRecord{
			ErrorType: "step_failure",
			Message:   fmt.Sprintf("step %s failed: %s", step.Name, stepErr),
			Timestamp: x.clock.Now(),
			Data: forensic.Map(map[string]forensic.Value{
				"step_name": forensic.String(step.Name),
				"critical":  forensic.Bool(step.Critical),
			}),
		})
		x.emit(ctx, exec, "rollback_error_occurred", forensic.Map(map[string]forensic.Value{
			"step_name": forensic.String(step.Name),
			"error":     forensic.String(stepErr),
			"critical":  forensic.Bool(step.Critical),
		}))
		if step.Critical {
			final = forensic.ExecutionFailed
			break
		}
	}

	// The global timeout overrides accumulated step successes.
	if final == forensic.ExecutionCompleted && x.clock.Now().After(deadline) {
		x.recordTimeout(ctx, exec)
		final = forensic.ExecutionFailed
	}

	if err := exec.Transition(final); err != nil {
		return exec, err
	}
	x.emit(ctx, exec, "rollback_finished", forensic.Map(map[string]forensic.Value{
		"status":     forensic.String(string(final)),
		"steps":      forensic.Int(int64(len(exec.Steps()))),
		"errors":     forensic.Int(int64(len(exec.Errors()))),
		"started_at": forensic.String(exec.StartTime().UTC().Format(time.RFC3339Nano)),
		"ended_at":   forensic.String(exec.EndTime().UTC().Format(time.RFC3339Nano)),
	}))

	level := notify.LevelInfo
	if final == forensic.ExecutionFailed {
		level = notify.LevelCritical
	}
	x.notify(ctx, exec, level, fmt.Sprintf("rollback %s", final),
		fmt.Sprintf("strategy %s on %s finished %s with %d steps, %d errors",
			strategy.Name, deploymentID, final, len(exec.Steps()), len(exec.Errors())))

	return exec, nil
}

// runStep executes one step under its timeout and converts every failure
// mode into a step record.
func (x *Executor) runStep(ctx context.Context, exec *Execution, strategy Strategy, step Step) (StepRecord, string) {
	timeout := step.Timeout
	if timeout == 0 {
		timeout = x.stepTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	driver, ok := x.drivers[step.Driver]
	start := x.clock.Now()
	rec := StepRecord{
		StepName:  step.Name,
		Timestamp: start,
		Data:      forensic.Map(map[string]forensic.Value{}),
	}
	if !ok {
		return rec, fmt.Sprintf("no driver registered for %q", step.Driver)
	}

	result, err := x.safeDrive(sctx, driver, StepInput{
		ExecutionID:  exec.ExecutionID,
		DeploymentID: exec.DeploymentID,
		Strategy:     strategy.Name,
		StepName:     step.Name,
	})
	elapsed := x.clock.Now().Sub(start)
	rec.DurationMs = float64(elapsed.Microseconds()) / 1000

	switch {
	case err != nil:
		return rec, err.Error()
	case result == nil:
		return rec, "driver returned no result"
	default:
		rec.Success = result.Success
		if result.DurationMs > 0 {
			rec.DurationMs = result.DurationMs
		}
		if result.Data.Kind() != forensic.KindNull {
			rec.Data = result.Data
		}
		return rec, result.Err
	}
}

func (x *Executor) safeDrive(ctx context.Context, driver Driver, input StepInput) (result *StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("driver panicked: %v", r)
		}
	}()
	return driver.Execute(ctx, input)
}

// interrupt classifies why the loop stopped early: caller cancellation ends
// the execution CANCELLED, everything else is a timeout and ends it FAILED.
func (x *Executor) interrupt(ctx context.Context, exec *Execution, cause error) forensic.ExecutionStatus {
	if cause == context.Canceled {
		_ = exec.RecordError(ErrorRecord{
			ErrorType: "execution_cancelled",
			Message:   "execution cancelled by caller",
			Timestamp: x.clock.Now(),
			Data:      forensic.Map(map[string]forensic.Value{}),
		})
		x.emit(ctx, exec, "execution_cancelled", forensic.Map(map[string]forensic.Value{}))
		return forensic.ExecutionCancelled
	}
	x.recordTimeout(ctx, exec)
	return forensic.ExecutionFailed
}

func (x *Executor) recordTimeout(ctx context.Context, exec *Execution) {
	_ = exec.RecordError(ErrorRecord{
		ErrorType: "execution_timeout",
		Message:   fmt.Sprintf("execution exceeded %s", x.globalTimeout),
		Timestamp: x.clock.Now(),
		Data:      forensic.Map(map[string]forensic.Value{}),
	})
	x.emit(ctx, exec, "execution_timeout", forensic.Map(map[string]forensic.Value{
		"timeout_seconds": forensic.Float(x.globalTimeout.Seconds()),
	}))
}

func (x *Executor) emit(ctx context.Context, exec *Execution, eventType string, data forensic.Value) {
	if x.log == nil {
		return
	}
	payload := data.MapVal()
	enriched := make(map[string]forensic.Value, len(payload)+2)
	for k, v := range payload {
		enriched[k] = v
	}
	enriched["execution_id"] = forensic.String(exec.ExecutionID)
	enriched["deployment_id"] = forensic.String(exec.DeploymentID)
	_, _ = x.log.Append(ctx, EvidenceStream, eventType, forensic.Map(enriched))
}

func (x *Executor) notify(ctx context.Context, exec *Execution, level notify.Level, title, body string) {
	if x.notifier == nil {
		return
	}
	x.notifier.Dispatch(ctx, notify.Request{
		Level:         level,
		Title:         title,
		Body:          body,
		AudienceTags:  []string{"oncall", "release-engineering"},
		CorrelationID: exec.ExecutionID,
	})
}
