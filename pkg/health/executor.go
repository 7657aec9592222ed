package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/baseline"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/regression"
	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds a single probe execution.
const DefaultProbeTimeout = 30 * time.Second

// ErrUnknownProbe is returned for names never registered.
var ErrUnknownProbe = errors.New("health: unknown probe")

// EvidenceStream is where probe outcomes and regression events land.
const EvidenceStream = "health"

// Executor runs registered probes, captures results, and feeds the baseline
// store with per-probe duration and score series. Probe panics and errors
// become synthetic CRITICAL results; nothing a probe does can take the
// executor down.
type Executor struct {
	registry  *Registry
	baselines *baseline.Store
	detector  *regression.Detector
	log       *evidence.Log
	timeout   time.Duration
	clock     forensic.Clock
	logger    *slog.Logger
}

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithTimeout overrides the per-probe timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithClock overrides the clock for testing.
func WithClock(c forensic.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// WithLogger overrides the default logger.
func WithLogger(lg *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = lg }
}

// NewExecutor wires the executor. The detector may be nil when regression
// tracking is not wanted (tests mostly).
func NewExecutor(reg *Registry, baselines *baseline.Store, detector *regression.Detector, log *evidence.Log, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:  reg,
		baselines: baselines,
		detector:  detector,
		log:       log,
		timeout:   DefaultProbeTimeout,
		clock:     forensic.WallClock{},
		logger:    slog.Default().With("component", "health"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs one probe by name, seals its result, and records duration and
// score into the baseline store under "{name}.duration_ms" and "{name}.score".
func (e *Executor) Execute(ctx context.Context, name string) (*CheckResult, error) {
	probe, ok := e.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProbe, name)
	}
	return e.run(ctx, name, probe), nil
}

// ExecuteAll runs every registered probe concurrently.
func (e *Executor) ExecuteAll(ctx context.Context) map[string]*CheckResult {
	return e.runGroup(ctx, e.registry.Names())
}

// ExecutePhased runs probe-name groups sequentially, probes within a group
// concurrently. Earlier phases gate later ones in wall time only; a CRITICAL
// result in phase one does not cancel phase two, since the decision engine
// weighs the whole picture.
func (e *Executor) ExecutePhased(ctx context.Context, phases [][]string) map[string]*CheckResult {
	results := make(map[string]*CheckResult)
	for _, phase := range phases {
		if ctx.Err() != nil {
			for _, name := range phase {
				results[name] = e.cancelledResult(name)
			}
			continue
		}
		for name, r := range e.runGroup(ctx, phase) {
			results[name] = r
		}
	}
	return results
}

func (e *Executor) runGroup(ctx context.Context, names []string) map[string]*CheckResult {
	results := make(map[string]*CheckResult, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			probe, ok := e.registry.Lookup(name)
			var r *CheckResult
			if !ok {
				r = e.syntheticResult(name, forensic.StatusUnknown, fmt.Sprintf("probe %q not registered", name))
			} else {
				r = e.run(gctx, name, probe)
			}
			mu.Lock()
			results[name] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// run executes one probe with its timeout and converts every failure mode
// into a sealed result.
func (e *Executor) run(ctx context.Context, name string, probe Probe) *CheckResult {
	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := e.clock.Now()
	result, err := e.safeExecute(pctx, probe)
	elapsed := e.clock.Now().Sub(start)
	durationMs := float64(elapsed.Microseconds()) / 1000

	switch {
	case err == nil && result != nil:
		// Probe produced its own sealed result; trust its content.
	case pctx.Err() == context.DeadlineExceeded:
		result = e.timeoutResult(name, durationMs)
	case ctx.Err() == context.Canceled:
		result = e.cancelledResult(name)
	default:
		msg := "probe returned no result"
		if err != nil {
			msg = err.Error()
		}
		result = e.syntheticResult(name, forensic.StatusCritical, msg)
	}

	e.recordOutcome(ctx, name, result, durationMs)
	return result
}

// safeExecute isolates probe panics.
func (e *Executor) safeExecute(ctx context.Context, probe Probe) (result *CheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	type outcome struct {
		res *CheckResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{nil, fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		res, err := probe.Execute(ctx)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) recordOutcome(ctx context.Context, name string, result *CheckResult, durationMs float64) {
	now := e.clock.Now()

	if e.detector != nil {
		// Detect against the prior window, then record, so today's anomaly
		// does not vouch for itself.
		for metric, value := range map[string]float64{
			name + ".duration_ms": durationMs,
			name + ".score":       result.Score,
		} {
			det := e.detector.Detect(metric, value)
			if det.IsRegression && e.log != nil {
				_, _ = e.log.Append(ctx, EvidenceStream, "performance_regression_detected", forensic.Map(map[string]forensic.Value{
					"metric":            forensic.String(metric),
					"probe":             forensic.String(name),
					"severity":          forensic.String(string(det.Severity)),
					"detection_method":  forensic.String(det.DetectionMethod),
					"baseline_value":    forensic.Float(det.BaselineValue),
					"current_value":     forensic.Float(det.CurrentValue),
					"deviation_percent": forensic.Float(det.DeviationPercent),
				}))
			}
		}
	}
	if e.baselines != nil {
		e.baselines.Record(name+".duration_ms", durationMs, now)
		e.baselines.Record(name+".score", result.Score, now)
	}

	if e.log != nil {
		_, _ = e.log.Append(ctx, EvidenceStream, "health_check_completed", forensic.Map(map[string]forensic.Value{
			"probe":       forensic.String(name),
			"check_id":    forensic.String(result.CheckID),
			"status":      forensic.String(string(result.Status)),
			"score":       forensic.Float(result.Score),
			"duration_ms": forensic.Float(durationMs),
			"result_hash": forensic.String(result.Hash),
		}))
	}
}

func (e *Executor) timeoutResult(name string, durationMs float64) *CheckResult {
	r, err := NewCheckResult(ResultSpec{
		Component:    name,
		CheckType:    "probe",
		Status:       forensic.StatusCritical,
		Score:        0,
		Severity:     forensic.SeverityCritical,
		Timestamp:    e.clock.Now(),
		DurationMs:   durationMs,
		ErrorMessage: "timeout",
	})
	if err != nil {
		e.logger.Error("failed to seal timeout result", "probe", name, "error", err)
	}
	return r
}

func (e *Executor) cancelledResult(name string) *CheckResult {
	r, err := NewCheckResult(ResultSpec{
		Component:    name,
		CheckType:    "probe",
		Status:       forensic.StatusUnknown,
		Score:        0,
		Severity:     forensic.SeverityHigh,
		Timestamp:    e.clock.Now(),
		ErrorMessage: "cancelled",
	})
	if err != nil {
		e.logger.Error("failed to seal cancelled result", "probe", name, "error", err)
	}
	return r
}

func (e *Executor) syntheticResult(name string, status forensic.HealthStatus, msg string) *CheckResult {
	r, err := NewCheckResult(ResultSpec{
		Component: name,
		CheckType: "probe",
		Status:    status,
		Score:     0,
		Severity:  forensic.SeverityCritical,
		Evidence: forensic.Map(map[string]forensic.Value{
			"exception": forensic.String(msg),
		}),
		Timestamp:    e.clock.Now(),
		ErrorMessage: msg,
	})
	if err != nil {
		e.logger.Error("failed to seal synthetic result", "probe", name, "error", err)
	}
	return r
}
