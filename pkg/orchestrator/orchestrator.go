// Package orchestrator runs the monitoring loop: collect business metrics
// from every registered collector, aggregate the per-collector assessments
// into one overall impact, ask the decision engine for a verdict, and start
// rollback executions for recommended verdicts. Executions run in the
// background so a slow rollback never blocks the next monitoring cycle; at
// most one execution is in flight per deployment.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/analysis"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/decision"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/health"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/metrics"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/observability"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/rollback"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EvidenceStream is where cycle outcomes land.
const EvidenceStream = "orchestrator"

// Defaults for the loop tunings.
const (
	DefaultInterval      = 30 * time.Second
	DefaultProbeEvery    = 5
	DefaultShutdownGrace = 30 * time.Second
	analysisTimeout      = 30 * time.Second
)

// Config tunes the loop.
type Config struct {
	DeploymentID string
	// Interval is the cycle period.
	Interval time.Duration
	// ProbeEvery runs the health probes every Nth cycle. The first cycle
	// always probes.
	ProbeEvery int
	// ShutdownGrace bounds how long Run waits for in-flight executions
	// after its context is cancelled before cancelling them too.
	ShutdownGrace time.Duration
}

func (c *Config) fillDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ProbeEvery <= 0 {
		c.ProbeEvery = DefaultProbeEvery
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
}

// CycleReport is the outcome of one monitoring cycle.
type CycleReport struct {
	Cycle       int64
	Collections map[string]*metrics.CollectionResult
	Overall     *forensic.BusinessImpactAssessment
	Verdict     *decision.Verdict
	Probes      map[string]*health.CheckResult

	// ExecutionStarted reports that this cycle launched a rollback.
	ExecutionStarted bool
	// SkippedActive reports that a recommended rollback was not launched
	// because one is already in flight.
	SkippedActive bool
}

// Orchestrator owns the monitoring loop for one deployment.
type Orchestrator struct {
	cfg      Config
	manager  *metrics.Manager
	engine   *decision.Engine
	executor *rollback.Executor
	analyzer *analysis.Analyzer
	probes   *health.Executor
	log      *evidence.Log
	obs      *observability.Provider
	slo      *observability.SLOTracker
	clock    forensic.Clock
	logger   *slog.Logger

	execCtx    context.Context
	execCancel context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	cycle    int64
	active   bool
	failures int
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithHealthExecutor wires the periodic health probes.
func WithHealthExecutor(e *health.Executor) Option {
	return func(o *Orchestrator) { o.probes = e }
}

// WithObservability wires tracing and RED metrics.
func WithObservability(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.obs = p }
}

// WithSLOTracker wires per-operation SLO observations.
func WithSLOTracker(t *observability.SLOTracker) Option {
	return func(o *Orchestrator) { o.slo = t }
}

// WithClock overrides the clock for testing.
func WithClock(c forensic.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger overrides the default logger.
func WithLogger(lg *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = lg }
}

// New wires the orchestrator. The evidence log may be nil in tests; manager,
// engine, executor and analyzer are required.
func New(cfg Config, manager *metrics.Manager, engine *decision.Engine,
	executor *rollback.Executor, analyzer *analysis.Analyzer, log *evidence.Log, opts ...Option) (*Orchestrator, error) {
	if cfg.DeploymentID == "" {
		return nil, fmt.Errorf("orchestrator: deployment id is required")
	}
	if manager == nil || engine == nil || executor == nil || analyzer == nil {
		return nil, fmt.Errorf("orchestrator: manager, engine, executor and analyzer are required")
	}
	cfg.fillDefaults()

	execCtx, execCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		manager:    manager,
		engine:     engine,
		executor:   executor,
		analyzer:   analyzer,
		log:        log,
		clock:      forensic.WallClock{},
		logger:     slog.Default().With("component", "orchestrator"),
		execCtx:    execCtx,
		execCancel: execCancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run drives cycles until ctx is cancelled, then drains in-flight executions.
// A panicking cycle is contained and backed off; the loop never dies.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := o.safeCycle(ctx); err != nil {
			o.mu.Lock()
			o.failures++
			backoff := time.Duration(o.failures) * o.cfg.Interval
			o.mu.Unlock()
			if limit := 10 * o.cfg.Interval; backoff > limit {
				backoff = limit
			}
			o.logger.Error("cycle failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return o.drain()
			case <-time.After(backoff):
			}
		} else {
			o.mu.Lock()
			o.failures = 0
			o.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return o.drain()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) safeCycle(ctx context.Context) (report *CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("orchestrator: cycle panicked: %v", r)
		}
	}()
	return o.RunCycle(ctx)
}

// RunCycle executes one full monitoring cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	o.mu.Lock()
	o.cycle++
	n := o.cycle
	o.mu.Unlock()

	var finish func(error)
	if o.obs != nil {
		ctx, finish = o.obs.TrackOperation(ctx, "zdp.cycle",
			observability.AttrDeploymentID.String(o.cfg.DeploymentID),
			observability.AttrCycle.Int64(n))
	}

	report := &CycleReport{Cycle: n}

	collectStart := o.clock.Now()
	report.Collections = o.manager.CollectAll(ctx)
	o.observe(observability.OpCollect, o.clock.Now().Sub(collectStart), allSucceeded(report.Collections))

	byCollector := make(map[string]*forensic.BusinessImpactAssessment)
	for name, r := range report.Collections {
		if r.Err == nil && r.Assessment != nil {
			byCollector[name] = r.Assessment
		}
	}

	if n == 1 || n%int64(o.cfg.ProbeEvery) == 0 {
		report.Probes = o.runProbes(ctx)
	}

	if len(byCollector) == 0 {
		o.logger.Warn("cycle produced no assessments", "cycle", n)
		o.emit(ctx, "cycle_degraded", forensic.Map(map[string]forensic.Value{
			"cycle":      forensic.Int(n),
			"collectors": forensic.Int(int64(len(report.Collections))),
		}))
		if finish != nil {
			finish(nil)
		}
		return report, nil
	}

	overall, err := o.aggregate(byCollector)
	if err != nil {
		if finish != nil {
			finish(err)
		}
		return report, err
	}
	report.Overall = overall

	decideStart := o.clock.Now()
	verdict, err := o.engine.Decide(ctx, decision.Input{
		Assessment:       overall,
		CollectorsAtHigh: collectorsAtOrAbove(byCollector, forensic.ImpactHigh),
		HealthSignals:    healthSignals(report.Probes),
	})
	o.observe(observability.OpDecide, o.clock.Now().Sub(decideStart), err == nil)
	if err != nil {
		if finish != nil {
			finish(err)
		}
		return report, fmt.Errorf("orchestrator: decide: %w", err)
	}
	report.Verdict = verdict

	if o.obs != nil {
		o.obs.RecordOperation(ctx, observability.DecisionAttrs(o.cfg.DeploymentID,
			string(overall.ImpactLevel), string(verdict.Decision.Urgency),
			verdict.Decision.RollbackRecommended)...)
	}

	if verdict.Decision.RollbackRecommended && !verdict.Suppressed {
		report.ExecutionStarted, report.SkippedActive = o.startExecution(ctx, verdict.Decision)
	}

	o.emit(ctx, "cycle_completed", forensic.Map(map[string]forensic.Value{
		"cycle":             forensic.Int(n),
		"impact_level":      forensic.String(string(overall.ImpactLevel)),
		"estimated_loss":    forensic.Number(overall.EstimatedLoss.String()),
		"urgency":           forensic.String(string(verdict.Decision.Urgency)),
		"recommended":       forensic.Bool(verdict.Decision.RollbackRecommended),
		"suppressed":        forensic.Bool(verdict.Suppressed),
		"execution_started": forensic.Bool(report.ExecutionStarted),
	}))

	if finish != nil {
		finish(nil)
	}
	return report, nil
}

// startExecution launches the rollback in the background. Returns
// (started, skipped).
func (o *Orchestrator) startExecution(ctx context.Context, d *forensic.RollbackDecision) (bool, bool) {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		o.logger.Warn("rollback recommended while one is in flight; skipping",
			"decision_id", d.DecisionID, "urgency", d.Urgency)
		o.emit(ctx, "rollback_skipped_active", forensic.Map(map[string]forensic.Value{
			"decision_id": forensic.String(d.DecisionID),
			"urgency":     forensic.String(string(d.Urgency)),
		}))
		return false, true
	}
	o.active = true
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			o.active = false
			o.mu.Unlock()
		}()
		o.executeAndAnalyze(d)
	}()
	return true, false
}

func (o *Orchestrator) executeAndAnalyze(d *forensic.RollbackDecision) {
	var done func()
	if o.obs != nil {
		done = o.obs.RollbackStarted(o.execCtx,
			observability.AttrDeploymentID.String(o.cfg.DeploymentID),
			observability.AttrUrgency.String(string(d.Urgency)))
		defer done()
	}

	start := o.clock.Now()
	exec, err := o.executor.Execute(o.execCtx, d, o.cfg.DeploymentID)
	o.observe(observability.OpExecute, o.clock.Now().Sub(start),
		err == nil && exec != nil && exec.Status() == forensic.ExecutionCompleted)
	if err != nil {
		o.logger.Error("rollback execution fault", "decision_id", d.DecisionID, "error", err)
		return
	}
	o.logger.Info("rollback finished",
		"execution_id", exec.ExecutionID,
		"strategy", exec.StrategyName,
		"status", exec.Status())

	// Analysis must run even when the platform is shutting down; the report
	// is the record of what the rollback cost.
	actx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
	defer cancel()
	analyzeStart := o.clock.Now()
	_, err = o.analyzer.Analyze(actx, exec)
	o.observe(observability.OpAnalyze, o.clock.Now().Sub(analyzeStart), err == nil)
	if err != nil {
		o.logger.Error("post-rollback analysis failed", "execution_id", exec.ExecutionID, "error", err)
	}
}

func (o *Orchestrator) runProbes(ctx context.Context) map[string]*health.CheckResult {
	if o.probes == nil {
		return nil
	}
	start := o.clock.Now()
	results := o.probes.ExecuteAll(ctx)
	healthy := true
	for _, r := range results {
		if r.Status == forensic.StatusCritical {
			healthy = false
		}
	}
	o.observe(observability.OpProbe, o.clock.Now().Sub(start), healthy)
	return results
}

// aggregate folds the per-collector assessments into one overall record:
// the worst impact level, the summed losses, a loss-weighted confidence, and
// the dominant trigger. Compliance and security triggers always dominate.
func (o *Orchestrator) aggregate(byCollector map[string]*forensic.BusinessImpactAssessment) (*forensic.BusinessImpactAssessment, error) {
	names := make([]string, 0, len(byCollector))
	for name := range byCollector {
		names = append(names, name)
	}
	sort.Strings(names)

	level := forensic.ImpactNone
	totalLoss := decimal.Zero
	perCollector := make(map[string]forensic.Value, len(byCollector))
	var latest time.Time
	for _, name := range names {
		a := byCollector[name]
		level = forensic.MaxImpact(level, a.ImpactLevel)
		totalLoss = totalLoss.Add(a.EstimatedLoss)
		if a.Timestamp.After(latest) {
			latest = a.Timestamp
		}
		perCollector[name] = forensic.Map(map[string]forensic.Value{
			"assessment_id":  forensic.String(a.AssessmentID),
			"impact_level":   forensic.String(string(a.ImpactLevel)),
			"estimated_loss": forensic.Number(a.EstimatedLoss.String()),
			"confidence":     forensic.Float(a.Confidence),
			"trigger_type":   forensic.String(string(a.TriggerType)),
		})
	}

	overall := &forensic.BusinessImpactAssessment{
		AssessmentID:   uuid.NewString(),
		Timestamp:      o.clock.Now(),
		DeploymentID:   o.cfg.DeploymentID,
		ImpactLevel:    level,
		EstimatedLoss:  totalLoss,
		Confidence:     weightedConfidence(byCollector, totalLoss),
		TriggerType:    dominantTrigger(byCollector),
		Evidence:       forensic.Map(map[string]forensic.Value{"collectors": forensic.Map(perCollector)}),
		Recommendation: fmt.Sprintf("aggregated from %d collectors", len(byCollector)),
	}
	if err := forensic.SealAssessment(overall); err != nil {
		return nil, fmt.Errorf("orchestrator: seal overall assessment: %w", err)
	}
	return overall, nil
}

// weightedConfidence weights each collector's confidence by its share of the
// total loss; with no loss anywhere, every collector counts equally.
func weightedConfidence(byCollector map[string]*forensic.BusinessImpactAssessment, totalLoss decimal.Decimal) float64 {
	if len(byCollector) == 0 {
		return 0
	}
	var sum float64
	if totalLoss.IsZero() {
		for _, a := range byCollector {
			sum += a.Confidence
		}
		return sum / float64(len(byCollector))
	}
	for _, a := range byCollector {
		weight, _ := a.EstimatedLoss.Div(totalLoss).Float64()
		sum += a.Confidence * weight
	}
	if sum > 1 {
		sum = 1
	}
	return sum
}

// dominantTrigger picks the trigger of the costliest assessment, except that
// compliance and security triggers outrank cost.
func dominantTrigger(byCollector map[string]*forensic.BusinessImpactAssessment) forensic.TriggerType {
	var best *forensic.BusinessImpactAssessment
	for _, a := range byCollector {
		switch a.TriggerType {
		case forensic.TriggerComplianceViolation, forensic.TriggerSecurityIncident:
			return a.TriggerType
		}
		if best == nil || a.EstimatedLoss.GreaterThan(best.EstimatedLoss) {
			best = a
		}
	}
	if best == nil {
		return forensic.TriggerRevenueLoss
	}
	return best.TriggerType
}

func collectorsAtOrAbove(byCollector map[string]*forensic.BusinessImpactAssessment, level forensic.ImpactLevel) int {
	count := 0
	for _, a := range byCollector {
		if a.ImpactLevel.Rank() >= level.Rank() {
			count++
		}
	}
	return count
}

func healthSignals(results map[string]*health.CheckResult) forensic.Value {
	if len(results) == 0 {
		return forensic.Null()
	}
	m := make(map[string]forensic.Value, len(results))
	for name, r := range results {
		m[name] = forensic.Map(map[string]forensic.Value{
			"status": forensic.String(string(r.Status)),
			"score":  forensic.Float(r.Score),
		})
	}
	return forensic.Map(m)
}

func allSucceeded(results map[string]*metrics.CollectionResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return false
		}
	}
	return true
}

// drain waits for in-flight executions, cancelling them once the grace
// period runs out. Cancelled executions end CANCELLED, not FAILED.
func (o *Orchestrator) drain() error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.execCancel()
		return nil
	case <-time.After(o.cfg.ShutdownGrace):
	}

	o.logger.Warn("shutdown grace exceeded; cancelling in-flight executions",
		"grace", o.cfg.ShutdownGrace)
	o.execCancel()
	<-done
	return nil
}

// Active reports whether a rollback execution is in flight.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Cycles returns how many cycles have run.
func (o *Orchestrator) Cycles() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycle
}

func (o *Orchestrator) observe(op string, latency time.Duration, success bool) {
	if o.slo == nil {
		return
	}
	o.slo.Record(observability.SLOObservation{
		Operation: op,
		Latency:   latency,
		Success:   success,
	})
}

func (o *Orchestrator) emit(ctx context.Context, eventType string, data forensic.Value) {
	if o.log == nil {
		return
	}
	payload := data.MapVal()
	enriched := make(map[string]forensic.Value, len(payload)+1)
	for k, v := range payload {
		enriched[k] = v
	}
	enriched["deployment_id"] = forensic.String(o.cfg.DeploymentID)
	_, _ = o.log.Append(ctx, EvidenceStream, eventType, forensic.Map(enriched))
}
