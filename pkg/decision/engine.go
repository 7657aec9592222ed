// Package decision applies rollback policy to impact assessments. The core
// ladder maps impact level and estimated loss to urgency; compliance and
// security triggers force a rollback past the tiers; operator-supplied CEL
// rules can suppress or force the final verdict. Every verdict, positive,
// negative or suppressed, is written to the evidence stream with its policy
// inputs.
package decision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EvidenceStream is where verdicts land.
const EvidenceStream = "decisions"

// Loss thresholds of the urgency ladder.
var (
	lossEmergency = decimal.NewFromInt(1_000_000)
	lossImmediate = decimal.NewFromInt(100_000)
	lossUrgent    = decimal.NewFromInt(10_000)
	lossHigh      = decimal.NewFromInt(1_000)
)

// Config tunes the engine.
type Config struct {
	// ConfidenceThreshold gates rollback recommendations.
	ConfidenceThreshold float64
	// Overrides are operator rules evaluated after the ladder.
	Overrides []OverrideRule
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{ConfidenceThreshold: 0.8}
}

// Verdict is the engine's full output for one assessment: the sealed
// decision plus suppression state. A recommended decision that was
// suppressed by an override carries the reason; the caller must not start
// an execution for it.
type Verdict struct {
	Decision          *forensic.RollbackDecision
	Suppressed        bool
	SuppressionReason string
}

// Input is one cycle's worth of policy context.
type Input struct {
	// Assessment is the aggregated overall impact for the cycle.
	Assessment *forensic.BusinessImpactAssessment
	// CollectorsAtHigh counts distinct collectors reporting >= HIGH this
	// cycle; two or more escalate the urgency one grade.
	CollectorsAtHigh int
	// HealthSignals is ancillary probe evidence captured into the verdict.
	HealthSignals forensic.Value
}

// Engine is the policy evaluator. Safe for concurrent use; decisions for
// the same collector must still be serialized by the caller.
type Engine struct {
	cfg       Config
	overrides *overrideSet
	log       *evidence.Log
	clock     forensic.Clock
	logger    *slog.Logger
}

// NewEngine compiles the override rules and wires the engine. A rule that
// fails to compile is a configuration fault and fails construction.
func NewEngine(cfg Config, log *evidence.Log, clock forensic.Clock) (*Engine, error) {
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = DefaultConfig().ConfidenceThreshold
	}
	if clock == nil {
		clock = forensic.WallClock{}
	}
	overrides, err := compileOverrides(cfg.Overrides)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		overrides: overrides,
		log:       log,
		clock:     clock,
		logger:    slog.Default().With("component", "decision"),
	}, nil
}

// Decide evaluates policy for one assessment and returns exactly one
// verdict. Never returns more than one decision per input.
func (e *Engine) Decide(ctx context.Context, in Input) (*Verdict, error) {
	if in.Assessment == nil {
		return nil, fmt.Errorf("decision: assessment is required")
	}
	a := in.Assessment

	urgency := ladderUrgency(a.ImpactLevel, a.EstimatedLoss)
	forced := forcedByTrigger(a)
	if forced && urgency.Rank() < forensic.UrgencyImmediate.Rank() {
		urgency = forensic.UrgencyImmediate
	}
	if in.CollectorsAtHigh >= 2 {
		urgency = urgency.Escalate()
	}

	recommended := urgency.Rank() >= forensic.UrgencyHigh.Rank() && a.Confidence >= e.cfg.ConfidenceThreshold
	if forced {
		recommended = true
	}

	justification := justify(a, urgency, recommended, forced, in.CollectorsAtHigh)

	d := &forensic.RollbackDecision{
		DecisionID:          uuid.NewString(),
		Timestamp:           e.clock.Now(),
		RollbackRecommended: recommended,
		Urgency:             urgency,
		Assessment:          a,
		Justification:       justification,
		Evidence:            e.policyEvidence(a, in, urgency, forced),
		DecisionMaker:       forensic.DecisionMakerAutomated,
	}

	verdict := &Verdict{Decision: d}
	if action, name, err := e.overrides.evaluate(d); err != nil {
		// A rule that errors at runtime is logged and skipped; policy
		// stays fail-open on evaluation faults, fail-closed on compile.
		e.logger.Warn("override evaluation failed", "error", err)
	} else {
		switch action {
		case overrideSuppress:
			if d.RollbackRecommended {
				verdict.Suppressed = true
				verdict.SuppressionReason = fmt.Sprintf("override rule %q", name)
			}
		case overrideForce:
			d.RollbackRecommended = true
			if d.Urgency.Rank() < forensic.UrgencyHigh.Rank() {
				d.Urgency = forensic.UrgencyHigh
			}
			d.Justification += fmt.Sprintf("; forced by override rule %q", name)
		}
	}

	if err := forensic.SealDecision(d); err != nil {
		return nil, fmt.Errorf("decision: seal: %w", err)
	}

	e.record(ctx, verdict)
	return verdict, nil
}

// ladderUrgency is the ordered policy ladder; first match wins.
func ladderUrgency(level forensic.ImpactLevel, loss decimal.Decimal) forensic.Urgency {
	switch {
	case level == forensic.ImpactCatastrophic || loss.GreaterThanOrEqual(lossEmergency):
		return forensic.UrgencyEmergency
	case level == forensic.ImpactCritical || loss.GreaterThanOrEqual(lossImmediate):
		return forensic.UrgencyImmediate
	case level == forensic.ImpactHigh || loss.GreaterThanOrEqual(lossUrgent):
		return forensic.UrgencyUrgent
	case level == forensic.ImpactMedium || loss.GreaterThanOrEqual(lossHigh):
		return forensic.UrgencyHigh
	case level == forensic.ImpactLow:
		return forensic.UrgencyMedium
	default:
		return forensic.UrgencyLow
	}
}

// forcedByTrigger reports whether the trigger mandates a rollback past the
// tiers.
func forcedByTrigger(a *forensic.BusinessImpactAssessment) bool {
	switch a.TriggerType {
	case forensic.TriggerComplianceViolation, forensic.TriggerSecurityIncident:
		return a.Confidence >= 0.5
	}
	return false
}

func justify(a *forensic.BusinessImpactAssessment, urgency forensic.Urgency, recommended, forced bool, atHigh int) string {
	base := fmt.Sprintf("impact %s with estimated loss %s (confidence %.2f) maps to urgency %s",
		a.ImpactLevel, a.EstimatedLoss.StringFixed(2), a.Confidence, urgency)
	if forced {
		base += fmt.Sprintf("; trigger %s forces rollback", a.TriggerType)
	}
	if atHigh >= 2 {
		base += fmt.Sprintf("; %d collectors at HIGH or above escalated urgency", atHigh)
	}
	if !recommended {
		base += "; rollback not recommended under current policy"
	}
	return base
}

func (e *Engine) policyEvidence(a *forensic.BusinessImpactAssessment, in Input, urgency forensic.Urgency, forced bool) forensic.Value {
	m := map[string]forensic.Value{
		"assessment_id":      forensic.String(a.AssessmentID),
		"impact_level":       forensic.String(string(a.ImpactLevel)),
		"estimated_loss":     forensic.Number(a.EstimatedLoss.String()),
		"confidence":         forensic.Float(a.Confidence),
		"trigger_type":       forensic.String(string(a.TriggerType)),
		"urgency":            forensic.String(string(urgency)),
		"forced_by_trigger":  forensic.Bool(forced),
		"collectors_at_high": forensic.Int(int64(in.CollectorsAtHigh)),
	}
	if in.HealthSignals.Kind() != forensic.KindNull {
		m["health_signals"] = in.HealthSignals
	}
	return forensic.Map(m)
}

func (e *Engine) record(ctx context.Context, v *Verdict) {
	if e.log == nil {
		return
	}
	eventType := "decision_made"
	data := map[string]forensic.Value{
		"decision_id":          forensic.String(v.Decision.DecisionID),
		"rollback_recommended": forensic.Bool(v.Decision.RollbackRecommended),
		"urgency":              forensic.String(string(v.Decision.Urgency)),
		"justification":        forensic.String(v.Decision.Justification),
		"forensic_hash":        forensic.String(v.Decision.ForensicHash),
	}
	if v.Suppressed {
		eventType = "decision_suppressed"
		data["suppression_reason"] = forensic.String(v.SuppressionReason)
	}
	_, _ = e.log.Append(ctx, EvidenceStream, eventType, forensic.Map(data))
}
