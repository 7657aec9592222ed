// Package impact converts metric deviations from baseline into sealed
// BusinessImpactAssessments: a monetary loss estimate, an impact level from
// the dual percent/absolute ladder, the dominant trigger, and a confidence
// discounted by metric freshness and source reliability.
package impact

import (
	"fmt"
	"sort"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/baseline"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/regression"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Loss thresholds of the classification ladder.
var (
	LossCatastrophic = decimal.NewFromInt(1_000_000)
	LossCritical     = decimal.NewFromInt(100_000)
	LossHigh         = decimal.NewFromInt(10_000)
	LossMedium       = decimal.NewFromInt(1_000)
	LossLow          = decimal.NewFromInt(100)
)

// FreshnessWindow is the age at which a metric's evidential weight reaches
// zero. Decay is linear from observation time.
const FreshnessWindow = 5 * time.Minute

// Source reliability factors. Unknown sources score as estimated.
var sourceReliability = map[string]float64{
	"live":       0.95,
	"calculated": 0.80,
	"estimated":  0.70,
}

// MetricRule prices one metric's deviation: LossPerUnit dollars per unit of
// bad-direction absolute deviation, attributed to Trigger.
type MetricRule struct {
	Trigger     forensic.TriggerType
	LossPerUnit decimal.Decimal
}

// Assessor holds the pricing rules of one collector.
type Assessor struct {
	deploymentID string
	baselines    *baseline.Store
	rules        map[string]MetricRule
	clock        forensic.Clock
}

// NewAssessor wires an assessor for one deployment.
func NewAssessor(deploymentID string, baselines *baseline.Store, rules map[string]MetricRule, clock forensic.Clock) *Assessor {
	if clock == nil {
		clock = forensic.WallClock{}
	}
	return &Assessor{
		deploymentID: deploymentID,
		baselines:    baselines,
		rules:        rules,
		clock:        clock,
	}
}

// contribution is one metric's share of the assessment.
type contribution struct {
	metric     *forensic.BusinessMetric
	trigger    forensic.TriggerType
	loss       decimal.Decimal
	percentDev float64
}

// Assess prices the given metrics. Empty input yields a NONE assessment with
// zero loss and zero confidence rather than an error; no data is itself a
// finding, not a failure.
func (a *Assessor) Assess(metrics []*forensic.BusinessMetric) (*forensic.BusinessImpactAssessment, error) {
	now := a.clock.Now()

	totalLoss := decimal.Zero
	worstPercent := 0.0
	var contributions []contribution

	for _, m := range metrics {
		c := a.price(m)
		contributions = append(contributions, c)
		totalLoss = totalLoss.Add(c.loss)
		if c.percentDev > worstPercent {
			worstPercent = c.percentDev
		}
	}

	level := ClassifyImpact(worstPercent, totalLoss)
	trigger := dominantTrigger(contributions)
	confidence := a.confidence(contributions, totalLoss, now)
	if len(metrics) == 0 {
		confidence = 0
	}

	assessment := &forensic.BusinessImpactAssessment{
		AssessmentID:   uuid.NewString(),
		Timestamp:      now,
		DeploymentID:   a.deploymentID,
		ImpactLevel:    level,
		EstimatedLoss:  totalLoss,
		Confidence:     confidence,
		TriggerType:    trigger,
		Evidence:       evidenceFor(contributions, worstPercent, totalLoss),
		Recommendation: recommendationFor(level, totalLoss),
	}
	for _, m := range metrics {
		assessment.Metrics = append(assessment.Metrics, *m)
	}
	if err := forensic.SealAssessment(assessment); err != nil {
		return nil, fmt.Errorf("impact: seal assessment: %w", err)
	}
	return assessment, nil
}

// price computes one metric's deviation and loss contribution.
func (a *Assessor) price(m *forensic.BusinessMetric) contribution {
	c := contribution{metric: m, trigger: forensic.TriggerRevenueLoss, loss: decimal.Zero}
	rule, hasRule := a.rules[m.Name]
	if hasRule {
		c.trigger = rule.Trigger
	}

	base, ok := a.baselines.Baseline(m.Name)
	if !ok {
		return c
	}

	value, _ := m.Value.Float64()
	if base.Mean != 0 {
		c.percentDev = (value - base.Mean) / base.Mean * 100
		if c.percentDev < 0 {
			c.percentDev = -c.percentDev
		}
	}

	class := regression.Classify(m.Name)
	if !class.IsBadDirection(base.Mean, value) {
		c.percentDev = 0
		return c
	}
	if !hasRule {
		return c
	}

	absDev := m.Value.Sub(decimal.NewFromFloat(base.Mean)).Abs()
	c.loss = absDev.Mul(rule.LossPerUnit)
	return c
}

// ClassifyImpact maps percent deviation and absolute loss to the more severe
// rung of the ladder. Monotone in both arguments.
func ClassifyImpact(percentDeviation float64, loss decimal.Decimal) forensic.ImpactLevel {
	byPercent := forensic.ImpactNone
	switch {
	case percentDeviation >= 50:
		byPercent = forensic.ImpactCatastrophic
	case percentDeviation >= 25:
		byPercent = forensic.ImpactCritical
	case percentDeviation >= 10:
		byPercent = forensic.ImpactHigh
	case percentDeviation >= 5:
		byPercent = forensic.ImpactMedium
	case percentDeviation >= 1:
		byPercent = forensic.ImpactLow
	}

	byLoss := forensic.ImpactNone
	switch {
	case loss.GreaterThanOrEqual(LossCatastrophic):
		byLoss = forensic.ImpactCatastrophic
	case loss.GreaterThanOrEqual(LossCritical):
		byLoss = forensic.ImpactCritical
	case loss.GreaterThanOrEqual(LossHigh):
		byLoss = forensic.ImpactHigh
	case loss.GreaterThanOrEqual(LossMedium):
		byLoss = forensic.ImpactMedium
	case loss.GreaterThanOrEqual(LossLow):
		byLoss = forensic.ImpactLow
	}

	return forensic.MaxImpact(byPercent, byLoss)
}

// dominantTrigger picks the trigger of the single largest loss contributor.
// Ties and the no-loss case fall back to the worst percent deviation, then
// REVENUE_LOSS.
func dominantTrigger(contributions []contribution) forensic.TriggerType {
	if len(contributions) == 0 {
		return forensic.TriggerRevenueLoss
	}
	sorted := make([]contribution, len(contributions))
	copy(sorted, contributions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].loss.Equal(sorted[j].loss) {
			return sorted[i].loss.GreaterThan(sorted[j].loss)
		}
		return sorted[i].percentDev > sorted[j].percentDev
	})
	return sorted[0].trigger
}

// confidence is the loss-weighted mean of per-metric evidential strength:
// freshness decay x source reliability x the metric's own confidence. When
// no loss was attributed the metrics weigh equally.
func (a *Assessor) confidence(contributions []contribution, totalLoss decimal.Decimal, now time.Time) float64 {
	if len(contributions) == 0 {
		return 0
	}

	weighted := 0.0
	weightSum := 0.0
	for _, c := range contributions {
		strength := freshness(now, c.metric.Timestamp) * reliability(c.metric.Source) * c.metric.Confidence
		weight := 1.0
		if totalLoss.IsPositive() {
			w, _ := c.loss.Div(totalLoss).Float64()
			weight = w
		}
		weighted += strength * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return 0
	}
	return weighted / weightSum
}

func freshness(now, observed time.Time) float64 {
	age := now.Sub(observed)
	if age <= 0 {
		return 1
	}
	if age >= FreshnessWindow {
		return 0
	}
	return 1 - float64(age)/float64(FreshnessWindow)
}

func reliability(source string) float64 {
	if r, ok := sourceReliability[source]; ok {
		return r
	}
	return sourceReliability["estimated"]
}

func evidenceFor(contributions []contribution, worstPercent float64, totalLoss decimal.Decimal) forensic.Value {
	perMetric := make([]forensic.Value, 0, len(contributions))
	for _, c := range contributions {
		perMetric = append(perMetric, forensic.Map(map[string]forensic.Value{
			"metric":            forensic.String(c.metric.Name),
			"value":             forensic.Number(c.metric.Value.String()),
			"deviation_percent": forensic.Float(c.percentDev),
			"estimated_loss":    forensic.Number(c.loss.String()),
			"trigger":           forensic.String(string(c.trigger)),
		}))
	}
	return forensic.Map(map[string]forensic.Value{
		"worst_deviation_percent": forensic.Float(worstPercent),
		"total_loss":              forensic.Number(totalLoss.String()),
		"contributions":           forensic.Seq(perMetric...),
	})
}

func recommendationFor(level forensic.ImpactLevel, loss decimal.Decimal) string {
	switch level {
	case forensic.ImpactCatastrophic:
		return fmt.Sprintf("estimated loss %s: initiate emergency rollback immediately", loss.StringFixed(2))
	case forensic.ImpactCritical:
		return fmt.Sprintf("estimated loss %s: rollback strongly recommended", loss.StringFixed(2))
	case forensic.ImpactHigh:
		return fmt.Sprintf("estimated loss %s: rollback recommended, review contributing metrics", loss.StringFixed(2))
	case forensic.ImpactMedium:
		return "elevated deviation: monitor closely, prepare rollback plan"
	case forensic.ImpactLow:
		return "minor deviation within operational tolerance: continue monitoring"
	default:
		return "no significant business impact detected"
	}
}
