package forensic

import (
	"fmt"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/canonicalize"
	"github.com/shopspring/decimal"
)

// BusinessImpactAssessment quantifies the business harm observed in one
// monitoring cycle for one collector. Immutable once sealed.
type BusinessImpactAssessment struct {
	AssessmentID   string           `json:"assessment_id"`
	Timestamp      time.Time        `json:"timestamp"`
	DeploymentID   string           `json:"deployment_id"`
	ImpactLevel    ImpactLevel      `json:"impact_level"`
	EstimatedLoss  decimal.Decimal  `json:"estimated_loss"`
	Confidence     float64          `json:"confidence"`
	TriggerType    TriggerType      `json:"trigger_type"`
	Evidence       Value            `json:"evidence"`
	Metrics        []BusinessMetric `json:"metrics"`
	Recommendation string           `json:"recommendation"`
	ForensicHash   string           `json:"forensic_hash"`
}

// SealAssessment computes and attaches the forensic hash binding identity,
// level, loss and trigger. Negative losses are rejected; impact is harm, not
// gain.
func SealAssessment(a *BusinessImpactAssessment) error {
	if a.AssessmentID == "" {
		return fmt.Errorf("forensic: assessment id is required")
	}
	if a.EstimatedLoss.IsNegative() {
		return fmt.Errorf("forensic: estimated loss must be >= 0, got %s", a.EstimatedLoss)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("forensic: assessment confidence %v outside [0,1]", a.Confidence)
	}
	h, err := assessmentHash(a)
	if err != nil {
		return err
	}
	a.ForensicHash = h
	return nil
}

func assessmentHash(a *BusinessImpactAssessment) (string, error) {
	return canonicalize.Hash(map[string]interface{}{
		"assessment_id":  a.AssessmentID,
		"timestamp":      a.Timestamp.Format(time.RFC3339Nano),
		"deployment_id":  a.DeploymentID,
		"impact_level":   string(a.ImpactLevel),
		"estimated_loss": a.EstimatedLoss.String(),
		"trigger_type":   string(a.TriggerType),
	})
}

// VerifyIntegrity recomputes the forensic hash.
func (a *BusinessImpactAssessment) VerifyIntegrity() bool {
	h, err := assessmentHash(a)
	return err == nil && h == a.ForensicHash
}
