package forensic

import (
	"fmt"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/canonicalize"
)

// DecisionMakerAutomated is recorded when no human was in the loop.
const DecisionMakerAutomated = "automated_system"

// RollbackDecision is the policy verdict on an impact assessment. Immutable
// once sealed; the forensic hash binds identity, urgency, loss, level and
// trigger so the verdict can be reproduced from its logged inputs.
type RollbackDecision struct {
	DecisionID          string                    `json:"decision_id"`
	Timestamp           time.Time                 `json:"timestamp"`
	RollbackRecommended bool                      `json:"rollback_recommended"`
	Urgency             Urgency                   `json:"urgency"`
	Assessment          *BusinessImpactAssessment `json:"assessment"`
	Justification       string                    `json:"justification"`
	Evidence            Value                     `json:"evidence"`
	DecisionMaker       string                    `json:"decision_maker"`
	ForensicHash        string                    `json:"forensic_hash"`
}

// SealDecision computes and attaches the forensic hash.
func SealDecision(d *RollbackDecision) error {
	if d.DecisionID == "" {
		return fmt.Errorf("forensic: decision id is required")
	}
	if d.Assessment == nil {
		return fmt.Errorf("forensic: decision must reference an assessment")
	}
	h, err := decisionHash(d)
	if err != nil {
		return err
	}
	d.ForensicHash = h
	return nil
}

func decisionHash(d *RollbackDecision) (string, error) {
	return canonicalize.Hash(map[string]interface{}{
		"decision_id":    d.DecisionID,
		"timestamp":      d.Timestamp.Format(time.RFC3339Nano),
		"urgency":        string(d.Urgency),
		"estimated_loss": d.Assessment.EstimatedLoss.String(),
		"impact_level":   string(d.Assessment.ImpactLevel),
		"trigger_type":   string(d.Assessment.TriggerType),
	})
}

// VerifyIntegrity recomputes the forensic hash.
func (d *RollbackDecision) VerifyIntegrity() bool {
	h, err := decisionHash(d)
	return err == nil && h == d.ForensicHash
}
