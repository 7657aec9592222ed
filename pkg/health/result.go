// Package health implements the forensic health check engine: a registry of
// named probes, a parallel phased executor, and tamper-evident result
// records. Probe durations and scores feed the baseline store so the
// regression detector can flag probes that are getting slower or weaker.
package health

import (
	"fmt"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/canonicalize"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/google/uuid"
)

// CheckResult is the sealed outcome of one probe execution. Immutable after
// construction; VerifyIntegrity fails on any later mutation.
type CheckResult struct {
	CheckID      string                `json:"check_id"`
	Component    string                `json:"component"`
	CheckType    string                `json:"check_type"`
	Status       forensic.HealthStatus `json:"status"`
	Score        float64               `json:"score"`
	Severity     forensic.Severity     `json:"severity"`
	Metrics      map[string]float64    `json:"metrics,omitempty"`
	Evidence     forensic.Value        `json:"evidence"`
	Timestamp    time.Time             `json:"timestamp"`
	DurationMs   float64               `json:"duration_ms"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Hash         string                `json:"hash"`
}

// ResultSpec is the unsealed input to NewCheckResult.
type ResultSpec struct {
	Component    string
	CheckType    string
	Status       forensic.HealthStatus
	Score        float64
	Severity     forensic.Severity
	Metrics      map[string]float64
	Evidence     forensic.Value
	Timestamp    time.Time
	DurationMs   float64
	ErrorMessage string
}

// NewCheckResult seals a probe outcome. Scores outside [0,100] are clamped
// rather than rejected; a probe reporting nonsense is still evidence.
func NewCheckResult(spec ResultSpec) (*CheckResult, error) {
	if spec.Component == "" {
		return nil, fmt.Errorf("health: component is required")
	}
	if spec.Score < 0 {
		spec.Score = 0
	}
	if spec.Score > 100 {
		spec.Score = 100
	}
	if spec.Evidence.Kind() == forensic.KindNull {
		spec.Evidence = forensic.Map(map[string]forensic.Value{})
	}

	r := &CheckResult{
		CheckID:      uuid.NewString(),
		Component:    spec.Component,
		CheckType:    spec.CheckType,
		Status:       spec.Status,
		Score:        spec.Score,
		Severity:     spec.Severity,
		Metrics:      spec.Metrics,
		Evidence:     spec.Evidence,
		Timestamp:    spec.Timestamp.UTC(),
		DurationMs:   spec.DurationMs,
		ErrorMessage: spec.ErrorMessage,
	}
	h, err := r.computeHash()
	if err != nil {
		return nil, err
	}
	r.Hash = h
	return r, nil
}

func (r *CheckResult) computeHash() (string, error) {
	return canonicalize.Hash(map[string]interface{}{
		"check_id":      r.CheckID,
		"component":     r.Component,
		"check_type":    r.CheckType,
		"status":        string(r.Status),
		"score":         fmt.Sprintf("%.6f", r.Score),
		"severity":      string(r.Severity),
		"metrics":       r.Metrics,
		"evidence":      r.Evidence.Native(),
		"timestamp":     r.Timestamp.Format(time.RFC3339Nano),
		"duration_ms":   fmt.Sprintf("%.3f", r.DurationMs),
		"error_message": r.ErrorMessage,
	})
}

// VerifyIntegrity recomputes the hash over the current field values.
func (r *CheckResult) VerifyIntegrity() bool {
	h, err := r.computeHash()
	return err == nil && h == r.Hash
}
