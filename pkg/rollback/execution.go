// Package rollback executes the strategy selected by the decision engine as
// an ordered, timed step sequence, and keeps the execution's full forensic
// record: every step outcome, every error, and a hash-chained timeline of
// state transitions that can be verified after the fact.
package rollback

import (
	"fmt"
	"sync"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/canonicalize"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/google/uuid"
)

// ErrTampered is returned once an execution failed an integrity check or an
// illegal transition was attempted; the record is frozen from then on.
var ErrTampered = fmt.Errorf("rollback: execution is marked tampered")

// StepRecord is one completed step.
type StepRecord struct {
	StepName   string         `json:"step_name"`
	Timestamp  time.Time      `json:"timestamp"`
	Success    bool           `json:"success"`
	DurationMs float64        `json:"duration_ms"`
	Data       forensic.Value `json:"data"`
}

// ErrorRecord is one error captured during execution.
type ErrorRecord struct {
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      forensic.Value `json:"data"`
}

// TimelineEvent is one hashed entry of the forensic timeline. Events chain
// through PreviousHash like the evidence log's streams.
type TimelineEvent struct {
	EventType    string         `json:"event_type"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         forensic.Value `json:"data"`
	EventHash    string         `json:"event_hash"`
	PreviousHash string         `json:"previous_hash"`
}

// Execution is the mutable record of one rollback. All mutation goes through
// guarded methods; the legal transitions are PENDING -> IN_PROGRESS ->
// {COMPLETED, FAILED, CANCELLED}.
type Execution struct {
	mu sync.Mutex

	ExecutionID  string
	Decision     *forensic.RollbackDecision
	DeploymentID string
	StrategyName string

	status    forensic.ExecutionStatus
	startTime time.Time
	endTime   time.Time
	tampered  bool

	steps    []StepRecord
	errors   []ErrorRecord
	timeline []TimelineEvent

	clock forensic.Clock
}

// NewExecution creates a PENDING execution and opens its timeline.
func NewExecution(decision *forensic.RollbackDecision, deploymentID, strategyName string, clock forensic.Clock) (*Execution, error) {
	if decision == nil {
		return nil, fmt.Errorf("rollback: decision is required")
	}
	if clock == nil {
		clock = forensic.WallClock{}
	}
	e := &Execution{
		ExecutionID:  uuid.NewString(),
		Decision:     decision,
		DeploymentID: deploymentID,
		StrategyName: strategyName,
		status:       forensic.ExecutionPending,
		clock:        clock,
	}
	if err := e.appendTimeline("rollback_execution_created", forensic.Map(map[string]forensic.Value{
		"decision_id":   forensic.String(decision.DecisionID),
		"deployment_id": forensic.String(deploymentID),
		"strategy":      forensic.String(strategyName),
	})); err != nil {
		return nil, err
	}
	return e, nil
}

// Status returns the current state.
func (e *Execution) Status() forensic.ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Tampered reports whether the record is frozen.
func (e *Execution) Tampered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tampered
}

// StartTime returns when the execution entered IN_PROGRESS.
func (e *Execution) StartTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startTime
}

// EndTime returns when the execution reached a terminal state.
func (e *Execution) EndTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endTime
}

// Steps returns a copy of the recorded steps.
func (e *Execution) Steps() []StepRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StepRecord, len(e.steps))
	copy(out, e.steps)
	return out
}

// Errors returns a copy of the error log.
func (e *Execution) Errors() []ErrorRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ErrorRecord, len(e.errors))
	copy(out, e.errors)
	return out
}

// Timeline returns a copy of the forensic timeline.
func (e *Execution) Timeline() []TimelineEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TimelineEvent, len(e.timeline))
	copy(out, e.timeline)
	return out
}

// Transition moves the execution to the next state. An illegal edge marks
// the record tampered and freezes it.
func (e *Execution) Transition(next forensic.ExecutionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tampered {
		return ErrTampered
	}
	if !e.status.CanTransition(next) {
		e.tampered = true
		_ = e.appendTimelineLocked("invariant_violation", forensic.Map(map[string]forensic.Value{
			"from": forensic.String(string(e.status)),
			"to":   forensic.String(string(next)),
		}))
		return fmt.Errorf("rollback: illegal transition %s -> %s", e.status, next)
	}

	prev := e.status
	e.status = next
	now := e.clock.Now()
	switch next {
	case forensic.ExecutionInProgress:
		e.startTime = now
	case forensic.ExecutionCompleted, forensic.ExecutionFailed, forensic.ExecutionCancelled:
		e.endTime = now
	}
	return e.appendTimelineLocked("status_transition", forensic.Map(map[string]forensic.Value{
		"from": forensic.String(string(prev)),
		"to":   forensic.String(string(next)),
	}))
}

// RecordStep appends a completed step and mirrors it onto the timeline.
func (e *Execution) RecordStep(rec StepRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tampered {
		return ErrTampered
	}
	e.steps = append(e.steps, rec)
	return e.appendTimelineLocked("step_executed", forensic.Map(map[string]forensic.Value{
		"step_name":   forensic.String(rec.StepName),
		"success":     forensic.Bool(rec.Success),
		"duration_ms": forensic.Float(rec.DurationMs),
	}))
}

// RecordError appends an error and mirrors it onto the timeline.
func (e *Execution) RecordError(rec ErrorRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tampered {
		return ErrTampered
	}
	e.errors = append(e.errors, rec)
	return e.appendTimelineLocked("rollback_error_occurred", forensic.Map(map[string]forensic.Value{
		"error_type": forensic.String(rec.ErrorType),
		"message":    forensic.String(rec.Message),
	}))
}

// VerifyTimeline re-hashes every timeline event and checks the chain.
// Returns the 1-based position of the first broken event, or 0 when intact.
func (e *Execution) VerifyTimeline() (bool, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := ""
	for i, ev := range e.timeline {
		h, err := timelineHash(ev.EventType, ev.Timestamp, ev.Data, ev.PreviousHash)
		if err != nil || h != ev.EventHash || ev.PreviousHash != prev {
			return false, i + 1
		}
		prev = ev.EventHash
	}
	return true, 0
}

// MarkTampered freezes the record after an external integrity failure.
func (e *Execution) MarkTampered(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tampered {
		return
	}
	e.tampered = true
	_ = e.appendTimelineLocked("integrity_violation_detected", forensic.Map(map[string]forensic.Value{
		"reason": forensic.String(reason),
	}))
}

func (e *Execution) appendTimeline(eventType string, data forensic.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appendTimelineLocked(eventType, data)
}

func (e *Execution) appendTimelineLocked(eventType string, data forensic.Value) error {
	prev := ""
	if n := len(e.timeline); n > 0 {
		prev = e.timeline[n-1].EventHash
	}
	ts := e.clock.Now()
	h, err := timelineHash(eventType, ts, data, prev)
	if err != nil {
		return fmt.Errorf("rollback: hash timeline event: %w", err)
	}
	e.timeline = append(e.timeline, TimelineEvent{
		EventType:    eventType,
		Timestamp:    ts,
		Data:         data,
		EventHash:    h,
		PreviousHash: prev,
	})
	return nil
}

func timelineHash(eventType string, ts time.Time, data forensic.Value, prev string) (string, error) {
	return canonicalize.Hash(map[string]interface{}{
		"event_type":    eventType,
		"timestamp":     ts.UTC().Format(time.RFC3339Nano),
		"data":          data.Native(),
		"previous_hash": prev,
	})
}
