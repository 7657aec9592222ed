package forensic

import "fmt"

// HealthStatus is the state reported by a health probe.
type HealthStatus string

const (
	StatusHealthy     HealthStatus = "HEALTHY"
	StatusDegraded    HealthStatus = "DEGRADED"
	StatusCritical    HealthStatus = "CRITICAL"
	StatusUnknown     HealthStatus = "UNKNOWN"
	StatusMaintenance HealthStatus = "MAINTENANCE"
)

// ParseHealthStatus rejects unknown status strings at the edge.
func ParseHealthStatus(s string) (HealthStatus, error) {
	switch HealthStatus(s) {
	case StatusHealthy, StatusDegraded, StatusCritical, StatusUnknown, StatusMaintenance:
		return HealthStatus(s), nil
	}
	return "", fmt.Errorf("forensic: unknown health status %q", s)
}

// Severity classifies findings and probe results.
type Severity string

const (
	SeverityInfo      Severity = "INFO"
	SeverityLow       Severity = "LOW"
	SeverityMedium    Severity = "MEDIUM"
	SeverityHigh      Severity = "HIGH"
	SeverityCritical  Severity = "CRITICAL"
	SeverityEmergency Severity = "EMERGENCY"
)

// Rank orders severities for comparison and recommendation ranking.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	case SeverityEmergency:
		return 5
	}
	return -1
}

// ImpactLevel classifies business harm.
type ImpactLevel string

const (
	ImpactNone         ImpactLevel = "NONE"
	ImpactLow          ImpactLevel = "LOW"
	ImpactMedium       ImpactLevel = "MEDIUM"
	ImpactHigh         ImpactLevel = "HIGH"
	ImpactCritical     ImpactLevel = "CRITICAL"
	ImpactCatastrophic ImpactLevel = "CATASTROPHIC"
)

// Rank orders impact levels; higher is worse.
func (l ImpactLevel) Rank() int {
	switch l {
	case ImpactNone:
		return 0
	case ImpactLow:
		return 1
	case ImpactMedium:
		return 2
	case ImpactHigh:
		return 3
	case ImpactCritical:
		return 4
	case ImpactCatastrophic:
		return 5
	}
	return -1
}

// MaxImpact returns the more severe of two levels.
func MaxImpact(a, b ImpactLevel) ImpactLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// TriggerType names the dominant cause of an impact assessment.
type TriggerType string

const (
	TriggerRevenueLoss         TriggerType = "REVENUE_LOSS"
	TriggerEfficiencyDrop      TriggerType = "EFFICIENCY_DROP"
	TriggerErrorRateSpike      TriggerType = "ERROR_RATE_SPIKE"
	TriggerLatencyDegradation  TriggerType = "LATENCY_DEGRADATION"
	TriggerComplianceViolation TriggerType = "COMPLIANCE_VIOLATION"
	TriggerCustomerImpact      TriggerType = "CUSTOMER_IMPACT"
	TriggerSecurityIncident    TriggerType = "SECURITY_INCIDENT"
)

// Urgency grades a rollback decision.
type Urgency string

const (
	UrgencyNone      Urgency = "NONE"
	UrgencyLow       Urgency = "LOW"
	UrgencyMedium    Urgency = "MEDIUM"
	UrgencyHigh      Urgency = "HIGH"
	UrgencyUrgent    Urgency = "URGENT"
	UrgencyImmediate Urgency = "IMMEDIATE"
	UrgencyEmergency Urgency = "EMERGENCY"
)

// Rank orders urgencies; higher means act sooner.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyNone:
		return 0
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyUrgent:
		return 4
	case UrgencyImmediate:
		return 5
	case UrgencyEmergency:
		return 6
	}
	return -1
}

// Escalate raises an urgency by one grade, saturating at EMERGENCY.
func (u Urgency) Escalate() Urgency {
	switch u {
	case UrgencyNone:
		return UrgencyLow
	case UrgencyLow:
		return UrgencyMedium
	case UrgencyMedium:
		return UrgencyHigh
	case UrgencyHigh:
		return UrgencyUrgent
	case UrgencyUrgent:
		return UrgencyImmediate
	case UrgencyImmediate, UrgencyEmergency:
		return UrgencyEmergency
	}
	return u
}

// MaxUrgency returns the higher of two urgencies.
func MaxUrgency(a, b Urgency) Urgency {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ExecutionStatus is the rollback execution state machine.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "PENDING"
	ExecutionInProgress ExecutionStatus = "IN_PROGRESS"
	ExecutionCompleted  ExecutionStatus = "COMPLETED"
	ExecutionFailed     ExecutionStatus = "FAILED"
	ExecutionCancelled  ExecutionStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// CanTransition enforces the legal edges:
// PENDING -> IN_PROGRESS -> {COMPLETED, FAILED, CANCELLED}.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionInProgress
	case ExecutionInProgress:
		return next.Terminal()
	}
	return false
}
