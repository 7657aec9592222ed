package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
)

// Strategy names.
const (
	StrategyRolling   = "rolling"
	StrategyBlueGreen = "blue_green"
	StrategyCanary    = "canary"
	StrategyDatabase  = "database"
	StrategyFullStack = "full_stack"
)

// DefaultStepTimeout bounds one strategy step unless the step overrides it.
const DefaultStepTimeout = 60 * time.Second

// Step is one named operation of a strategy. Critical steps abort the
// execution on failure; non-critical failures are logged and execution
// continues. Driver names which driver key serves the step, so composite
// strategies can mix drivers.
type Step struct {
	Name     string
	Critical bool
	Driver   string
	Timeout  time.Duration
}

// Strategy is an ordered step sequence.
type Strategy struct {
	Name  string
	Steps []Step
}

// StepInput is what a driver receives for one step.
type StepInput struct {
	ExecutionID  string
	DeploymentID string
	Strategy     string
	StepName     string
}

// StepResult is a driver's report for one step.
type StepResult struct {
	Success    bool
	DurationMs float64
	Data       forensic.Value
	Err        string
}

// Driver performs the real operations of one strategy family. Drivers wrap
// the deployment platform (orchestrator API, traffic manager, database
// tooling); the executor owns timing, recording and abort policy.
type Driver interface {
	Execute(ctx context.Context, input StepInput) (*StepResult, error)
}

// strategies is the fixed catalog. Database steps are all critical: a
// half-applied schema rollback is worse than none.
var strategies = map[string]Strategy{
	StrategyRolling: {
		Name: StrategyRolling,
		Steps: []Step{
			{Name: "identify_previous_version", Critical: true, Driver: StrategyRolling},
			{Name: "issue_rollback", Critical: true, Driver: StrategyRolling},
			{Name: "wait_for_rollout", Critical: false, Driver: StrategyRolling},
			{Name: "verify_health", Critical: false, Driver: StrategyRolling},
		},
	},
	StrategyBlueGreen: {
		Name: StrategyBlueGreen,
		Steps: []Step{
			{Name: "identify_environments", Critical: true, Driver: StrategyBlueGreen},
			{Name: "switch_traffic", Critical: true, Driver: StrategyBlueGreen},
			{Name: "verify_traffic_switch", Critical: false, Driver: StrategyBlueGreen},
		},
	},
	StrategyCanary: {
		Name: StrategyCanary,
		Steps: []Step{
			{Name: "remove_canary", Critical: true, Driver: StrategyCanary},
			{Name: "restore_stable_traffic", Critical: true, Driver: StrategyCanary},
		},
	},
	StrategyDatabase: {
		Name: StrategyDatabase,
		Steps: []Step{
			{Name: "create_backup", Critical: true, Driver: StrategyDatabase},
			{Name: "apply_rollback_script", Critical: true, Driver: StrategyDatabase},
			{Name: "verify_integrity", Critical: true, Driver: StrategyDatabase},
		},
	},
}

func init() {
	// full_stack composes blue_green, then database, then external
	// notification.
	full := Strategy{Name: StrategyFullStack}
	full.Steps = append(full.Steps, strategies[StrategyBlueGreen].Steps...)
	full.Steps = append(full.Steps, strategies[StrategyDatabase].Steps...)
	full.Steps = append(full.Steps, Step{
		Name: "notify_external_services", Critical: false, Driver: StrategyFullStack,
	})
	strategies[StrategyFullStack] = full
}

// LookupStrategy returns a strategy by name. Unknown names are a
// configuration fault.
func LookupStrategy(name string) (Strategy, error) {
	s, ok := strategies[name]
	if !ok {
		return Strategy{}, fmt.Errorf("rollback: unknown strategy %q", name)
	}
	return s, nil
}

// SelectStrategy maps the decision's urgency and impact level to a strategy.
func SelectStrategy(urgency forensic.Urgency, level forensic.ImpactLevel) Strategy {
	switch {
	case urgency == forensic.UrgencyEmergency && level == forensic.ImpactCatastrophic:
		return strategies[StrategyFullStack]
	case urgency == forensic.UrgencyEmergency, urgency == forensic.UrgencyImmediate:
		return strategies[StrategyBlueGreen]
	case urgency == forensic.UrgencyUrgent:
		return strategies[StrategyBlueGreen]
	default:
		return strategies[StrategyRolling]
	}
}
