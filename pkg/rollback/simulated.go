package rollback

import (
	"context"
	"sync"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
)

// SimulatedDriver acknowledges every step after a short delay. It stands in
// for platform drivers in demos and tests; FailOn and SleepFor make failure
// and timeout scenarios reproducible.
type SimulatedDriver struct {
	mu sync.Mutex

	// StepDelay is the simulated work per step.
	StepDelay time.Duration
	// FailOn lists step names that report success=false.
	FailOn map[string]string
	// SleepFor overrides the delay for specific steps.
	SleepFor map[string]time.Duration
	// Versions feeds identify_previous_version.
	Versions       []string
	CurrentVersion string

	executed []string
}

// Executed lists step names in execution order.
func (d *SimulatedDriver) Executed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.executed))
	copy(out, d.executed)
	return out
}

func (d *SimulatedDriver) Execute(ctx context.Context, input StepInput) (*StepResult, error) {
	d.mu.Lock()
	d.executed = append(d.executed, input.StepName)
	delay := d.StepDelay
	if override, ok := d.SleepFor[input.StepName]; ok {
		delay = override
	}
	failMsg, failing := d.FailOn[input.StepName]
	versions := d.Versions
	current := d.CurrentVersion
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if failing {
		return &StepResult{Success: false, Err: failMsg}, nil
	}

	data := map[string]forensic.Value{
		"step": forensic.String(input.StepName),
	}
	if input.StepName == "identify_previous_version" && current != "" {
		target, err := PreviousVersion(current, versions)
		if err != nil {
			return &StepResult{Success: false, Err: err.Error()}, nil
		}
		data["target_version"] = forensic.String(target)
	}
	return &StepResult{Success: true, Data: forensic.Map(data)}, nil
}

// SimulatedDrivers wires one shared simulated driver for every strategy
// family.
func SimulatedDrivers(d *SimulatedDriver) map[string]Driver {
	return map[string]Driver{
		StrategyRolling:   d,
		StrategyBlueGreen: d,
		StrategyCanary:    d,
		StrategyDatabase:  d,
		StrategyFullStack: d,
	}
}
