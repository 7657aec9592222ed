// Package metrics defines the pluggable business-metric collector framework:
// the Collector contract, a registry, and a panic-safe manager that drives
// collection and impact calculation under a hard timeout so one misbehaving
// industry integration cannot stall the monitoring cycle.
package metrics

import (
	"context"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
)

// DefaultCollectionTimeout bounds a single collector call.
const DefaultCollectionTimeout = 10 * time.Second

// BaselineSummary describes the expected operating envelope a collector
// derived from historical observation.
type BaselineSummary struct {
	Collector   string             `json:"collector"`
	WindowHours int                `json:"window_hours"`
	Established time.Time          `json:"established"`
	SampleCount int                `json:"sample_count"`
	Expected    map[string]float64 `json:"expected"`
}

// Collector is the industry integration contract. Implementations observe
// one business domain, translate observations into sealed metrics, and
// price deviations from baseline.
type Collector interface {
	// Name identifies the collector; also used as the deployment stream key.
	Name() string

	// CollectMetrics samples the current business state. Every returned
	// metric must be sealed and verify clean.
	CollectMetrics(ctx context.Context) ([]*forensic.BusinessMetric, error)

	// CalculateImpact prices the deviation of the given metrics from the
	// collector's baseline and seals the assessment.
	CalculateImpact(ctx context.Context, metrics []*forensic.BusinessMetric) (*forensic.BusinessImpactAssessment, error)

	// EstablishBaseline derives the expected envelope from the trailing
	// hoursBack hours of observations.
	EstablishBaseline(ctx context.Context, hoursBack int) (*BaselineSummary, error)
}
