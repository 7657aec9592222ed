package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for the rollback pipeline.
var (
	AttrDeploymentID = attribute.Key("zdp.deployment.id")
	AttrCollector    = attribute.Key("zdp.collector.name")
	AttrCycle        = attribute.Key("zdp.cycle.number")

	AttrImpactLevel   = attribute.Key("zdp.impact.level")
	AttrEstimatedLoss = attribute.Key("zdp.impact.estimated_loss")
	AttrTriggerType   = attribute.Key("zdp.impact.trigger_type")

	AttrUrgency     = attribute.Key("zdp.decision.urgency")
	AttrRecommended = attribute.Key("zdp.decision.recommended")

	AttrStrategy    = attribute.Key("zdp.rollback.strategy")
	AttrExecutionID = attribute.Key("zdp.rollback.execution_id")
	AttrFinalStatus = attribute.Key("zdp.rollback.status")

	AttrProbe        = attribute.Key("zdp.probe.name")
	AttrHealthStatus = attribute.Key("zdp.probe.status")
)

// CollectionAttrs labels one collector run.
func CollectionAttrs(deploymentID, collector string, cycle int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDeploymentID.String(deploymentID),
		AttrCollector.String(collector),
		AttrCycle.Int64(cycle),
	}
}

// DecisionAttrs labels one decision verdict.
func DecisionAttrs(deploymentID, impactLevel, urgency string, recommended bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDeploymentID.String(deploymentID),
		AttrImpactLevel.String(impactLevel),
		AttrUrgency.String(urgency),
		AttrRecommended.Bool(recommended),
	}
}

// RollbackAttrs labels one rollback execution.
func RollbackAttrs(deploymentID, executionID, strategy string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDeploymentID.String(deploymentID),
		AttrExecutionID.String(executionID),
		AttrStrategy.String(strategy),
	}
}

// ProbeAttrs labels one health probe run.
func ProbeAttrs(probe, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProbe.String(probe),
		AttrHealthStatus.String(status),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
