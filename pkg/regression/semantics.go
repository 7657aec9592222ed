package regression

import "strings"

// SemanticClass is the direction interpretation of a metric, derived from its
// name tokens.
type SemanticClass string

const (
	// ClassHigherWorse covers durations, latencies, resource usage.
	ClassHigherWorse SemanticClass = "higher_is_worse"
	// ClassErrorRate is higher-worse with escalated severity on p99 breach.
	ClassErrorRate SemanticClass = "error_rate"
	// ClassLowerWorse covers throughput, request rate, efficiency.
	ClassLowerWorse SemanticClass = "lower_is_worse"
	// ClassNeutral is used when the name matches no known token; any
	// deviation counts as bad.
	ClassNeutral SemanticClass = "neutral"
)

// Classify derives the semantic class from the metric name.
func Classify(name string) SemanticClass {
	n := strings.ToLower(name)
	switch {
	case strings.HasPrefix(n, "error") || strings.Contains(n, "_error"):
		return ClassErrorRate
	case strings.HasSuffix(n, "_time_ms"),
		strings.Contains(n, "latency"),
		strings.HasSuffix(n, "_usage_percent"),
		strings.HasSuffix(n, "duration_ms"):
		return ClassHigherWorse
	case strings.Contains(n, "throughput"),
		strings.Contains(n, "requests_per_second"),
		strings.Contains(n, "efficiency"):
		return ClassLowerWorse
	}
	return ClassNeutral
}

// IsBadDirection reports whether value deviates from the baseline in the
// direction this class considers harmful.
func (c SemanticClass) IsBadDirection(baselineValue, value float64) bool {
	switch c {
	case ClassHigherWorse, ClassErrorRate:
		return value > baselineValue
	case ClassLowerWorse:
		return value < baselineValue
	}
	return value != baselineValue
}
