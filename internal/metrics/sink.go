package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	DryRunCompleted(duration time.Duration, eventsComputed int, err error)

	// Rule engine metrics
	RuleEvaluationCompleted(outcome string, duration time.Duration)

	// Save metrics
	SaveCompleted(duration time.Duration, deleted, inserted int, err error)
	LockRejected(code string)
}

// Outcome constants for RuleEvaluationCompleted.
const (
	OutcomeIncluded = "included"
	OutcomeExcluded = "excluded"
	OutcomeError    = "error"
)

// ClassifyRuleOutcome maps a rule evaluation result to an outcome label.
func ClassifyRuleOutcome(included bool, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case included:
		return OutcomeIncluded
	default:
		return OutcomeExcluded
	}
}
