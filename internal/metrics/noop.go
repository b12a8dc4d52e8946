package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) DryRunCompleted(duration time.Duration, eventsComputed int, err error)  {}
func (n *NoopSink) RuleEvaluationCompleted(outcome string, duration time.Duration)         {}
func (n *NoopSink) SaveCompleted(duration time.Duration, deleted, inserted int, err error) {}
func (n *NoopSink) LockRejected(code string)                                               {}
