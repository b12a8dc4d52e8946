package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyRuleOutcome(t *testing.T) {
	cases := []struct {
		name     string
		included bool
		err      error
		want     string
	}{
		{"included", true, nil, OutcomeIncluded},
		{"excluded", false, nil, OutcomeExcluded},
		{"error wins over included", true, errors.New("timeout"), OutcomeError},
		{"error wins over excluded", false, errors.New("timeout"), OutcomeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyRuleOutcome(tc.included, tc.err); got != tc.want {
				t.Errorf("ClassifyRuleOutcome(%v, %v) = %q, want %q", tc.included, tc.err, got, tc.want)
			}
		})
	}
}

func TestNoopSink(t *testing.T) {
	var sink Sink = NewNoopSink()

	// All methods must be safe no-ops.
	sink.DryRunCompleted(time.Second, 10, errors.New("ignored"))
	sink.RuleEvaluationCompleted(OutcomeError, time.Second)
	sink.SaveCompleted(time.Second, 1, 2, nil)
	sink.LockRejected("LOCK_REQUIRED")
}
