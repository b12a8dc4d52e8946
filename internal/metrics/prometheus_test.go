package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mf := gather(t, reg, name)
	if mf == nil {
		t.Fatalf("metric %s not registered", name)
	}
	return mf.GetMetric()[0].GetCounter().GetValue()
}

func labeledCounterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mf := gather(t, reg, name)
	if mf == nil {
		t.Fatalf("metric %s not registered", name)
	}
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	mf := gather(t, reg, name)
	if mf == nil {
		t.Fatalf("metric %s not registered", name)
	}
	return mf.GetMetric()[0].GetHistogram().GetSampleCount()
}

func TestPrometheusSink_DryRunCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.DryRunCompleted(10*time.Millisecond, 5, nil)
	sink.DryRunCompleted(20*time.Millisecond, 3, errors.New("cycle detected"))

	if got := counterValue(t, reg, "eventline_scheduler_dry_runs_total"); got != 2 {
		t.Errorf("dry runs = %v, want 2", got)
	}
	if got := counterValue(t, reg, "eventline_scheduler_events_computed_total"); got != 8 {
		t.Errorf("events computed = %v, want 8", got)
	}
	if got := counterValue(t, reg, "eventline_scheduler_dry_run_errors_total"); got != 1 {
		t.Errorf("dry run errors = %v, want 1", got)
	}
	if got := histogramCount(t, reg, "eventline_scheduler_dry_run_duration_seconds"); got != 2 {
		t.Errorf("duration samples = %d, want 2", got)
	}
}

func TestPrometheusSink_RuleEvaluationCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.RuleEvaluationCompleted(OutcomeIncluded, 50*time.Millisecond)
	sink.RuleEvaluationCompleted(OutcomeIncluded, 60*time.Millisecond)
	sink.RuleEvaluationCompleted(OutcomeExcluded, 70*time.Millisecond)
	sink.RuleEvaluationCompleted(OutcomeError, 80*time.Millisecond)

	if got := labeledCounterValue(t, reg, "eventline_rules_evaluations_total", "outcome", OutcomeIncluded); got != 2 {
		t.Errorf("included = %v, want 2", got)
	}
	if got := labeledCounterValue(t, reg, "eventline_rules_evaluations_total", "outcome", OutcomeExcluded); got != 1 {
		t.Errorf("excluded = %v, want 1", got)
	}
	if got := labeledCounterValue(t, reg, "eventline_rules_evaluations_total", "outcome", OutcomeError); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
	if got := histogramCount(t, reg, "eventline_rules_evaluation_duration_seconds"); got != 4 {
		t.Errorf("duration samples = %d, want 4", got)
	}
}

func TestPrometheusSink_SaveCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.SaveCompleted(100*time.Millisecond, 4, 6, nil)
	sink.SaveCompleted(100*time.Millisecond, 9, 9, errors.New("deadlock"))

	if got := counterValue(t, reg, "eventline_timeline_saves_total"); got != 2 {
		t.Errorf("saves = %v, want 2", got)
	}
	if got := counterValue(t, reg, "eventline_timeline_save_errors_total"); got != 1 {
		t.Errorf("save errors = %v, want 1", got)
	}
	// Failed saves contribute no row counts.
	if got := counterValue(t, reg, "eventline_timeline_rows_deleted_total"); got != 4 {
		t.Errorf("rows deleted = %v, want 4", got)
	}
	if got := counterValue(t, reg, "eventline_timeline_rows_inserted_total"); got != 6 {
		t.Errorf("rows inserted = %v, want 6", got)
	}
}

func TestPrometheusSink_LockRejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.LockRejected("LOCK_EXPIRED")
	sink.LockRejected("LOCK_EXPIRED")
	sink.LockRejected("LOCK_NOT_OWNER")

	if got := labeledCounterValue(t, reg, "eventline_timeline_lock_rejections_total", "code", "LOCK_EXPIRED"); got != 2 {
		t.Errorf("expired = %v, want 2", got)
	}
	if got := labeledCounterValue(t, reg, "eventline_timeline_lock_rejections_total", "code", "LOCK_NOT_OWNER"); got != 1 {
		t.Errorf("not owner = %v, want 1", got)
	}
}

func TestPrometheusSink_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)

	// A second sink on the same registry logs registration failures but
	// must stay usable.
	sink := NewPrometheusSink(reg)
	sink.DryRunCompleted(time.Millisecond, 1, nil)
	sink.RuleEvaluationCompleted(OutcomeIncluded, time.Millisecond)
	sink.SaveCompleted(time.Millisecond, 0, 1, nil)
	sink.LockRejected("LOCK_REQUIRED")
}
