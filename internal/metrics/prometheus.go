package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	dryRunsTotal      prometheus.Counter
	dryRunErrorsTotal prometheus.Counter
	eventsComputed    prometheus.Counter
	dryRunDuration    prometheus.Histogram

	ruleEvaluationsTotal *prometheus.CounterVec
	ruleDuration         prometheus.Histogram

	savesTotal      prometheus.Counter
	saveErrorsTotal prometheus.Counter
	rowsDeleted     prometheus.Counter
	rowsInserted    prometheus.Counter
	saveDuration    prometheus.Histogram

	lockRejectionsTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register are logged and left unregistered;
// the sink stays functional either way.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initRuleMetrics(reg)
	s.initSaveMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.dryRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventline_scheduler_dry_runs_total",
		Help: "Total number of dry-run computations performed.",
	})
	s.dryRunErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventline_scheduler_dry_run_errors_total",
		Help: "Total number of dry-run computations that failed.",
	})
	s.eventsComputed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventline_scheduler_events_computed_total",
		Help: "Total number of planned events produced by dry-runs.",
	})
	s.dryRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventline_scheduler_dry_run_duration_seconds",
		Help:    "Duration of each dry-run computation in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	s.register(reg, s.dryRunsTotal, "eventline_scheduler_dry_runs_total")
	s.register(reg, s.dryRunErrorsTotal, "eventline_scheduler_dry_run_errors_total")
	s.register(reg, s.eventsComputed, "eventline_scheduler_events_computed_total")
	s.register(reg, s.dryRunDuration, "eventline_scheduler_dry_run_duration_seconds")
}

func (s *PrometheusSink) initRuleMetrics(reg prometheus.Registerer) {
	s.ruleEvaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventline_rules_evaluations_total",
		Help: "Total number of inclusion rule evaluations by outcome.",
	}, []string{"outcome"})

	s.ruleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventline_rules_evaluation_duration_seconds",
		Help:    "Decision engine round-trip latency in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	s.register(reg, s.ruleEvaluationsTotal, "eventline_rules_evaluations_total")
	s.register(reg, s.ruleDuration, "eventline_rules_evaluation_duration_seconds")
}

func (s *PrometheusSink) initSaveMetrics(reg prometheus.Registerer) {
	s.savesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventline_timeline_saves_total",
		Help: "Total number of timeline save operations.",
	})
	s.saveErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventline_timeline_save_errors_total",
		Help: "Total number of timeline save operations that failed.",
	})
	s.rowsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventline_timeline_rows_deleted_total",
		Help: "Total number of event instance rows removed by saves.",
	})
	s.rowsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventline_timeline_rows_inserted_total",
		Help: "Total number of event instance rows written by saves.",
	})
	s.saveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventline_timeline_save_duration_seconds",
		Help:    "Duration of each timeline save in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
	s.lockRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventline_timeline_lock_rejections_total",
		Help: "Total number of saves rejected by document lock validation.",
	}, []string{"code"})

	s.register(reg, s.savesTotal, "eventline_timeline_saves_total")
	s.register(reg, s.saveErrorsTotal, "eventline_timeline_save_errors_total")
	s.register(reg, s.rowsDeleted, "eventline_timeline_rows_deleted_total")
	s.register(reg, s.rowsInserted, "eventline_timeline_rows_inserted_total")
	s.register(reg, s.saveDuration, "eventline_timeline_save_duration_seconds")
	s.register(reg, s.lockRejectionsTotal, "eventline_timeline_lock_rejections_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) DryRunCompleted(duration time.Duration, eventsComputed int, err error) {
	s.dryRunsTotal.Inc()
	s.dryRunDuration.Observe(duration.Seconds())
	s.eventsComputed.Add(float64(eventsComputed))
	if err != nil {
		s.dryRunErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) RuleEvaluationCompleted(outcome string, duration time.Duration) {
	s.ruleEvaluationsTotal.WithLabelValues(outcome).Inc()
	s.ruleDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) SaveCompleted(duration time.Duration, deleted, inserted int, err error) {
	s.savesTotal.Inc()
	s.saveDuration.Observe(duration.Seconds())
	if err != nil {
		s.saveErrorsTotal.Inc()
		return
	}
	s.rowsDeleted.Add(float64(deleted))
	s.rowsInserted.Add(float64(inserted))
}

func (s *PrometheusSink) LockRejected(code string) {
	s.lockRejectionsTotal.WithLabelValues(code).Inc()
}
