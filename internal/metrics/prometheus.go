// File: internal/metrics/prometheus.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink on the Prometheus client library.
// Registration failures are logged and the affected collector keeps
// working locally, it just never shows up in scrapes.
type PrometheusSink struct {
	logger *zap.Logger

	jobsStartedTotal  prometheus.Counter
	jobsFinishedTotal *prometheus.CounterVec
	runDuration       prometheus.Histogram

	sessionsOpenedTotal prometheus.Counter
	sessionsClosedTotal prometheus.Counter

	fieldsFilledTotal  prometheus.Counter
	eventsEmittedTotal prometheus.Counter
}

var _ Sink = (*PrometheusSink)(nil)

// NewPrometheusSink builds the sink and registers its collectors with reg.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{
		logger: logger.Named("metrics"),

		jobsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pane_jobs_started_total",
			Help: "Total number of enrollment jobs started.",
		}),
		jobsFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pane_jobs_finished_total",
			Help: "Total number of terminal job outcomes, by outcome kind.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pane_run_duration_seconds",
			Help:    "Wall-clock duration of enrollment runs in seconds.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}),
		sessionsOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pane_browser_sessions_opened_total",
			Help: "Total number of browser sessions opened.",
		}),
		sessionsClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pane_browser_sessions_closed_total",
			Help: "Total number of browser sessions closed.",
		}),
		fieldsFilledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pane_fields_filled_total",
			Help: "Total number of form fields filled.",
		}),
		eventsEmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pane_job_events_emitted_total",
			Help: "Total number of progress events appended to job logs.",
		}),
	}

	s.register(reg, s.jobsStartedTotal, "pane_jobs_started_total")
	s.register(reg, s.jobsFinishedTotal, "pane_jobs_finished_total")
	s.register(reg, s.runDuration, "pane_run_duration_seconds")
	s.register(reg, s.sessionsOpenedTotal, "pane_browser_sessions_opened_total")
	s.register(reg, s.sessionsClosedTotal, "pane_browser_sessions_closed_total")
	s.register(reg, s.fieldsFilledTotal, "pane_fields_filled_total")
	s.register(reg, s.eventsEmittedTotal, "pane_job_events_emitted_total")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("Collector registration failed", zap.String("name", name), zap.Error(err))
	}
}

func (s *PrometheusSink) JobStarted() {
	s.jobsStartedTotal.Inc()
}

func (s *PrometheusSink) JobFinished(outcome string, duration time.Duration) {
	s.jobsFinishedTotal.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) SessionOpened() {
	s.sessionsOpenedTotal.Inc()
}

func (s *PrometheusSink) SessionClosed() {
	s.sessionsClosedTotal.Inc()
}

func (s *PrometheusSink) FieldsFilled(count int) {
	s.fieldsFilledTotal.Add(float64(count))
}

func (s *PrometheusSink) EventEmitted() {
	s.eventsEmittedTotal.Inc()
}
