// Package jobs provides Prometheus instrumentation shared by the
// background workers (idempotency cleanup, SOS dispatch).
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricBackgroundJobsTotal      = "background_jobs_total"
	MetricBackgroundJobsDuration   = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "background_job_errors_total"
)

// Values for the job_type label.
const (
	JobTypeIdempotencyCleanup = "idempotency_cleanup"
	JobTypeSOSDispatch        = "sos_dispatch"
)

// Values for the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics instruments background job runs. Safe for concurrent use.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
}

// NewMetrics builds the collectors without registering them; call
// Register to attach them to a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobsTotal,
				Help: "Background job executions by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: MetricBackgroundJobsDuration,
				Help: "Background job duration in seconds by type",
				// Cleanup runs finish in well under a second; SOS dispatch
				// includes delivery retries and can take minutes.
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"job_type"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobErrorsTotal,
				Help: "Background job errors by type and error kind",
			},
			[]string{"job_type", "error_type"},
		),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.jobsTotal, m.jobsDuration, m.jobErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncJobsTotal counts one finished run of jobType with the given status.
func (m *Metrics) IncJobsTotal(jobType, status string) {
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records how long one run of jobType took.
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// IncJobErrors counts one error of errorType during jobType.
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}
