package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink is a Sink backed by github.com/prometheus/client_golang,
// the metrics dependency carried over from the broader pack's services
// (the spec explicitly keeps metric names out of scope; this is the one
// concrete, registerable instantiation of the Sink contract).
type PrometheusSink struct {
	scheduled *prometheus.CounterVec
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	queueSize *prometheus.GaugeVec
}

// NewPrometheusSink creates and registers a PrometheusSink's collectors
// against reg. Pass prometheus.DefaultRegisterer for process-global
// metrics.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronx",
			Name:      "jobs_scheduled_total",
			Help:      "Number of job executions that acquired the lock and began.",
		}, []string{"job", "worker"}),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronx",
			Name:      "jobs_started_total",
			Help:      "Number of job attempts started.",
		}, []string{"job", "worker"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronx",
			Name:      "jobs_completed_total",
			Help:      "Number of job attempts that completed successfully.",
		}, []string{"job", "worker"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronx",
			Name:      "jobs_failed_total",
			Help:      "Number of job attempts that failed.",
		}, []string{"job", "worker", "error_kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cronx",
			Name:      "job_duration_seconds",
			Help:      "Duration of a single job attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job", "worker", "outcome"}),
		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cronx",
			Name:      "worker_queue_size",
			Help:      "Number of jobs currently armed on a worker.",
		}, []string{"worker"}),
	}

	reg.MustRegister(s.scheduled, s.started, s.completed, s.failed, s.duration, s.queueSize)
	return s
}

func (s *PrometheusSink) RecordJobScheduled(jobName, workerID string) {
	s.scheduled.WithLabelValues(jobName, workerID).Inc()
}

func (s *PrometheusSink) RecordJobStarted(jobName, workerID string) {
	s.started.WithLabelValues(jobName, workerID).Inc()
}

func (s *PrometheusSink) RecordJobCompleted(jobName, workerID string, durationSeconds float64) {
	s.completed.WithLabelValues(jobName, workerID).Inc()
	s.duration.WithLabelValues(jobName, workerID, "completed").Observe(durationSeconds)
}

func (s *PrometheusSink) RecordJobFailed(jobName, workerID string, durationSeconds float64, errorKind string) {
	s.failed.WithLabelValues(jobName, workerID, errorKind).Inc()
	s.duration.WithLabelValues(jobName, workerID, "failed").Observe(durationSeconds)
}

func (s *PrometheusSink) UpdateQueueSize(workerID string, n int) {
	s.queueSize.WithLabelValues(workerID).Set(float64(n))
}

// Snapshot returns a short human-readable summary; the full exposition
// format is out of scope (spec.md §1 excludes prometheus metric names
// from the core) and belongs to a promhttp.Handler wired up by the
// front-end.
func (s *PrometheusSink) Snapshot() string {
	return fmt.Sprintf("cronx metrics registered under the %q namespace", "cronx")
}

var _ Sink = (*PrometheusSink)(nil)
