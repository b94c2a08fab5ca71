package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cronxhq/cronx/metrics"
)

func TestNoop_SatisfiesSinkWithoutPanicking(t *testing.T) {
	s := metrics.Noop()
	s.RecordJobScheduled("job", "worker")
	s.RecordJobStarted("job", "worker")
	s.RecordJobCompleted("job", "worker", 1.5)
	s.RecordJobFailed("job", "worker", 1.5, "handler")
	s.UpdateQueueSize("worker", 3)
	assert.Equal(t, "", s.Snapshot())
}

func TestPrometheusSink_RecordsAgainstItsOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := metrics.NewPrometheusSink(reg)

	s.RecordJobScheduled("job-a", "worker-1")
	s.RecordJobStarted("job-a", "worker-1")
	s.RecordJobCompleted("job-a", "worker-1", 0.25)
	s.RecordJobFailed("job-a", "worker-1", 0.5, "handler")
	s.UpdateQueueSize("worker-1", 4)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]*dto.MetricFamily{}
	for _, f := range families {
		names[f.GetName()] = f
	}

	require.Contains(t, names, "cronx_jobs_scheduled_total")
	require.Contains(t, names, "cronx_jobs_completed_total")
	require.Contains(t, names, "cronx_jobs_failed_total")
	require.Contains(t, names, "cronx_worker_queue_size")

	assert.Equal(t, float64(1), names["cronx_jobs_scheduled_total"].Metric[0].Counter.GetValue())
	assert.Equal(t, float64(4), names["cronx_worker_queue_size"].Metric[0].Gauge.GetValue())
	assert.Contains(t, s.Snapshot(), "cronx")
}
