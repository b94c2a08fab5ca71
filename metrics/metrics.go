// Package metrics is the Metrics sink external collaborator contract
// (spec.md §4.5/§6): six methods, four of which the Executor calls around
// a job's lifecycle, plus UpdateQueueSize (called by the Coordinator) and
// Snapshot, with a no-op implementation always acceptable.
package metrics

// Sink is the metrics contract the core depends on.
type Sink interface {
	RecordJobScheduled(jobName, workerID string)
	RecordJobStarted(jobName, workerID string)
	RecordJobCompleted(jobName, workerID string, durationSeconds float64)
	RecordJobFailed(jobName, workerID string, durationSeconds float64, errorKind string)
	UpdateQueueSize(workerID string, n int)
	Snapshot() string
}

type noopSink struct{}

// Noop returns a Sink that does nothing and whose Snapshot is always
// empty.
func Noop() Sink {
	return noopSink{}
}

func (noopSink) RecordJobScheduled(string, string)                  {}
func (noopSink) RecordJobStarted(string, string)                    {}
func (noopSink) RecordJobCompleted(string, string, float64)         {}
func (noopSink) RecordJobFailed(string, string, float64, string)    {}
func (noopSink) UpdateQueueSize(string, int)                        {}
func (noopSink) Snapshot() string                                   { return "" }
