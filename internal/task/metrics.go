package task

import "time"

// Metrics defines the interface for collecting task execution metrics.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// RecordTaskDuration records how long Work ran, labelled by terminal status.
	RecordTaskDuration(status Status, duration time.Duration)

	// RecordQueueLatency records how long a task waited for a worker.
	RecordQueueLatency(latency time.Duration)

	// RecordTaskPanic records a panic recovered from Work.
	RecordTaskPanic(taskID string, panicInfo any)

	// RecordQueueDepth records the number of queued tasks.
	RecordQueueDepth(depth int)

	// RecordTaskRejected records a refused submission.
	RecordTaskRejected(reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
type NilMetrics struct{}

var _ Metrics = NilMetrics{}

func (NilMetrics) RecordTaskDuration(Status, time.Duration) {}
func (NilMetrics) RecordQueueLatency(time.Duration)         {}
func (NilMetrics) RecordTaskPanic(string, any)              {}
func (NilMetrics) RecordQueueDepth(int)                     {}
func (NilMetrics) RecordTaskRejected(string)                {}

// Rejection reasons passed to RecordTaskRejected.
const (
	RejectDuplicate = "duplicate"
	RejectQueueFull = "queue_full"
	RejectClosed    = "closed"
	RejectInvalid   = "invalid"
)
