package task

import (
	"errors"
	"fmt"
)

// Errors returned by the coordinator and its components.
var (
	// ErrDuplicateTask is returned when a task with the same ID is queued or running.
	ErrDuplicateTask = errors.New("task with this ID is already queued or running")

	// ErrQueueFull is returned when the configured queue depth is reached.
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueClosed is returned when pushing to a closed queue.
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrCoordinatorClosed is returned by Submit after Shutdown has begun.
	ErrCoordinatorClosed = errors.New("task coordinator is shut down")

	// ErrTaskCancelled is the failure cause of queued tasks cancelled before running.
	ErrTaskCancelled = errors.New("task cancelled before execution")

	// ErrTaskPanicked is the failure cause when Work panics.
	ErrTaskPanicked = errors.New("task panicked")

	// ErrInvalidTask is returned when a submitted task has no work.
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidTransition indicates a status change that skips or reverses states.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrTaskNotFound is returned when no queued or running task has the ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotQueued is returned by Cancel when the task already started.
	ErrTaskNotQueued = errors.New("task is not queued")
)

// TaskExecutionError wraps the error returned or raised by a task's Work.
// It is only ever delivered in failure notifications.
type TaskExecutionError struct {
	TaskID string
	Err    error
}

// Error implements the error interface.
func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

// Unwrap returns the underlying error.
func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}
