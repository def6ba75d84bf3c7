package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status represents the current state of a task.
type Status string

// Possible task status values. A task moves strictly forward through
// queued, running and one of the two terminal states.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// A queued task may fail without running when it is cancelled.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// WorkFunc is the deferred unit of computation a task executes.
type WorkFunc func(ctx context.Context) (string, error)

// Decoration carries prompt context attached to a generation request.
type Decoration struct {
	PrePrompt  string `json:"pre_prompt,omitempty"`
	PostPrompt string `json:"post_prompt,omitempty"`
	Target     string `json:"target,omitempty"`
}

// Task represents a unit of background work to be processed.
// ID, Work, Decoration and CorrelationKey are set by the submitter; the
// remaining state is owned by the Coordinator.
type Task struct {
	// ID correlates the task with its notification. Generated when empty.
	ID string

	Work       WorkFunc
	Decoration Decoration

	// CorrelationKey names the session that keeps the outcome when no
	// subscriber is listening.
	CorrelationKey string

	mu          sync.Mutex
	status      Status
	result      string
	err         error
	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time
	done        chan struct{}
}

// Snapshot is a point-in-time copy of a task's observable state.
type Snapshot struct {
	ID             string     `json:"id"`
	CorrelationKey string     `json:"correlation_key,omitempty"`
	Decoration     Decoration `json:"decoration"`
	Status         Status     `json:"status"`
	Result         string     `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	StartedAt      time.Time  `json:"started_at,omitzero"`
	FinishedAt     time.Time  `json:"finished_at,omitzero"`
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the task's result and error. Both are zero until the task
// reaches a terminal state.
func (t *Task) Result() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// QueueLatency is the time spent waiting for a worker.
func (t *Task) QueueLatency() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() {
		return 0
	}
	return t.startedAt.Sub(t.submittedAt)
}

// RunDuration is the time spent executing Work.
func (t *Task) RunDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() || t.finishedAt.IsZero() {
		return 0
	}
	return t.finishedAt.Sub(t.startedAt)
}

// Snapshot returns a copy of the task's observable state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		ID:             t.ID,
		CorrelationKey: t.CorrelationKey,
		Decoration:     t.Decoration,
		Status:         t.status,
		Result:         t.result,
		SubmittedAt:    t.submittedAt,
		StartedAt:      t.startedAt,
		FinishedAt:     t.finishedAt,
	}
	if t.err != nil {
		s.Error = t.err.Error()
	}
	return s
}

// reset prepares the task for a fresh submission.
func (t *Task) reset(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = StatusQueued
	t.result = ""
	t.err = nil
	t.submittedAt = now
	t.startedAt = time.Time{}
	t.finishedAt = time.Time{}
	t.done = make(chan struct{})
}

func (t *Task) start(now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.status.CanTransitionTo(StatusRunning) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, StatusRunning)
	}
	t.status = StatusRunning
	t.startedAt = now
	return nil
}

// finish records the terminal outcome. A nil err means completed.
func (t *Task) finish(result string, err error, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := StatusCompleted
	if err != nil {
		next = StatusFailed
		result = ""
	}
	if !t.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, next)
	}

	t.status = next
	t.result = result
	t.err = err
	t.finishedAt = now
	return nil
}

func (t *Task) doneChan() chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Handle is returned by Submit and tracks one submission of a task.
type Handle struct {
	task *Task
	done <-chan struct{}
}

// ID returns the task's identifier.
func (h *Handle) ID() string { return h.task.ID }

// Status returns the task's current status.
func (h *Handle) Status() Status { return h.task.Status() }

// Done is closed once the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (h *Handle) Result() (string, error) { return h.task.Result() }

// Wait blocks until the task is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.task.Result()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
