package task

import (
	"fmt"
	"log/slog"
	"sync"
)

// TaskQueue is an ordered FIFO of tasks waiting for a worker. Pop blocks
// until a task is available or the queue is closed and empty. A positive
// maxDepth bounds the number of queued tasks.
type TaskQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*Task
	maxDepth int
	closed   bool
	logger   *slog.Logger
}

// NewTaskQueue creates a queue. maxDepth <= 0 means unbounded.
func NewTaskQueue(maxDepth int, logger *slog.Logger) *TaskQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &TaskQueue{
		maxDepth: maxDepth,
		logger:   logger,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a task. It returns ErrQueueClosed or ErrQueueFull without
// blocking.
func (q *TaskQueue) Push(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.maxDepth > 0 && len(q.items) >= q.maxDepth {
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.maxDepth)
	}

	q.items = append(q.items, t)
	q.cond.Signal()

	q.logger.Debug("task enqueued",
		"task_id", t.ID,
		"queue_len", len(q.items))
	return nil
}

// Pop removes and returns the oldest task. The boolean is false once the
// queue is closed and has been emptied.
func (q *TaskQueue) Pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t, true
}

// Remove takes the task with the given ID out of the queue, if it is still
// waiting there.
func (q *TaskQueue) Remove(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.items {
		if t.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

// Drain removes and returns every queued task in order.
func (q *TaskQueue) Drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.items
	q.items = nil
	return drained
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting tasks and wakes every blocked Pop. Tasks already
// queued can still be popped.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
		q.logger.Info("task queue closed", "remaining", len(q.items))
	}
}
