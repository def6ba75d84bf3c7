package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/agentflow/internal/events"
)

// CoordinatorConfig holds configuration for the Coordinator.
type CoordinatorConfig struct {
	// WorkerCount is the number of concurrent execution slots.
	WorkerCount int

	// MaxQueueDepth bounds queued tasks. Zero means unbounded.
	MaxQueueDepth int

	// HistorySize is how many terminal task snapshots are kept for Status lookups.
	HistorySize int
}

// DefaultCoordinatorConfig returns a CoordinatorConfig with reasonable defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		WorkerCount:   DefaultWorkerPoolConfig().WorkerCount,
		MaxQueueDepth: 0,
		HistorySize:   1024,
	}
}

// Coordinator accepts tasks, runs them on a bounded worker pool in
// submission order, and publishes exactly one terminal notification per
// submission.
type Coordinator struct {
	queue     *TaskQueue
	pool      *WorkerPool
	publisher events.Publisher
	metrics   Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	active  map[string]*Task
	history *recentHistory
	closed  bool

	shutdownOnce sync.Once
	now          func() time.Time
}

// NewCoordinator creates a coordinator and starts its workers.
// A nil metrics uses NilMetrics.
func NewCoordinator(cfg CoordinatorConfig, publisher events.Publisher, metrics Metrics, logger *slog.Logger) *Coordinator {
	if publisher == nil {
		panic("publisher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NilMetrics{}
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultCoordinatorConfig().HistorySize
	}

	logger = logger.With("component", "task_coordinator")
	c := &Coordinator{
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		active:    make(map[string]*Task),
		history:   newRecentHistory(cfg.HistorySize),
		now:       func() time.Time { return time.Now().UTC() },
	}
	c.queue = NewTaskQueue(cfg.MaxQueueDepth, logger)
	c.pool = NewWorkerPool(c.queue, WorkerPoolConfig{WorkerCount: cfg.WorkerCount}, c.execute, logger)
	c.pool.Start()
	return c
}

// Submit enqueues t and returns immediately. It never waits for execution.
// An empty ID is replaced by a generated one.
func (c *Coordinator) Submit(ctx context.Context, t *Task) (*Handle, error) {
	if t == nil || t.Work == nil {
		c.metrics.RecordTaskRejected(RejectInvalid)
		return nil, fmt.Errorf("%w: work is required", ErrInvalidTask)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.metrics.RecordTaskRejected(RejectClosed)
		return nil, ErrCoordinatorClosed
	}
	if _, busy := c.active[t.ID]; busy {
		c.metrics.RecordTaskRejected(RejectDuplicate)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}

	t.reset(c.now())
	if err := c.queue.Push(t); err != nil {
		if errors.Is(err, ErrQueueFull) {
			c.metrics.RecordTaskRejected(RejectQueueFull)
			return nil, err
		}
		c.metrics.RecordTaskRejected(RejectClosed)
		return nil, ErrCoordinatorClosed
	}

	c.active[t.ID] = t
	c.metrics.RecordQueueDepth(c.queue.Len())
	c.logger.Debug("task submitted",
		"task_id", t.ID,
		"correlation_key", t.CorrelationKey)

	return &Handle{task: t, done: t.doneChan()}, nil
}

// Status returns the last known status for id, including recently
// finished tasks.
func (c *Coordinator) Status(id string) (Status, bool) {
	snap, ok := c.Lookup(id)
	if !ok {
		return "", false
	}
	return snap.Status, true
}

// Lookup returns the last known snapshot for id.
func (c *Coordinator) Lookup(id string) (Snapshot, bool) {
	c.mu.Lock()
	t, ok := c.active[id]
	if !ok {
		snap, found := c.history.get(id)
		c.mu.Unlock()
		return snap, found
	}
	c.mu.Unlock()
	return t.Snapshot(), true
}

// Active returns snapshots of all queued and running tasks.
func (c *Coordinator) Active() []Snapshot {
	c.mu.Lock()
	tasks := make([]*Task, 0, len(c.active))
	for _, t := range c.active {
		tasks = append(tasks, t)
	}
	c.mu.Unlock()

	snaps := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		snaps = append(snaps, t.Snapshot())
	}
	return snaps
}

// QueueDepth returns the number of tasks waiting for a worker.
func (c *Coordinator) QueueDepth() int {
	return c.queue.Len()
}

// Cancel fails a task that is still waiting in the queue. Running tasks
// cannot be cancelled.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	_, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	t, removed := c.queue.Remove(id)
	if !removed {
		return fmt.Errorf("%w: %s", ErrTaskNotQueued, id)
	}

	c.logger.Info("task cancelled", "task_id", id)
	c.complete(ctx, t, "", ErrTaskCancelled)
	c.metrics.RecordQueueDepth(c.queue.Len())
	return nil
}

// Shutdown stops accepting submissions and waits for workers to finish.
// With drain, every queued task still runs. Without drain, queued tasks are
// failed with ErrTaskCancelled; running tasks always complete. Every task
// receives its terminal notification either way. ctx bounds the wait; when
// it expires, running work is cancelled through its context.
func (c *Coordinator) Shutdown(ctx context.Context, drain bool) error {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if !drain {
			cancelled := c.queue.Drain()
			for _, t := range cancelled {
				c.complete(ctx, t, "", ErrTaskCancelled)
			}
			c.logger.Info("cancelled queued tasks", "count", len(cancelled))
		}
		c.queue.Close()
	})

	c.logger.Info("waiting for workers to finish", "drain", drain)
	if err := c.pool.Wait(ctx); err != nil {
		c.pool.Abort()
		return fmt.Errorf("task coordinator shutdown: %w", err)
	}
	return nil
}

// execute is the worker pool's task handler.
func (c *Coordinator) execute(ctx context.Context, t *Task, workerID int) {
	logger := c.logger.With(
		"task_id", t.ID,
		"worker_id", workerID,
	)

	if err := t.start(c.now()); err != nil {
		logger.Error("task could not start", "error", err)
		return
	}
	c.metrics.RecordQueueDepth(c.queue.Len())
	c.metrics.RecordQueueLatency(t.QueueLatency())

	logger.Info("processing task")
	result, err := c.run(ctx, t)
	if err != nil {
		logger.Error("task execution failed", "error", err)
	} else {
		logger.Info("task completed successfully")
	}

	c.complete(ctx, t, result, err)
}

// run invokes Work, converting errors and panics into TaskExecutionError.
func (c *Coordinator) run(ctx context.Context, t *Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordTaskPanic(t.ID, r)
			err = &TaskExecutionError{TaskID: t.ID, Err: fmt.Errorf("%w: %v", ErrTaskPanicked, r)}
			result = ""
		}
	}()

	result, err = t.Work(ctx)
	if err != nil {
		return "", &TaskExecutionError{TaskID: t.ID, Err: err}
	}
	return result, nil
}

// complete moves t to its terminal state, retires it from the active set
// and publishes its notification.
func (c *Coordinator) complete(ctx context.Context, t *Task, result string, err error) {
	// Captured before the task leaves the active set, after which a
	// resubmission may replace it.
	done := t.doneChan()

	if finishErr := t.finish(result, err, c.now()); finishErr != nil {
		c.logger.Error("task could not finish", "task_id", t.ID, "error", finishErr)
		return
	}

	snap := t.Snapshot()
	c.metrics.RecordTaskDuration(snap.Status, t.RunDuration())

	c.mu.Lock()
	if c.active[t.ID] == t {
		delete(c.active, t.ID)
	}
	c.history.add(snap)
	c.mu.Unlock()

	var n events.Notification
	if err != nil {
		n = events.NewFailed(t.ID, t.CorrelationKey, err)
	} else {
		n = events.NewCompleted(t.ID, t.CorrelationKey, result)
	}

	// Publishing must not be skipped because the worker context was aborted.
	if pubErr := c.publisher.Publish(context.WithoutCancel(ctx), n); pubErr != nil {
		c.logger.Error("failed to publish task notification",
			"task_id", t.ID,
			"kind", n.Kind,
			"error", pubErr)
	}

	close(done)
}

// recentHistory keeps the last N terminal snapshots, evicting the oldest.
type recentHistory struct {
	size  int
	order []string
	byID  map[string]Snapshot
}

func newRecentHistory(size int) *recentHistory {
	return &recentHistory{size: size, byID: make(map[string]Snapshot, size)}
}

func (h *recentHistory) add(s Snapshot) {
	if _, exists := h.byID[s.ID]; !exists {
		h.order = append(h.order, s.ID)
	}
	h.byID[s.ID] = s

	for len(h.order) > h.size {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.byID, oldest)
	}
}

func (h *recentHistory) get(id string) (Snapshot, bool) {
	s, ok := h.byID[id]
	return s, ok
}
