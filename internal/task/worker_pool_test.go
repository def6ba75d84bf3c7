package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerPool(t *testing.T) {
	logger := setupTestLogger()
	q := NewTaskQueue(0, logger)
	noop := func(context.Context, *Task, int) {}

	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 5}, noop, logger)
	assert.Equal(t, 5, pool.WorkerCount())

	pool = NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 0}, noop, logger)
	assert.Equal(t, 1, pool.WorkerCount(), "zero workers should default to 1")

	pool = NewWorkerPool(q, WorkerPoolConfig{WorkerCount: -5}, noop, logger)
	assert.Equal(t, 1, pool.WorkerCount(), "negative workers should default to 1")

	assert.Equal(t, 5, DefaultWorkerPoolConfig().WorkerCount)
}

func TestWorkerPoolProcessesAndStops(t *testing.T) {
	logger := setupTestLogger()
	q := NewTaskQueue(0, logger)

	var processed atomic.Int32
	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 3}, func(context.Context, *Task, int) {
		processed.Add(1)
	}, logger)
	pool.Start()
	pool.Start()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Push(&Task{ID: string(rune('a' + i))}))
	}
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(ctx))
	assert.Equal(t, int32(10), processed.Load())
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	logger := setupTestLogger()
	q := NewTaskQueue(0, logger)

	var mu sync.Mutex
	running, peak := 0, 0
	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 2}, func(context.Context, *Task, int) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
	}, logger)
	pool.Start()

	for i := 0; i < 8; i++ {
		require.NoError(t, q.Push(&Task{ID: string(rune('a' + i))}))
	}
	q.Close()
	require.NoError(t, pool.Wait(context.Background()))

	assert.LessOrEqual(t, peak, 2)
}

func TestWorkerPoolWaitTimeoutAndAbort(t *testing.T) {
	logger := setupTestLogger()
	q := NewTaskQueue(0, logger)

	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 1}, func(ctx context.Context, _ *Task, _ int) {
		<-ctx.Done()
	}, logger)
	pool.Start()
	require.NoError(t, q.Push(&Task{ID: "blocker"}))
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Wait(ctx), context.DeadlineExceeded)

	pool.Abort()
	assert.NoError(t, pool.Wait(context.Background()))
}
