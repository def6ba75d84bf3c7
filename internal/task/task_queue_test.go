package task

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func TestTaskQueueFIFO(t *testing.T) {
	q := NewTaskQueue(0, setupTestLogger())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(&Task{ID: id}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got.ID)
	}
}

func TestTaskQueueMaxDepth(t *testing.T) {
	q := NewTaskQueue(2, setupTestLogger())

	require.NoError(t, q.Push(&Task{ID: "a"}))
	require.NoError(t, q.Push(&Task{ID: "b"}))
	err := q.Push(&Task{ID: "c"})

	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestTaskQueueClose(t *testing.T) {
	q := NewTaskQueue(0, setupTestLogger())
	require.NoError(t, q.Push(&Task{ID: "a"}))

	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push(&Task{ID: "b"}), ErrQueueClosed)

	got, ok := q.Pop()
	require.True(t, ok, "queued tasks survive close")
	assert.Equal(t, "a", got.ID)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestTaskQueuePopBlocksUntilPush(t *testing.T) {
	q := NewTaskQueue(0, setupTestLogger())

	got := make(chan string, 1)
	go func() {
		tk, ok := q.Pop()
		if ok {
			got <- tk.ID
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push(&Task{ID: "late"}))
	select {
	case id := <-got:
		assert.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestTaskQueueCloseWakesWaiters(t *testing.T) {
	q := NewTaskQueue(0, setupTestLogger())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Pop()
			assert.False(t, ok)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters were not released by Close")
	}
}

func TestTaskQueueRemoveAndDrain(t *testing.T) {
	q := NewTaskQueue(0, setupTestLogger())
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(&Task{ID: id}))
	}

	removed, ok := q.Remove("b")
	require.True(t, ok)
	assert.Equal(t, "b", removed.ID)

	_, ok = q.Remove("b")
	assert.False(t, ok)

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].ID)
	assert.Equal(t, "c", drained[1].ID)
	assert.Zero(t, q.Len())
}
