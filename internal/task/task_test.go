package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusQueued, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}

func TestTaskLifecycle(t *testing.T) {
	tk := &Task{ID: "t1"}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tk.reset(base)
	assert.Equal(t, StatusQueued, tk.Status())

	require.NoError(t, tk.start(base.Add(2*time.Second)))
	require.NoError(t, tk.finish("ok", nil, base.Add(5*time.Second)))

	result, err := tk.Result()
	assert.Equal(t, "ok", result)
	assert.NoError(t, err)
	assert.Equal(t, 2*time.Second, tk.QueueLatency())
	assert.Equal(t, 3*time.Second, tk.RunDuration())

	snap := tk.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Empty(t, snap.Error)
}

func TestTaskFinishFailureClearsResult(t *testing.T) {
	tk := &Task{ID: "t1"}
	tk.reset(time.Now())
	require.NoError(t, tk.start(time.Now()))

	cause := errors.New("backend down")
	require.NoError(t, tk.finish("partial", cause, time.Now()))

	result, err := tk.Result()
	assert.Empty(t, result, "result and error are mutually exclusive")
	assert.Equal(t, cause, err)
	assert.Equal(t, "backend down", tk.Snapshot().Error)
}

func TestTaskRejectsSkippedStates(t *testing.T) {
	tk := &Task{ID: "t1"}
	tk.reset(time.Now())

	err := tk.finish("ok", nil, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, tk.start(time.Now()))
	assert.ErrorIs(t, tk.start(time.Now()), ErrInvalidTransition)
}

func TestTaskExecutionErrorUnwraps(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := error(&TaskExecutionError{TaskID: "t1", Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "t1")

	var execErr *TaskExecutionError
	assert.ErrorAs(t, err, &execErr)
}
