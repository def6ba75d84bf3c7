package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collectingRecorder struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (r *collectingRecorder) Record(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.notes = append(r.notes, n)
	return nil
}

func (r *collectingRecorder) recorded() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func TestPredicates(t *testing.T) {
	n := NewCompleted("gen-42", "s1", "ok")

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{name: "id match", pred: MatchID("gen-42"), want: true},
		{name: "id mismatch", pred: MatchID("gen-4"), want: false},
		{name: "prefix match", pred: MatchPrefix("gen-"), want: true},
		{name: "prefix mismatch", pred: MatchPrefix("other"), want: false},
		{name: "correlation match", pred: MatchCorrelation("s1"), want: true},
		{name: "correlation mismatch", pred: MatchCorrelation("s2"), want: false},
		{name: "all", pred: MatchAll(), want: true},
		{name: "both", pred: MatchBoth(MatchPrefix("gen-"), MatchCorrelation("s1")), want: true},
		{name: "both one fails", pred: MatchBoth(MatchPrefix("gen-"), MatchCorrelation("s2")), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred(n))
		})
	}
}

func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	rec := &collectingRecorder{}
	bus := NewBus(testLogger(), WithRecorder(rec))

	var got []Notification
	_, err := bus.Subscribe(MatchID("t1"), func(_ context.Context, n Notification) {
		got = append(got, n)
	})
	require.NoError(t, err)
	var other int
	_, err = bus.Subscribe(MatchID("t2"), func(context.Context, Notification) { other++ })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewCompleted("t1", "s1", "done")))

	require.Len(t, got, 1)
	assert.Equal(t, KindCompleted, got[0].Kind)
	assert.Equal(t, "done", got[0].Result)
	assert.Zero(t, other)
	assert.Empty(t, rec.recorded(), "delivered notifications are not recorded")
}

func TestPublishRecordsUnmatched(t *testing.T) {
	rec := &collectingRecorder{}
	bus := NewBus(testLogger(), WithRecorder(rec))

	_, err := bus.Subscribe(MatchID("other"), func(context.Context, Notification) {
		t.Fatal("unexpected delivery")
	})
	require.NoError(t, err)

	cause := errors.New("boom")
	require.NoError(t, bus.Publish(context.Background(), NewFailed("t1", "s1", cause)))

	notes := rec.recorded()
	require.Len(t, notes, 1)
	assert.Equal(t, KindFailed, notes[0].Kind)
	assert.Equal(t, "boom", notes[0].ErrorMessage())
}

func TestPublishReturnsRecorderError(t *testing.T) {
	recErr := errors.New("disk full")
	bus := NewBus(testLogger(), WithRecorder(&collectingRecorder{err: recErr}))

	err := bus.Publish(context.Background(), NewCompleted("t1", "s1", "x"))

	assert.ErrorIs(t, err, recErr)
}

func TestPublishWithoutRecorderDrops(t *testing.T) {
	bus := NewBus(testLogger())

	assert.NoError(t, bus.Publish(context.Background(), NewCompleted("t1", "", "x")))
}

func TestPublishRejectsInvalid(t *testing.T) {
	bus := NewBus(testLogger())

	err := bus.Publish(context.Background(), Notification{Kind: "running", TaskID: "t1"})
	assert.ErrorIs(t, err, ErrNonTerminal)

	err = bus.Publish(context.Background(), Notification{Kind: KindCompleted})
	assert.ErrorIs(t, err, ErrEmptyTaskID)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	rec := &collectingRecorder{}
	bus := NewBus(testLogger(), WithRecorder(rec))

	sub, err := bus.Subscribe(MatchAll(), func(context.Context, Notification) {
		t.Fatal("unexpected delivery after unsubscribe")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriptionCount())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, bus.SubscriptionCount())

	require.NoError(t, bus.Publish(context.Background(), NewCompleted("t1", "s1", "x")))
	assert.Len(t, rec.recorded(), 1)
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	bus := NewBus(testLogger())

	_, err := bus.Subscribe(MatchAll(), nil)
	assert.ErrorIs(t, err, ErrBusNoHandler)
}

func TestSchedulerReceivesDeliveries(t *testing.T) {
	var queued []func()
	bus := NewBus(testLogger(), WithScheduler(func(fn func()) { queued = append(queued, fn) }))

	delivered := 0
	_, err := bus.Subscribe(MatchAll(), func(context.Context, Notification) { delivered++ })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewCompleted("t1", "", "x")))
	assert.Zero(t, delivered, "delivery waits for the scheduler")
	require.Len(t, queued, 1)

	queued[0]()
	assert.Equal(t, 1, delivered)
}

func TestHandlerPanicDoesNotStopOtherSubscribers(t *testing.T) {
	bus := NewBus(testLogger())

	calls := 0
	_, err := bus.Subscribe(MatchAll(), func(context.Context, Notification) { panic("bad handler") })
	require.NoError(t, err)
	_, err = bus.Subscribe(MatchAll(), func(context.Context, Notification) { calls++ })
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, bus.Publish(context.Background(), NewCompleted("t1", "", "x")))
	})
	assert.Equal(t, 1, calls)
}

// Every publish is either delivered or recorded while subscriptions come and go.
func TestPublishDeliveredOrRecordedUnderConcurrentSubscribe(t *testing.T) {
	rec := &collectingRecorder{}
	bus := NewBus(testLogger(), WithRecorder(rec))

	var mu sync.Mutex
	delivered := 0
	handler := func(context.Context, Notification) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}

	const total = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			sub, err := bus.Subscribe(MatchAll(), handler)
			if err == nil {
				sub.Unsubscribe()
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			_ = bus.Publish(context.Background(), NewCompleted("t", "s", "x"))
		}
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, total, delivered+len(rec.recorded()))
}

func TestUnsubscribeBeforeScheduledDeliveryRecords(t *testing.T) {
	var queued []func()
	rec := &collectingRecorder{}
	bus := NewBus(testLogger(),
		WithRecorder(rec),
		WithScheduler(func(fn func()) { queued = append(queued, fn) }))

	delivered := 0
	sub, err := bus.Subscribe(MatchCorrelation("s1"), func(context.Context, Notification) { delivered++ })
	require.NoError(t, err)

	n := NewCompleted("t1", "s1", "done")
	require.NoError(t, bus.Publish(context.Background(), n))
	require.Len(t, queued, 1)

	sub.Unsubscribe()
	queued[0]()

	assert.Zero(t, delivered, "a closed subscription receives nothing")
	assert.Equal(t, []Notification{n}, rec.recorded())
}

func TestUnsubscribeBeforeScheduledDeliveryKeepsOtherSubscribers(t *testing.T) {
	var queued []func()
	rec := &collectingRecorder{}
	bus := NewBus(testLogger(),
		WithRecorder(rec),
		WithScheduler(func(fn func()) { queued = append(queued, fn) }))

	gone, err := bus.Subscribe(MatchAll(), func(context.Context, Notification) {
		t.Error("unsubscribed handler called")
	})
	require.NoError(t, err)
	delivered := 0
	_, err = bus.Subscribe(MatchAll(), func(context.Context, Notification) { delivered++ })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewCompleted("t1", "s1", "done")))
	require.Len(t, queued, 2)

	gone.Unsubscribe()
	for _, fn := range queued {
		fn()
	}

	assert.Equal(t, 1, delivered)
	assert.Empty(t, rec.recorded())
}

func TestUnsubscribeBeforeScheduledDeliveryReachesNewSubscriber(t *testing.T) {
	var queued []func()
	rec := &collectingRecorder{}
	bus := NewBus(testLogger(),
		WithRecorder(rec),
		WithScheduler(func(fn func()) { queued = append(queued, fn) }))

	old, err := bus.Subscribe(MatchCorrelation("s1"), func(context.Context, Notification) {
		t.Error("unsubscribed handler called")
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewCompleted("t1", "s1", "done")))
	old.Unsubscribe()

	var got []string
	_, err = bus.Subscribe(MatchCorrelation("s1"), func(_ context.Context, n Notification) {
		got = append(got, n.TaskID)
	})
	require.NoError(t, err)

	queued[0]()
	require.Len(t, queued, 2, "the notification is scheduled again for the new subscriber")
	queued[1]()

	assert.Equal(t, []string{"t1"}, got)
	assert.Empty(t, rec.recorded())
}
