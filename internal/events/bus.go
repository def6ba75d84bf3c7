package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Bus routes notifications to matching subscriptions or, failing that, to
// the recorder.
type Bus struct {
	mu        sync.Mutex
	subs      map[uint64]*Subscription
	nextID    uint64
	recorder  Recorder
	scheduler Scheduler
	logger    *slog.Logger
}

var _ Publisher = (*Bus)(nil)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithScheduler makes the bus hand every delivery to s instead of calling
// the handler on the publishing goroutine.
func WithScheduler(s Scheduler) BusOption {
	return func(b *Bus) { b.scheduler = s }
}

// WithRecorder sets the recorder for unmatched notifications.
func WithRecorder(r Recorder) BusOption {
	return func(b *Bus) { b.recorder = r }
}

// NewBus creates a bus. Without a scheduler, handlers run inline.
func NewBus(logger *slog.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: logger.With("component", "event_bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for notifications accepted by pred.
func (b *Bus) Subscribe(pred Predicate, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrBusNoHandler
	}
	if pred == nil {
		pred = MatchAll()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, bus: b, pred: pred, handler: handler}
	b.subs[sub.id] = sub
	b.logger.Debug("subscription added", "subscription_id", sub.id, "subscription_count", len(b.subs))
	return sub, nil
}

// Publish delivers n to every matching subscription. When none matches, n
// is recorded instead and any recorder error is returned. A subscription
// that unsubscribes before its delivery runs does not receive n; if no
// matched subscription does, n is published again, so it reaches a newer
// subscriber or the recorder.
func (b *Bus) Publish(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	matched := make([]*Subscription, 0, 1)
	for _, sub := range b.subs {
		if sub.pred(n) {
			matched = append(matched, sub)
		}
	}

	if len(matched) == 0 {
		defer b.mu.Unlock()
		return b.record(ctx, n)
	}
	scheduler := b.scheduler
	b.mu.Unlock()

	b.logger.Debug("delivering notification",
		"task_id", n.TaskID,
		"kind", n.Kind,
		"subscriber_count", len(matched))

	d := &dispatch{}
	d.pending.Store(int32(len(matched)))
	for _, sub := range matched {
		deliver := func() { b.deliver(ctx, sub, n, d) }
		if scheduler != nil {
			scheduler(deliver)
		} else {
			deliver()
		}
	}
	return nil
}

// dispatch tracks the deliveries of one published notification.
type dispatch struct {
	pending   atomic.Int32
	delivered atomic.Bool
}

func (b *Bus) deliver(ctx context.Context, sub *Subscription, n Notification, d *dispatch) {
	if !sub.closed.Load() {
		d.delivered.Store(true)
		sub.deliver(ctx, n, b.logger)
	}
	if d.pending.Add(-1) > 0 || d.delivered.Load() {
		return
	}

	b.logger.Debug("subscribers left before delivery, republishing",
		"task_id", n.TaskID,
		"correlation_key", n.CorrelationKey)
	if err := b.Publish(context.WithoutCancel(ctx), n); err != nil {
		b.logger.Error("failed to republish notification",
			"task_id", n.TaskID,
			"error", err)
	}
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// record is called with b.mu held.
func (b *Bus) record(ctx context.Context, n Notification) error {
	if b.recorder == nil {
		b.logger.Warn("notification dropped, no subscriber and no recorder",
			"task_id", n.TaskID,
			"kind", n.Kind)
		return nil
	}

	if err := b.recorder.Record(ctx, n); err != nil {
		b.logger.Error("failed to record notification",
			"task_id", n.TaskID,
			"correlation_key", n.CorrelationKey,
			"error", err)
		return fmt.Errorf("record notification for task %s: %w", n.TaskID, err)
	}

	b.logger.Debug("notification recorded",
		"task_id", n.TaskID,
		"correlation_key", n.CorrelationKey,
		"kind", n.Kind)
	return nil
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub.closed.Store(true)
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		b.logger.Debug("subscription removed", "subscription_id", sub.id, "subscription_count", len(b.subs))
	}
}

// Subscription is a registered interest in notifications.
type Subscription struct {
	id      uint64
	bus     *Bus
	pred    Predicate
	handler Handler
	once    sync.Once
	closed  atomic.Bool
}

// ID returns the subscription's identifier, unique within its bus.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Unsubscribe stops future deliveries, including ones already scheduled but
// not yet started. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s) })
}

func (s *Subscription) deliver(ctx context.Context, n Notification, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notification handler panicked",
				"subscription_id", s.id,
				"task_id", n.TaskID,
				"panic", r)
		}
	}()
	s.handler(ctx, n)
}
