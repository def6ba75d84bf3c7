package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Errors returned by Publish.
var (
	ErrNonTerminal  = errors.New("notification kind is not terminal")
	ErrEmptyTaskID  = errors.New("notification task ID cannot be empty")
	ErrBusNoHandler = errors.New("subscription handler cannot be nil")
)

// Kind distinguishes the two terminal outcomes of a task.
type Kind string

// Notification kinds.
const (
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// IsTerminal reports whether k is one of the terminal kinds.
func (k Kind) IsTerminal() bool {
	return k == KindCompleted || k == KindFailed
}

// Notification reports the terminal outcome of one task.
type Notification struct {
	// ID uniquely identifies this notification.
	ID uuid.UUID

	Kind   Kind
	TaskID string

	// CorrelationKey names the session that receives the outcome when no
	// subscriber is listening.
	CorrelationKey string

	// Result is set for KindCompleted; Error for KindFailed.
	Result string
	Error  error

	OccurredAt time.Time
}

// NewCompleted builds a completion notification.
func NewCompleted(taskID, correlationKey, result string) Notification {
	return Notification{
		ID:             uuid.New(),
		Kind:           KindCompleted,
		TaskID:         taskID,
		CorrelationKey: correlationKey,
		Result:         result,
		OccurredAt:     time.Now().UTC(),
	}
}

// NewFailed builds a failure notification.
func NewFailed(taskID, correlationKey string, err error) Notification {
	return Notification{
		ID:             uuid.New(),
		Kind:           KindFailed,
		TaskID:         taskID,
		CorrelationKey: correlationKey,
		Error:          err,
		OccurredAt:     time.Now().UTC(),
	}
}

// Validate checks that n can be published.
func (n Notification) Validate() error {
	if !n.Kind.IsTerminal() {
		return fmt.Errorf("%w: %q", ErrNonTerminal, n.Kind)
	}
	if n.TaskID == "" {
		return ErrEmptyTaskID
	}
	return nil
}

// ErrorMessage returns the failure text, or "" for completions.
func (n Notification) ErrorMessage() string {
	if n.Error == nil {
		return ""
	}
	return n.Error.Error()
}

// Predicate selects the notifications a subscription receives.
type Predicate func(Notification) bool

// MatchID matches notifications for exactly one task.
func MatchID(taskID string) Predicate {
	return func(n Notification) bool { return n.TaskID == taskID }
}

// MatchPrefix matches notifications whose task ID starts with prefix.
func MatchPrefix(prefix string) Predicate {
	return func(n Notification) bool { return strings.HasPrefix(n.TaskID, prefix) }
}

// MatchCorrelation matches notifications carrying the given correlation key.
func MatchCorrelation(key string) Predicate {
	return func(n Notification) bool { return n.CorrelationKey == key }
}

// MatchAll matches every notification.
func MatchAll() Predicate {
	return func(Notification) bool { return true }
}

// MatchBoth matches notifications accepted by both predicates.
func MatchBoth(a, b Predicate) Predicate {
	return func(n Notification) bool { return a(n) && b(n) }
}

// Handler receives matched notifications.
type Handler func(ctx context.Context, n Notification)

// Recorder durably keeps notifications that no subscriber matched.
type Recorder interface {
	Record(ctx context.Context, n Notification) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, n Notification) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Scheduler runs a delivery callback, typically on the consumer's own loop.
type Scheduler func(fn func())

// Publisher is the write side of the bus used by producers.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}
