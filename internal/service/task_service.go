package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/events"
	"github.com/phrazzld/agentflow/internal/generation"
	"github.com/phrazzld/agentflow/internal/platform/logger"
	"github.com/phrazzld/agentflow/internal/store"
	"github.com/phrazzld/agentflow/internal/task"
)

// TaskCoordinator is the part of task.Coordinator the service uses.
type TaskCoordinator interface {
	Submit(ctx context.Context, t *task.Task) (*task.Handle, error)
	Lookup(id string) (task.Snapshot, bool)
	Active() []task.Snapshot
	Cancel(ctx context.Context, id string) error
}

// Subscriber registers interest in notifications.
type Subscriber interface {
	Subscribe(pred events.Predicate, handler events.Handler) (*events.Subscription, error)
}

// SubmitRequest describes background work to run.
type SubmitRequest struct {
	// ID correlates the submission with its notification. Generated when empty.
	ID   string
	Work task.WorkFunc

	// CorrelationKey names the session that records the outcome when no
	// subscriber is attached. Empty uses DefaultSession.
	CorrelationKey string
	Decoration     task.Decoration
}

// GenerateRequest describes a text-generation call to run in the background.
type GenerateRequest struct {
	ID             string          `json:"id,omitempty"`
	CorrelationKey string          `json:"correlation_key,omitempty"`
	Input          string          `json:"input" validate:"required"`
	Decoration     task.Decoration `json:"decoration"`
}

// AttachRequest describes a consumer becoming active on a session.
type AttachRequest struct {
	Session string

	// Predicate narrows the notifications delivered; nil matches every task
	// correlated with Session.
	Predicate events.Predicate
	Handler   events.Handler
}

// Attachment is an active consumer registration.
type Attachment struct {
	subscription *events.Subscription

	// Replayed lists the task IDs whose recorded outcomes were delivered and
	// acknowledged during Attach, in sorted order.
	Replayed []string
}

// Detach stops live delivery. It is safe to call more than once.
func (a *Attachment) Detach() {
	a.subscription.Unsubscribe()
}

// TaskService submits background work and routes its outcomes.
type TaskService struct {
	coordinator TaskCoordinator
	bus         Subscriber
	handles     HandleProvider
	generator   generation.Generator
	logger      *slog.Logger
}

// NewTaskService creates a task service. generator may be nil, in which case
// SubmitGeneration returns ErrGenerationUnavailable.
func NewTaskService(
	coordinator TaskCoordinator,
	bus Subscriber,
	handles HandleProvider,
	generator generation.Generator,
	logger *slog.Logger,
) (*TaskService, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	if handles == nil {
		return nil, fmt.Errorf("handle provider cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		coordinator: coordinator,
		bus:         bus,
		handles:     handles,
		generator:   generator,
		logger:      logger.With("component", "task_service"),
	}, nil
}

// Submit enqueues work. It returns task.ErrDuplicateTask, task.ErrQueueFull
// or task.ErrCoordinatorClosed unwrapped so callers can match them.
func (s *TaskService) Submit(ctx context.Context, req SubmitRequest) (*task.Handle, error) {
	if req.Work == nil {
		return nil, fmt.Errorf("%w: work is required", ErrInvalidRequest)
	}
	if req.CorrelationKey != "" {
		if err := domain.ValidateSessionName(req.CorrelationKey); err != nil {
			return nil, fmt.Errorf("%w: correlation key: %v", ErrInvalidRequest, err)
		}
	}

	h, err := s.coordinator.Submit(ctx, &task.Task{
		ID:             req.ID,
		Work:           req.Work,
		Decoration:     req.Decoration,
		CorrelationKey: req.CorrelationKey,
	})
	if err != nil {
		return nil, err
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("task submitted",
		"task_id", h.ID(),
		"correlation_key", req.CorrelationKey)
	return h, nil
}

// SubmitGeneration submits a text-generation call built from req.
func (s *TaskService) SubmitGeneration(ctx context.Context, req GenerateRequest) (*task.Handle, error) {
	if s.generator == nil {
		return nil, ErrGenerationUnavailable
	}
	return s.Submit(ctx, SubmitRequest{
		ID:             req.ID,
		Work:           generation.NewWork(s.generator, req.Input, req.Decoration),
		CorrelationKey: req.CorrelationKey,
		Decoration:     req.Decoration,
	})
}

// Status returns the last known snapshot of a task.
func (s *TaskService) Status(id string) (task.Snapshot, bool) {
	return s.coordinator.Lookup(id)
}

// Active returns snapshots of queued and running tasks ordered by
// submission time.
func (s *TaskService) Active() []task.Snapshot {
	snaps := s.coordinator.Active()
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].SubmittedAt.Equal(snaps[j].SubmittedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].SubmittedAt.Before(snaps[j].SubmittedAt)
	})
	return snaps
}

// Cancel fails a queued task. Its outcome is routed like any other.
func (s *TaskService) Cancel(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidRequest)
	}
	return s.coordinator.Cancel(ctx, id)
}

// Outcomes returns the outcomes recorded for session and not yet
// acknowledged.
func (s *TaskService) Outcomes(ctx context.Context, session string) (map[string]Outcome, error) {
	data, err := s.handles.Handle(sessionFor(session), StatusNamespace).Get(ctx)
	if err != nil {
		return nil, err
	}
	return decodeOutcomes(data), nil
}

// Attach subscribes req.Handler to notifications correlated with
// req.Session, then replays and acknowledges outcomes recorded while nobody
// was listening. Subscribing first means every outcome arrives exactly once:
// either it was recorded before the subscription existed, or it is delivered
// live. Callers decide what to resubmit after Attach returns.
func (s *TaskService) Attach(ctx context.Context, req AttachRequest) (*Attachment, error) {
	if req.Handler == nil {
		return nil, fmt.Errorf("%w: handler is required", ErrInvalidRequest)
	}
	session := sessionFor(req.Session)
	if err := domain.ValidateSessionName(session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	pred := events.MatchCorrelation(req.Session)
	if req.Predicate != nil {
		pred = events.MatchBoth(pred, req.Predicate)
	}

	sub, err := s.bus.Subscribe(pred, req.Handler)
	if err != nil {
		return nil, NewTaskServiceError("attach", "failed to subscribe", err)
	}

	replayed, err := s.replay(ctx, session, req.Session, pred, req.Handler)
	if err != nil {
		sub.Unsubscribe()
		return nil, NewTaskServiceError("attach", "failed to replay recorded outcomes", err)
	}

	return &Attachment{subscription: sub, Replayed: replayed}, nil
}

func (s *TaskService) replay(
	ctx context.Context,
	session, correlationKey string,
	pred events.Predicate,
	handler events.Handler,
) ([]string, error) {
	h := s.handles.Handle(session, StatusNamespace)
	data, err := h.Get(ctx)
	if errors.Is(err, store.ErrSessionNotFound) {
		// Nothing can have been recorded for a session that does not exist yet.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	outcomes := decodeOutcomes(data)
	ids := make([]string, 0, len(outcomes))
	for id, o := range outcomes {
		if pred(o.Notification(correlationKey)) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	for _, id := range ids {
		handler(ctx, outcomes[id].Notification(correlationKey))
	}
	if err := h.Remove(ctx, ids...); err != nil {
		return nil, err
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("replayed recorded task outcomes",
		"session", session,
		"count", len(ids))
	return ids, nil
}
