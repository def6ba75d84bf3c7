package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/events"
	"github.com/phrazzld/agentflow/internal/platform/logger"
	"github.com/phrazzld/agentflow/internal/sharing"
	"github.com/phrazzld/agentflow/internal/task"
)

// StatusNamespace is the namespace that holds recorded task outcomes.
const StatusNamespace = "_task_status"

// DefaultSession receives outcomes of tasks submitted without a correlation key.
const DefaultSession = "default"

// Outcome is the recorded terminal state of one task.
type Outcome struct {
	TaskID     string      `json:"task_id"`
	Status     task.Status `json:"status"`
	Result     string      `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	FinishedAt time.Time   `json:"finished_at"`
}

// OutcomeFromNotification converts a terminal notification.
func OutcomeFromNotification(n events.Notification) Outcome {
	o := Outcome{
		TaskID:     n.TaskID,
		Status:     task.StatusCompleted,
		Result:     n.Result,
		FinishedAt: n.OccurredAt.UTC(),
	}
	if n.Kind == events.KindFailed {
		o.Status = task.StatusFailed
		o.Error = n.ErrorMessage()
	}
	return o
}

// Notification rebuilds the notification an outcome was recorded from.
func (o Outcome) Notification(correlationKey string) events.Notification {
	var n events.Notification
	if o.Status == task.StatusFailed {
		n = events.NewFailed(o.TaskID, correlationKey, errors.New(o.Error))
	} else {
		n = events.NewCompleted(o.TaskID, correlationKey, o.Result)
	}
	if !o.FinishedAt.IsZero() {
		n.OccurredAt = o.FinishedAt
	}
	return n
}

// data encodes the outcome as a partition value every storage format keeps.
func (o Outcome) data() map[string]any {
	return map[string]any{
		"status":      string(o.Status),
		"result":      o.Result,
		"error":       o.Error,
		"finished_at": o.FinishedAt.Format(time.RFC3339Nano),
	}
}

// outcomeFromData decodes a partition value written by data.
func outcomeFromData(taskID string, v any) (Outcome, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Outcome{}, false
	}

	status, _ := m["status"].(string)
	o := Outcome{TaskID: taskID, Status: task.Status(status)}
	if !o.Status.IsTerminal() {
		return Outcome{}, false
	}
	o.Result, _ = m["result"].(string)
	o.Error, _ = m["error"].(string)

	switch ts := m["finished_at"].(type) {
	case string:
		o.FinishedAt, _ = time.Parse(time.RFC3339Nano, ts)
	case time.Time:
		o.FinishedAt = ts
	}
	return o, true
}

// decodeOutcomes converts a status namespace into outcomes, skipping values
// that were not written by the recorder.
func decodeOutcomes(data map[string]any) map[string]Outcome {
	out := make(map[string]Outcome, len(data))
	for id, v := range data {
		if o, ok := outcomeFromData(id, v); ok {
			out[id] = o
		}
	}
	return out
}

// SessionEnsurer creates sessions on demand.
type SessionEnsurer interface {
	LoadOrCreate(ctx context.Context, name string) (*domain.SessionRecord, error)
}

// HandleProvider resolves namespace handles.
type HandleProvider interface {
	Handle(session, namespace string) *sharing.Handle
}

// OutcomeRecorder is the bus recorder that keeps unmatched notifications in
// the status namespace of the session named by their correlation key.
type OutcomeRecorder struct {
	sessions SessionEnsurer
	handles  HandleProvider
	logger   *slog.Logger
}

var _ events.Recorder = (*OutcomeRecorder)(nil)

// NewOutcomeRecorder creates a recorder.
func NewOutcomeRecorder(sessions SessionEnsurer, handles HandleProvider, logger *slog.Logger) *OutcomeRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomeRecorder{
		sessions: sessions,
		handles:  handles,
		logger:   logger.With("component", "outcome_recorder"),
	}
}

// Record implements events.Recorder.
func (r *OutcomeRecorder) Record(ctx context.Context, n events.Notification) error {
	name := sessionFor(n.CorrelationKey)
	if _, err := r.sessions.LoadOrCreate(ctx, name); err != nil {
		return NewTaskServiceError("record", "failed to open session "+name, err)
	}

	o := OutcomeFromNotification(n)
	h := r.handles.Handle(name, StatusNamespace)
	if err := h.Update(ctx, map[string]any{n.TaskID: o.data()}); err != nil {
		return NewTaskServiceError("record", "failed to store outcome", err)
	}

	logger.FromContextOrDefault(ctx, r.logger).Info("recorded unobserved task outcome",
		"task_id", n.TaskID,
		"session", name,
		"status", o.Status)
	return nil
}

func sessionFor(correlationKey string) string {
	if correlationKey == "" {
		return DefaultSession
	}
	return correlationKey
}
