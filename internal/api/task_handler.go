package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/agentflow/internal/api/shared"
	"github.com/phrazzld/agentflow/internal/events"
	"github.com/phrazzld/agentflow/internal/platform/logger"
	"github.com/phrazzld/agentflow/internal/redact"
	"github.com/phrazzld/agentflow/internal/service"
	"github.com/phrazzld/agentflow/internal/task"
)

// DefaultKeepAlive is how often an idle outcome stream sends a comment line.
const DefaultKeepAlive = 15 * time.Second

// TaskService is the part of service.TaskService the handlers use.
type TaskService interface {
	SubmitGeneration(ctx context.Context, req service.GenerateRequest) (*task.Handle, error)
	Status(id string) (task.Snapshot, bool)
	Active() []task.Snapshot
	Cancel(ctx context.Context, id string) error
	Outcomes(ctx context.Context, session string) (map[string]service.Outcome, error)
	Attach(ctx context.Context, req service.AttachRequest) (*service.Attachment, error)
}

// TaskHandler serves task submission, status and outcome endpoints.
type TaskHandler struct {
	tasks     TaskService
	recorder  events.Recorder
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewTaskHandler creates a TaskHandler. recorder receives outcomes that were
// delivered to a stream but never written because the client went away; it
// should be the same recorder the event bus uses.
func NewTaskHandler(tasks TaskService, recorder events.Recorder, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		tasks:     tasks,
		recorder:  recorder,
		keepAlive: DefaultKeepAlive,
		logger:    logger.With("component", "task_handler"),
	}
}

// SubmitTask handles POST /tasks.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req service.GenerateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	handle, err := h.tasks.SubmitGeneration(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	snap, ok := h.tasks.Status(handle.ID())
	if !ok {
		snap = task.Snapshot{ID: handle.ID(), Status: handle.Status()}
	}
	w.Header().Set("Location", "/api/tasks/"+handle.ID())
	shared.RespondWithJSON(w, r, http.StatusAccepted, safeSnapshot(snap))
}

// ListTasks handles GET /tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	snaps := h.tasks.Active()
	for i := range snaps {
		snaps[i] = safeSnapshot(snaps[i])
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{Tasks: snaps})
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.tasks.Status(chi.URLParam(r, "id"))
	if !ok {
		respondWithServiceError(w, r, task.ErrTaskNotFound)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, safeSnapshot(snap))
}

// CancelTask handles DELETE /tasks/{id}.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	if err := h.tasks.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetOutcomes handles GET /sessions/{name}/outcomes. It lists outcomes
// recorded while no consumer was attached, without acknowledging them.
func (h *TaskHandler) GetOutcomes(w http.ResponseWriter, r *http.Request) {
	name, ok := sessionParam(w, r)
	if !ok {
		return
	}
	outcomes, err := h.tasks.Outcomes(r.Context(), name)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	for id, o := range outcomes {
		outcomes[id] = safeOutcome(o)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, OutcomesResponse{Session: name, Outcomes: outcomes})
}

// StreamOutcomes handles GET /sessions/{name}/events. It attaches to the
// session as a server-sent event stream: recorded outcomes are replayed
// first, then live ones follow until the client disconnects.
func (h *TaskHandler) StreamOutcomes(w http.ResponseWriter, r *http.Request) {
	name, ok := sessionParam(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger).With("session", name)
	stream := newOutcomeStream(func(ctx context.Context, n events.Notification) {
		h.rerecord(ctx, log, n)
	})

	att, err := h.tasks.Attach(ctx, service.AttachRequest{Session: name, Handler: stream.push})
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	defer func() {
		att.Detach()
		for _, n := range stream.close() {
			h.rerecord(context.WithoutCancel(ctx), log, n)
		}
		log.Debug("outcome stream closed")
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	log.Debug("outcome stream opened", "replayed", len(att.Replayed))

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		if err := stream.flush(w); err != nil {
			log.Debug("outcome stream write failed", "error", err)
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-stream.ready:
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
	}
}

func (h *TaskHandler) rerecord(ctx context.Context, log *slog.Logger, n events.Notification) {
	if h.recorder == nil {
		log.Warn("undelivered outcome dropped, no recorder", "task_id", n.TaskID)
		return
	}
	if err := h.recorder.Record(ctx, n); err != nil {
		log.Error("failed to record undelivered outcome", "task_id", n.TaskID, "error", err)
	}
}

// Routes registers the handler's endpoints on r.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Post("/tasks", h.SubmitTask)
	r.Get("/tasks", h.ListTasks)
	r.Get("/tasks/{id}", h.GetTask)
	r.Delete("/tasks/{id}", h.CancelTask)
	r.Get("/sessions/{name}/outcomes", h.GetOutcomes)
	r.Get("/sessions/{name}/events", h.StreamOutcomes)
}

// outcomeStream buffers notifications between the bus, which must never
// block on a slow client, and the goroutine writing the response.
type outcomeStream struct {
	mu       sync.Mutex
	pending  []events.Notification
	closed   bool
	ready    chan struct{}
	fallback events.Handler
}

func newOutcomeStream(fallback events.Handler) *outcomeStream {
	return &outcomeStream{ready: make(chan struct{}, 1), fallback: fallback}
}

// push is the subscription handler. After close, notifications go to the
// fallback so none is lost between Detach and the final drain.
func (s *outcomeStream) push(ctx context.Context, n events.Notification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.fallback(ctx, n)
		return
	}
	s.pending = append(s.pending, n)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// flush writes every pending notification as an SSE event. On a write
// error the unwritten notifications stay pending.
func (s *outcomeStream) flush(w http.ResponseWriter) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for i, n := range batch {
		if err := writeEvent(w, n); err != nil {
			s.mu.Lock()
			s.pending = append(batch[i:], s.pending...)
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

func (s *outcomeStream) close() []events.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	rest := s.pending
	s.pending = nil
	return rest
}

// Task errors often wrap provider responses, so they are redacted before
// leaving the process.
func safeOutcome(o service.Outcome) service.Outcome {
	o.Error = redact.String(o.Error)
	return o
}

func safeSnapshot(s task.Snapshot) task.Snapshot {
	s.Error = redact.String(s.Error)
	return s
}

func writeEvent(w http.ResponseWriter, n events.Notification) error {
	payload, err := json.Marshal(safeOutcome(service.OutcomeFromNotification(n)))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: outcome\nid: %s\ndata: %s\n\n", n.TaskID, payload)
	return err
}
