package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/agentflow/internal/api/shared"
	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/sharing"
)

// SessionStore is the part of session.Store the handlers use.
type SessionStore interface {
	ListSessions(ctx context.Context) ([]string, error)
	Create(ctx context.Context, name string) (*domain.SessionRecord, error)
	Load(ctx context.Context, name string) (*domain.SessionRecord, error)
	Delete(ctx context.Context, name string) error
}

// HandleProvider resolves namespace handles that follow the sharing mode.
type HandleProvider interface {
	Handle(session, namespace string) *sharing.Handle
}

// SessionHandler serves session and namespace endpoints.
type SessionHandler struct {
	sessions SessionStore
	handles  HandleProvider
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionStore, handles HandleProvider) *SessionHandler {
	return &SessionHandler{sessions: sessions, handles: handles}
}

// ListSessions handles GET /sessions.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	names, err := h.sessions.ListSessions(r.Context())
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ListSessionsResponse{Sessions: names})
}

// CreateSession handles POST /sessions.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	record, err := h.sessions.Create(r.Context(), req.Name)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, record)
}

// GetSession handles GET /sessions/{name}.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	name, ok := sessionParam(w, r)
	if !ok {
		return
	}
	record, err := h.sessions.Load(r.Context(), name)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, record)
}

// DeleteSession handles DELETE /sessions/{name}.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	name, ok := sessionParam(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Delete(r.Context(), name); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetNamespace handles GET /sessions/{name}/namespaces/{ns}. Reads follow
// the sharing mode, so a shared session returns its merged partition.
func (h *SessionHandler) GetNamespace(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.handle(w, r)
	if !ok {
		return
	}
	data, err := handle.Get(r.Context())
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, NamespaceResponse{
		Session:   handle.Session(),
		Namespace: handle.Namespace(),
		Data:      data,
	})
}

// UpdateNamespace handles PUT /sessions/{name}/namespaces/{ns}.
func (h *SessionHandler) UpdateNamespace(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.handle(w, r)
	if !ok {
		return
	}
	var req UpdateNamespaceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := handle.Update(r.Context(), req.Data); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	data, err := handle.Get(r.Context())
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, NamespaceResponse{
		Session:   handle.Session(),
		Namespace: handle.Namespace(),
		Data:      data,
	})
}

// DeleteNamespaceKeys handles DELETE /sessions/{name}/namespaces/{ns}?key=a&key=b.
func (h *SessionHandler) DeleteNamespaceKeys(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.handle(w, r)
	if !ok {
		return
	}
	var keys []string
	for _, k := range r.URL.Query()["key"] {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "At least one key is required")
		return
	}

	if err := handle.Remove(r.Context(), keys...); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory handles GET /sessions/{name}/namespaces/{ns}/history.
func (h *SessionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.handle(w, r)
	if !ok {
		return
	}
	history, err := handle.History(r.Context())
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HistoryResponse{
		Session:   handle.Session(),
		Namespace: handle.Namespace(),
		History:   history,
	})
}

func (h *SessionHandler) handle(w http.ResponseWriter, r *http.Request) (*sharing.Handle, bool) {
	name, ok := sessionParam(w, r)
	if !ok {
		return nil, false
	}
	ns, ok := namespaceParam(w, r)
	if !ok {
		return nil, false
	}
	return h.handles.Handle(name, ns), true
}

// Routes registers the handler's endpoints on r.
func (h *SessionHandler) Routes(r chi.Router) {
	r.Get("/sessions", h.ListSessions)
	r.Post("/sessions", h.CreateSession)
	r.Get("/sessions/{name}", h.GetSession)
	r.Delete("/sessions/{name}", h.DeleteSession)
	r.Get("/sessions/{name}/namespaces/{ns}", h.GetNamespace)
	r.Put("/sessions/{name}/namespaces/{ns}", h.UpdateNamespace)
	r.Delete("/sessions/{name}/namespaces/{ns}", h.DeleteNamespaceKeys)
	r.Get("/sessions/{name}/namespaces/{ns}/history", h.GetHistory)
}
