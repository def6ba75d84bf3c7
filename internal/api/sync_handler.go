package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/agentflow/internal/api/shared"
	"github.com/phrazzld/agentflow/internal/sharing"
)

// SyncCoordinator is the part of sharing.Coordinator the handlers use.
type SyncCoordinator interface {
	Mode() sharing.Mode
	Current() *sharing.SharedSession
	EnableSharing(ctx context.Context, names []string) (*sharing.SharedSession, error)
	DisableSharing(ctx context.Context, shared *sharing.SharedSession) (map[string]*sharing.Handle, error)
	Handle(session, namespace string) *sharing.Handle
	SwitchSession(ctx context.Context, h *sharing.Handle, newSession string) error
}

// SyncHandler serves the sharing-mode endpoints.
type SyncHandler struct {
	sync SyncCoordinator
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(sync SyncCoordinator) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// GetStatus handles GET /sync.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, SyncStatusResponse{
		Mode:   h.sync.Mode(),
		Shared: h.sync.Current(),
	})
}

// EnableSharing handles POST /sync. Enabling while already shared returns
// the active shared session unchanged.
func (h *SyncHandler) EnableSharing(w http.ResponseWriter, r *http.Request) {
	var req EnableSyncRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	s, err := h.sync.EnableSharing(r.Context(), req.Sessions)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, SyncStatusResponse{Mode: sharing.ModeShared, Shared: s})
}

// DisableSharing handles DELETE /sync.
func (h *SyncHandler) DisableSharing(w http.ResponseWriter, r *http.Request) {
	handles, err := h.sync.DisableSharing(r.Context(), h.sync.Current())
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	partitions := make([]string, 0, len(handles))
	for key := range handles {
		partitions = append(partitions, key)
	}
	sort.Strings(partitions)
	shared.RespondWithJSON(w, r, http.StatusOK, DisableSyncResponse{
		Mode:       sharing.ModeIsolated,
		Partitions: partitions,
	})
}

// SwitchSession handles POST /sync/switch. It moves a consumer's namespace
// from one session to another, creating the target session when needed.
// Switching while sharing is active stops sharing.
func (h *SyncHandler) SwitchSession(w http.ResponseWriter, r *http.Request) {
	var req SwitchSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	handle := h.sync.Handle(req.Session, req.Namespace)
	if err := h.sync.SwitchSession(r.Context(), handle, req.To); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	data, err := handle.Get(r.Context())
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, SwitchSessionResponse{
		Mode: h.sync.Mode(),
		NamespaceResponse: NamespaceResponse{
			Session:   handle.Session(),
			Namespace: handle.Namespace(),
			Data:      data,
		},
	})
}

// Routes registers the handler's endpoints on r.
func (h *SyncHandler) Routes(r chi.Router) {
	r.Get("/sync", h.GetStatus)
	r.Post("/sync", h.EnableSharing)
	r.Delete("/sync", h.DisableSharing)
	r.Post("/sync/switch", h.SwitchSession)
}
