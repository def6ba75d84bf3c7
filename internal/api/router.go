package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/agentflow/internal/api/middleware"
	"github.com/phrazzld/agentflow/internal/api/shared"
	"github.com/phrazzld/agentflow/internal/events"
	"github.com/phrazzld/agentflow/internal/service/auth"
)

// Dependencies are the services the router exposes.
type Dependencies struct {
	Sessions SessionStore
	Handles  HandleProvider
	Sync     SyncCoordinator
	Tasks    TaskService

	// Recorder stores outcomes a stream accepted but could not write.
	Recorder events.Recorder

	// JWT protects /api. Nil disables authentication.
	JWT auth.JWTService

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Logger *slog.Logger
}

// NewRouter creates the HTTP handler for the operations API.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(logger))
	r.Use(chimiddleware.Recoverer)

	sessionHandler := NewSessionHandler(deps.Sessions, deps.Handles)
	syncHandler := NewSyncHandler(deps.Sync)
	taskHandler := NewTaskHandler(deps.Tasks, deps.Recorder, logger)
	authMiddleware := apiMiddleware.NewAuthMiddleware(deps.JWT)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		sessionHandler.Routes(r)
		syncHandler.Routes(r)
		taskHandler.Routes(r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{
			"status": "ok",
			"mode":   string(deps.Sync.Mode()),
		})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	return r
}
