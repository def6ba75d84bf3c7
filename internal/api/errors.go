package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/agentflow/internal/api/shared"
	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/generation"
	"github.com/phrazzld/agentflow/internal/service"
	"github.com/phrazzld/agentflow/internal/sharing"
	"github.com/phrazzld/agentflow/internal/store"
	"github.com/phrazzld/agentflow/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing the errors themselves.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, task.ErrDuplicateTask),
		errors.Is(err, task.ErrTaskNotQueued),
		errors.Is(err, sharing.ErrSharedSessionMismatch),
		errors.Is(err, sharing.ErrSharedSessionExists):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, sharing.ErrNoSessions),
		errors.Is(err, task.ErrInvalidTask),
		errors.Is(err, generation.ErrEmptyPrompt),
		errors.Is(err, shared.ErrEmptyBody):
		return http.StatusBadRequest

	case errors.Is(err, task.ErrQueueFull):
		return http.StatusTooManyRequests

	case errors.Is(err, task.ErrCoordinatorClosed),
		errors.Is(err, task.ErrQueueClosed),
		errors.Is(err, service.ErrGenerationUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var transition *sharing.SyncTransitionError

	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return "Session not found"
	case errors.Is(err, task.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrSessionExists):
		return "Session already exists"
	case errors.Is(err, task.ErrDuplicateTask):
		return "A task with this ID is already queued or running"
	case errors.Is(err, task.ErrTaskNotQueued):
		return "Task is no longer queued"
	case errors.Is(err, sharing.ErrSharedSessionMismatch):
		return "Shared session is not the active one"
	case errors.Is(err, sharing.ErrSharedSessionExists):
		return "A shared session record already exists"
	case errors.Is(err, sharing.ErrNoSessions):
		return "At least one session is required"
	case errors.Is(err, domain.ErrEmptySessionName),
		errors.Is(err, domain.ErrInvalidSessionName):
		return "Invalid session name"
	case errors.Is(err, domain.ErrEmptyNamespace):
		return "Invalid namespace"
	case errors.Is(err, generation.ErrEmptyPrompt):
		return "Prompt cannot be empty"
	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"
	case errors.Is(err, task.ErrQueueFull):
		return "Task queue is full, retry later"
	case errors.Is(err, task.ErrCoordinatorClosed),
		errors.Is(err, task.ErrQueueClosed):
		return "Task coordinator is shutting down"
	case errors.Is(err, service.ErrGenerationUnavailable):
		return "Text generation is not configured"
	case errors.As(err, &transition):
		return "Sharing transition failed, previous mode kept"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, task.ErrInvalidTask):
		return "Invalid request"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator failures into a message naming
// the first offending field. Other errors yield a generic message.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), validationTagMessage(fe.Tag()))
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// respondWithServiceError writes the mapped status and safe message for err.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := MapErrorToStatusCode(err)
	var opts []shared.ResponseOption
	if status == http.StatusConflict {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err, opts...)
}
