package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/agentflow/internal/api/shared"
	"github.com/phrazzld/agentflow/internal/domain"
)

// sessionParam returns the validated {name} path parameter, writing a 400
// response when it is unusable.
func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if err := domain.ValidateSessionName(name); err != nil {
		respondWithServiceError(w, r, err)
		return "", false
	}
	return name, true
}

// namespaceParam returns the validated {ns} path parameter.
func namespaceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	ns := chi.URLParam(r, "ns")
	if err := domain.ValidateNamespace(ns); err != nil {
		respondWithServiceError(w, r, err)
		return "", false
	}
	return ns, true
}

// decodeAndValidate decodes the body into v and validates it, writing a 400
// response on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := shared.DecodeJSON(w, r, v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}
