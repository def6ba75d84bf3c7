package api

import (
	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/service"
	"github.com/phrazzld/agentflow/internal/sharing"
	"github.com/phrazzld/agentflow/internal/task"
)

// CreateSessionRequest defines the payload for creating a session.
type CreateSessionRequest struct {
	Name string `json:"name" validate:"required"`
}

// ListSessionsResponse lists stored session names.
type ListSessionsResponse struct {
	Sessions []string `json:"sessions"`
}

// UpdateNamespaceRequest merges Data into a namespace.
type UpdateNamespaceRequest struct {
	Data map[string]any `json:"data" validate:"required"`
}

// NamespaceResponse is the current content of one namespace.
type NamespaceResponse struct {
	Session   string         `json:"session"`
	Namespace string         `json:"namespace"`
	Data      map[string]any `json:"data"`
}

// HistoryResponse is the command history of one namespace.
type HistoryResponse struct {
	Session   string                `json:"session"`
	Namespace string                `json:"namespace"`
	History   []domain.HistoryEntry `json:"history"`
}

// EnableSyncRequest names the sessions to merge.
type EnableSyncRequest struct {
	Sessions []string `json:"sessions" validate:"required,min=1,dive,required"`
}

// SyncStatusResponse reports the sharing mode.
type SyncStatusResponse struct {
	Mode   sharing.Mode           `json:"mode"`
	Shared *sharing.SharedSession `json:"shared,omitempty"`
}

// DisableSyncResponse lists the partitions restored to their sessions.
type DisableSyncResponse struct {
	Mode       sharing.Mode `json:"mode"`
	Partitions []string     `json:"partitions"`
}

// SwitchSessionRequest moves a consumer's namespace to another session.
type SwitchSessionRequest struct {
	Session   string `json:"session" validate:"required"`
	Namespace string `json:"namespace" validate:"required"`
	To        string `json:"to" validate:"required"`
}

// SwitchSessionResponse reports the namespace after a switch and the
// resulting sharing mode.
type SwitchSessionResponse struct {
	NamespaceResponse
	Mode sharing.Mode `json:"mode"`
}

// TaskListResponse lists queued and running tasks.
type TaskListResponse struct {
	Tasks []task.Snapshot `json:"tasks"`
}

// OutcomesResponse lists the outcomes recorded for a session.
type OutcomesResponse struct {
	Session  string                     `json:"session"`
	Outcomes map[string]service.Outcome `json:"outcomes"`
}
