package store

import (
	"context"

	"github.com/phrazzld/agentflow/internal/domain"
)

// SessionBackend is the persistence port for session records. One record is
// stored per session name. Implementations must be safe for concurrent use;
// callers serialize writes to a single session themselves.
type SessionBackend interface {
	// Create persists a new record. It returns ErrSessionExists if a record
	// with the same name is already stored.
	Create(ctx context.Context, record *domain.SessionRecord) error

	// Load returns the stored record. It returns ErrSessionNotFound if absent.
	Load(ctx context.Context, name string) (*domain.SessionRecord, error)

	// Save replaces the stored record, creating it when absent. The write is
	// durable when Save returns nil.
	Save(ctx context.Context, record *domain.SessionRecord) error

	// List returns the names of all stored sessions in sorted order.
	List(ctx context.Context) ([]string, error)

	// Delete removes the record. It returns ErrSessionNotFound if absent.
	Delete(ctx context.Context, name string) error
}
