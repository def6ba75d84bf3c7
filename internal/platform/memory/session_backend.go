package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/store"
)

// SessionBackend keeps session records in a map guarded by a RWMutex.
// Records are cloned on the way in and on the way out.
type SessionBackend struct {
	mu       sync.RWMutex
	sessions map[string]*domain.SessionRecord
}

var _ store.SessionBackend = (*SessionBackend)(nil)

// NewSessionBackend creates an empty backend.
func NewSessionBackend() *SessionBackend {
	return &SessionBackend{sessions: make(map[string]*domain.SessionRecord)}
}

// Create implements store.SessionBackend.
func (b *SessionBackend) Create(ctx context.Context, record *domain.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return store.NewStoreError("session", "create", "invalid record", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[record.Name]; ok {
		return store.ErrSessionExists
	}
	b.sessions[record.Name] = record.Clone()
	return nil
}

// Load implements store.SessionBackend.
func (b *SessionBackend) Load(ctx context.Context, name string) (*domain.SessionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.sessions[name]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return rec.Clone(), nil
}

// Save implements store.SessionBackend.
func (b *SessionBackend) Save(ctx context.Context, record *domain.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return store.NewStoreError("session", "save", "invalid record", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.sessions[record.Name] = record.Clone()
	return nil
}

// List implements store.SessionBackend.
func (b *SessionBackend) List(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.sessions))
	for name := range b.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements store.SessionBackend.
func (b *SessionBackend) Delete(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[name]; !ok {
		return store.ErrSessionNotFound
	}
	delete(b.sessions, name)
	return nil
}
