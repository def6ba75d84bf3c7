package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/platform/logger"
	"github.com/phrazzld/agentflow/internal/store"
)

// MutateFunc changes a working copy of a session record. Returning an error
// discards the copy.
type MutateFunc func(record *domain.SessionRecord) error

// Store manages session records on top of a persistence backend. It caches
// records it has loaded or written; the cache is only replaced after the
// backend has accepted the write.
type Store struct {
	backend store.SessionBackend
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	cache map[string]*domain.SessionRecord
}

// NewStore creates a new session store backed by backend.
func NewStore(backend store.SessionBackend, logger *slog.Logger) *Store {
	if backend == nil {
		panic("backend cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		logger:  logger.With("component", "session_store"),
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]*sync.Mutex),
		cache:   make(map[string]*domain.SessionRecord),
	}
}

// sessionLock returns the mutex serializing writes to name.
func (s *Store) sessionLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) cached(name string) (*domain.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.cache[name]
	return r, ok
}

func (s *Store) remember(r *domain.SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[r.Name] = r
}

func (s *Store) forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, name)
}

// load returns the authoritative record for name without copying it.
// Callers must not mutate the result. A cache miss is filled under the
// session lock, so a slow backend read cannot replace a record that a
// concurrent write or delete has already settled.
func (s *Store) load(ctx context.Context, name string) (*domain.SessionRecord, error) {
	if err := domain.ValidateSessionName(name); err != nil {
		return nil, err
	}
	if r, ok := s.cached(name); ok {
		return r, nil
	}

	l := s.sessionLock(name)
	l.Lock()
	defer l.Unlock()
	return s.loadLocked(ctx, name)
}

// loadLocked is load for callers already holding the session lock.
func (s *Store) loadLocked(ctx context.Context, name string) (*domain.SessionRecord, error) {
	if r, ok := s.cached(name); ok {
		return r, nil
	}

	r, err := s.backend.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	r.Normalize()
	s.remember(r)
	return r, nil
}

// Load returns a copy of the named session record.
// It returns store.ErrSessionNotFound if the session does not exist.
func (s *Store) Load(ctx context.Context, name string) (*domain.SessionRecord, error) {
	r, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Exists reports whether the named session is stored.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.load(ctx, name)
	if err == nil {
		return true, nil
	}
	if store.IsNotFoundError(err) {
		return false, nil
	}
	return false, err
}

// Create persists a new empty session.
// It returns store.ErrSessionExists if the session already exists.
func (s *Store) Create(ctx context.Context, name string) (*domain.SessionRecord, error) {
	r, err := domain.NewSessionRecord(name)
	if err != nil {
		return nil, err
	}

	l := s.sessionLock(name)
	l.Lock()
	defer l.Unlock()

	if err := s.backend.Create(ctx, r); err != nil {
		return nil, err
	}
	s.remember(r)

	logger.FromContextOrDefault(ctx, s.logger).Info("session created", "session", name)
	return r.Clone(), nil
}

// LoadOrCreate returns the named session, creating it when absent.
func (s *Store) LoadOrCreate(ctx context.Context, name string) (*domain.SessionRecord, error) {
	r, err := s.Load(ctx, name)
	if err == nil || !store.IsNotFoundError(err) {
		return r, err
	}

	r, err = s.Create(ctx, name)
	if store.IsAlreadyExistsError(err) {
		// Lost a creation race; the winner's record is the one to use.
		return s.Load(ctx, name)
	}
	return r, err
}

// Mutate applies fn to a copy of the named session and saves the result.
// The cached record is replaced only after the backend save succeeds.
func (s *Store) Mutate(ctx context.Context, name string, fn MutateFunc) (*domain.SessionRecord, error) {
	if err := domain.ValidateSessionName(name); err != nil {
		return nil, err
	}

	l := s.sessionLock(name)
	l.Lock()
	defer l.Unlock()

	current, err := s.loadLocked(ctx, name)
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Name = name

	if err := s.backend.Save(ctx, working); err != nil {
		return nil, fmt.Errorf("failed to save session %q: %w", name, err)
	}
	s.remember(working)
	return working.Clone(), nil
}

// Save replaces the whole record stored under name, creating it if absent.
func (s *Store) Save(ctx context.Context, name string, record *domain.SessionRecord) error {
	if err := domain.ValidateSessionName(name); err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: record cannot be nil", store.ErrInvalidEntity)
	}

	l := s.sessionLock(name)
	l.Lock()
	defer l.Unlock()

	r := record.Clone()
	r.Name = name
	r.Normalize()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	if err := s.backend.Save(ctx, r); err != nil {
		return fmt.Errorf("failed to save session %q: %w", name, err)
	}
	s.remember(r)
	return nil
}

// Delete destroys the named session.
// It returns store.ErrSessionNotFound if the session does not exist.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := domain.ValidateSessionName(name); err != nil {
		return err
	}

	l := s.sessionLock(name)
	l.Lock()
	defer l.Unlock()

	if err := s.backend.Delete(ctx, name); err != nil {
		return err
	}
	s.forget(name)

	logger.FromContextOrDefault(ctx, s.logger).Info("session deleted", "session", name)
	return nil
}

// ListSessions returns the names of all stored sessions in sorted order.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	return s.backend.List(ctx)
}

// GetNamespaceData returns a copy of a namespace's data. A namespace that
// has never been written yields an empty map.
func (s *Store) GetNamespaceData(ctx context.Context, session, namespace string) (map[string]any, error) {
	if err := domain.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	r, err := s.load(ctx, session)
	if err != nil {
		return nil, err
	}
	return r.Namespace(namespace).Data, nil
}

// UpdateNamespaceData merges updates into a namespace and records the change
// in its history. It returns once the backend has persisted the update.
func (s *Store) UpdateNamespaceData(ctx context.Context, session, namespace string, updates map[string]any) error {
	if err := domain.ValidateNamespace(namespace); err != nil {
		return err
	}
	return s.update(ctx, session, namespace, updates)
}

// GetSharedData returns a copy of the session's shared data.
func (s *Store) GetSharedData(ctx context.Context, session string) (map[string]any, error) {
	r, err := s.load(ctx, session)
	if err != nil {
		return nil, err
	}
	return domain.CloneData(r.Shared.Data), nil
}

// UpdateSharedData merges updates into the session's shared partition.
func (s *Store) UpdateSharedData(ctx context.Context, session string, updates map[string]any) error {
	return s.update(ctx, session, "", updates)
}

func (s *Store) update(ctx context.Context, session, namespace string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	_, err := s.Mutate(ctx, session, func(r *domain.SessionRecord) error {
		r.ApplyUpdate(namespace, updates, s.now())
		return nil
	})
	if err != nil {
		return err
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("namespace updated",
		"session", session,
		"namespace", namespace,
		"keys", len(updates))
	return nil
}

// History returns the command history of a namespace. An empty namespace
// selects the shared partition.
func (s *Store) History(ctx context.Context, session, namespace string) ([]domain.HistoryEntry, error) {
	r, err := s.load(ctx, session)
	if err != nil {
		return nil, err
	}
	if namespace == "" {
		return r.Shared.Clone().History, nil
	}
	return r.Namespace(namespace).History, nil
}

// AddCommandResult appends a command and its result to a namespace's
// history without changing its data.
func (s *Store) AddCommandResult(ctx context.Context, session, namespace, command string, result any) error {
	_, err := s.Mutate(ctx, session, func(r *domain.SessionRecord) error {
		r.AddCommandResult(namespace, command, result, s.now())
		return nil
	})
	return err
}
