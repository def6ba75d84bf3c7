package sharing

import (
	"context"
	"fmt"
	"time"

	"github.com/phrazzld/agentflow/internal/domain"
)

// Handle is a consumer's reference to one namespace of one session. Reads
// and writes resolve through the coordinator, so the same handle keeps
// working across sharing transitions.
type Handle struct {
	c *Coordinator

	// Guarded by c.mu.
	session   string
	namespace string
}

// Handle returns a handle to namespace in session.
func (c *Coordinator) Handle(session, namespace string) *Handle {
	return &Handle{c: c, session: session, namespace: namespace}
}

// Session returns the session the handle points at.
func (h *Handle) Session() string {
	h.c.mu.RLock()
	defer h.c.mu.RUnlock()
	return h.session
}

// Namespace returns the handle's namespace.
func (h *Handle) Namespace() string {
	h.c.mu.RLock()
	defer h.c.mu.RUnlock()
	return h.namespace
}

// target is where a handle's namespace currently lives.
type target struct {
	session string
	origin  domain.Origin
	shared  bool
}

// resolve must be called with c.mu held.
func (h *Handle) resolve() target {
	t := target{
		session: h.session,
		origin:  domain.Origin{Session: h.session, Namespace: h.namespace},
	}
	if h.c.mode == ModeShared && h.c.shared.includes(h.session) {
		t.session = h.c.shared.Name
		t.shared = true
	}
	return t
}

// Get returns a copy of the namespace's data.
func (h *Handle) Get(ctx context.Context) (map[string]any, error) {
	p, err := h.partition(ctx)
	if err != nil {
		return nil, err
	}
	return p.Data, nil
}

// History returns the namespace's command history.
func (h *Handle) History(ctx context.Context) ([]domain.HistoryEntry, error) {
	p, err := h.partition(ctx)
	if err != nil {
		return nil, err
	}
	return p.History, nil
}

func (h *Handle) partition(ctx context.Context) (domain.Partition, error) {
	if err := domain.ValidateNamespace(h.namespace); err != nil {
		return domain.Partition{}, err
	}

	h.c.mu.RLock()
	defer h.c.mu.RUnlock()

	t := h.resolve()
	r, err := h.c.sessions.Load(ctx, t.session)
	if err != nil {
		return domain.Partition{}, err
	}
	if !t.shared {
		return r.Namespace(t.origin.Namespace), nil
	}
	if key, ok := partitionKey(r, t.origin); ok {
		return r.Namespace(key), nil
	}
	return domain.Partition{Data: map[string]any{}}, nil
}

// Update merges updates into the namespace and persists them.
func (h *Handle) Update(ctx context.Context, updates map[string]any) error {
	return h.mutate(ctx, func(r *domain.SessionRecord, key string, now time.Time) {
		r.ApplyUpdate(key, updates, now)
	})
}

// AddCommandResult records a command and its result in the namespace's history.
func (h *Handle) AddCommandResult(ctx context.Context, command string, result any) error {
	return h.mutate(ctx, func(r *domain.SessionRecord, key string, now time.Time) {
		r.AddCommandResult(key, command, result, now)
	})
}

// Remove deletes keys from the namespace.
func (h *Handle) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return h.mutate(ctx, func(r *domain.SessionRecord, key string, now time.Time) {
		r.RemoveKeys(key, keys, now)
	})
}

func (h *Handle) mutate(ctx context.Context, apply func(r *domain.SessionRecord, key string, now time.Time)) error {
	if err := domain.ValidateNamespace(h.namespace); err != nil {
		return err
	}

	h.c.mu.RLock()
	defer h.c.mu.RUnlock()

	t := h.resolve()
	_, err := h.c.sessions.Mutate(ctx, t.session, func(r *domain.SessionRecord) error {
		key := t.origin.Namespace
		if t.shared {
			key = assignPartition(r, t.origin)
		}
		apply(r, key, time.Now().UTC())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", t.origin.Session, t.origin.Namespace, err)
	}
	return nil
}

// partitionKey finds the shared-record partition that came from origin.
func partitionKey(r *domain.SessionRecord, origin domain.Origin) (string, bool) {
	for key, o := range r.Origins {
		if o == origin {
			return key, true
		}
	}
	return "", false
}

// assignPartition returns origin's partition key in a shared record,
// registering a new one when the namespace was never merged.
func assignPartition(r *domain.SessionRecord, origin domain.Origin) string {
	if key, ok := partitionKey(r, origin); ok {
		return key
	}

	key := partitionName(r, origin, true)
	if r.Origins == nil {
		r.Origins = make(map[string]domain.Origin)
	}
	r.Origins[key] = origin
	return key
}
