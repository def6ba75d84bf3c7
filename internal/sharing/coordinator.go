package sharing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/platform/logger"
	"github.com/phrazzld/agentflow/internal/session"
	"github.com/phrazzld/agentflow/internal/store"
)

// Mode is the synchronization state of the coordinator.
type Mode string

// Synchronization modes.
const (
	ModeIsolated Mode = "isolated"
	ModeShared   Mode = "shared"
)

// SharedPrefix prefixes the name of merged session records.
const SharedPrefix = "_shared."

// SharedSession describes an active merge.
type SharedSession struct {
	// Name is the session that holds the merged record.
	Name string `json:"name"`

	// Sessions are the merged sessions; the first is the primary.
	Sessions []string `json:"sessions"`

	EnabledAt time.Time `json:"enabled_at"`
}

// Primary returns the session that receives partitions without an origin.
func (s *SharedSession) Primary() string {
	return s.Sessions[0]
}

func (s *SharedSession) includes(name string) bool {
	return slices.Contains(s.Sessions, name)
}

// Coordinator owns the synchronization mode and the records it rewrites.
type Coordinator struct {
	sessions *session.Store
	logger   *slog.Logger

	mu        sync.RWMutex
	mode      Mode
	shared    *SharedSession
	listeners []func(Mode)
}

// NewCoordinator creates a coordinator in isolated mode. Call Restore to
// resume a merge persisted by an earlier process.
func NewCoordinator(sessions *session.Store, logger *slog.Logger) *Coordinator {
	if sessions == nil {
		panic("session store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sessions: sessions,
		logger:   logger.With("component", "sync_coordinator"),
		mode:     ModeIsolated,
	}
}

// Mode returns the current synchronization mode.
func (c *Coordinator) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Current returns a copy of the active shared session, or nil in isolated mode.
func (c *Coordinator) Current() *SharedSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.shared == nil {
		return nil
	}
	cp := *c.shared
	cp.Sessions = slices.Clone(c.shared.Sessions)
	return &cp
}

// OnModeChange registers fn to be called after every completed transition.
// Listeners run outside the coordinator's lock.
func (c *Coordinator) OnModeChange(fn func(Mode)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Coordinator) notify(mode Mode) {
	c.mu.RLock()
	listeners := slices.Clone(c.listeners)
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(mode)
	}
}

// Restore resumes the merge recorded in a persisted "_shared.*" record, so
// writes made while sharing stay reachable across restarts. It does nothing
// when no such record exists or sharing is already active.
func (c *Coordinator) Restore(ctx context.Context) error {
	log := logger.FromContextOrDefault(ctx, c.logger)

	names, err := c.sessions.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	var found []string
	for _, name := range names {
		if strings.HasPrefix(name, SharedPrefix) {
			found = append(found, name)
		}
	}
	if len(found) == 0 {
		return nil
	}
	if len(found) > 1 {
		log.Warn("multiple shared records found, resuming the first", "shared_sessions", found)
	}

	merged, err := c.sessions.Load(ctx, found[0])
	if err != nil {
		return fmt.Errorf("failed to load shared session %q: %w", found[0], err)
	}

	c.mu.Lock()
	if c.mode == ModeShared {
		c.mu.Unlock()
		return nil
	}
	c.mode = ModeShared
	c.shared = &SharedSession{
		Name:      merged.Name,
		Sessions:  membersOf(merged),
		EnabledAt: merged.CreatedAt,
	}
	shared := *c.shared
	c.mu.Unlock()

	log.Info("sharing restored",
		"shared_session", shared.Name,
		"sessions", shared.Sessions)
	c.notify(ModeShared)
	return nil
}

// membersOf returns the merged sessions of a shared record. Records written
// without a member list fall back to the primary named by the record
// followed by every other session its origins mention.
func membersOf(merged *domain.SessionRecord) []string {
	if len(merged.Members) > 0 {
		return slices.Clone(merged.Members)
	}

	primary := strings.TrimPrefix(merged.Name, SharedPrefix)
	var others []string
	for _, o := range merged.Origins {
		if o.Session != primary && !slices.Contains(others, o.Session) {
			others = append(others, o.Session)
		}
	}
	sort.Strings(others)
	return append([]string{primary}, others...)
}

// EnableSharing merges the named sessions into one shared record stored as
// "_shared.<first session>". Namespace names that collide are qualified as
// "<session>/<namespace>"; nothing is overwritten. When sharing is already
// active the current shared session is returned unchanged. An existing
// merged record under the same name is never replaced.
func (c *Coordinator) EnableSharing(ctx context.Context, names []string) (*SharedSession, error) {
	names = dedupe(names)
	if len(names) == 0 {
		return nil, ErrNoSessions
	}
	for _, name := range names {
		if err := domain.ValidateSessionName(name); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	if c.mode == ModeShared {
		current := *c.shared
		c.mu.Unlock()
		return &current, nil
	}

	shared, err := c.enableLocked(ctx, names)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.notify(ModeShared)
	cp := *shared
	return &cp, nil
}

func (c *Coordinator) enableLocked(ctx context.Context, names []string) (*SharedSession, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)
	fail := func(op string, err error, rollbackErr error) error {
		return &SyncTransitionError{From: ModeIsolated, To: ModeShared, Op: op, Err: err, RollbackErr: rollbackErr}
	}

	records := make([]*domain.SessionRecord, 0, len(names))
	for _, name := range names {
		r, err := c.sessions.Load(ctx, name)
		if err != nil {
			return nil, fail("load "+name, err, nil)
		}
		records = append(records, r)
	}

	sharedName := SharedPrefix + names[0]
	merged, err := merge(sharedName, records)
	if err != nil {
		return nil, fail("merge", err, nil)
	}

	exists, err := c.sessions.Exists(ctx, sharedName)
	if err != nil {
		return nil, fail("load "+sharedName, err, nil)
	}
	if exists {
		return nil, fail("load "+sharedName, fmt.Errorf("%w: %s", ErrSharedSessionExists, sharedName), nil)
	}

	if err := c.sessions.Save(ctx, sharedName, merged); err != nil {
		return nil, fail("save "+sharedName, err, c.restore(ctx, sharedName, nil))
	}

	c.mode = ModeShared
	c.shared = &SharedSession{
		Name:      sharedName,
		Sessions:  names,
		EnabledAt: time.Now().UTC(),
	}

	log.Info("sharing enabled",
		"shared_session", sharedName,
		"sessions", names,
		"namespaces", len(merged.Namespaces))
	return c.shared, nil
}

// DisableSharing splits the shared record back into its originating sessions
// and deletes it. The returned map is keyed by the partition name used in the
// shared record and holds handles to the restored namespaces. When sharing is
// not active an empty map is returned.
func (c *Coordinator) DisableSharing(ctx context.Context, shared *SharedSession) (map[string]*Handle, error) {
	c.mu.Lock()
	if c.mode == ModeIsolated {
		c.mu.Unlock()
		return map[string]*Handle{}, nil
	}
	if shared != nil && shared.Name != c.shared.Name {
		c.mu.Unlock()
		return nil, &SyncTransitionError{
			From: ModeShared,
			To:   ModeIsolated,
			Op:   "validate",
			Err:  fmt.Errorf("%w: %s", ErrSharedSessionMismatch, shared.Name),
		}
	}

	handles, err := c.disableLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.notify(ModeIsolated)
	return handles, nil
}

func (c *Coordinator) disableLocked(ctx context.Context) (map[string]*Handle, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)
	shared := c.shared
	fail := func(op string, err error, rollbackErr error) error {
		return &SyncTransitionError{From: ModeShared, To: ModeIsolated, Op: op, Err: err, RollbackErr: rollbackErr}
	}

	merged, err := c.sessions.Load(ctx, shared.Name)
	if err != nil {
		return nil, fail("load "+shared.Name, err, nil)
	}

	previous := make(map[string]*domain.SessionRecord, len(shared.Sessions))
	for _, name := range shared.Sessions {
		r, err := c.sessions.Load(ctx, name)
		switch {
		case err == nil:
			previous[name] = r
		case store.IsNotFoundError(err):
			previous[name] = nil
		default:
			return nil, fail("load "+name, err, nil)
		}
	}

	split, routes := splitRecord(merged, shared, previous)

	var written []string
	rollback := func() error {
		var errs []error
		for _, name := range written {
			errs = append(errs, c.restore(ctx, name, previous[name]))
		}
		return errors.Join(errs...)
	}

	for _, name := range shared.Sessions {
		if err := c.sessions.Save(ctx, name, split[name]); err != nil {
			return nil, fail("save "+name, err, rollback())
		}
		written = append(written, name)
	}

	if err := c.sessions.Delete(ctx, shared.Name); err != nil && !store.IsNotFoundError(err) {
		return nil, fail("delete "+shared.Name, err, rollback())
	}

	handles := make(map[string]*Handle, len(routes))
	for key, origin := range routes {
		handles[key] = c.Handle(origin.Session, origin.Namespace)
	}

	c.mode = ModeIsolated
	c.shared = nil

	log.Info("sharing disabled",
		"shared_session", shared.Name,
		"sessions", shared.Sessions,
		"namespaces", len(handles))
	return handles, nil
}

// restore puts back a pre-transition record, or deletes name when it did not
// exist before.
func (c *Coordinator) restore(ctx context.Context, name string, previous *domain.SessionRecord) error {
	if previous == nil {
		err := c.sessions.Delete(ctx, name)
		if store.IsNotFoundError(err) {
			return nil
		}
		return err
	}
	return c.sessions.Save(ctx, name, previous)
}

// SwitchSession repoints h at another session, creating it when needed.
// Switching while sharing is active stops sharing first.
func (c *Coordinator) SwitchSession(ctx context.Context, h *Handle, newSession string) error {
	if err := domain.ValidateSessionName(newSession); err != nil {
		return err
	}

	c.mu.Lock()
	stopped := false
	if c.mode == ModeShared {
		if _, err := c.disableLocked(ctx); err != nil {
			c.mu.Unlock()
			return err
		}
		stopped = true
	}

	if _, err := c.sessions.LoadOrCreate(ctx, newSession); err != nil {
		c.mu.Unlock()
		if stopped {
			c.notify(ModeIsolated)
		}
		return fmt.Errorf("failed to switch to session %q: %w", newSession, err)
	}
	h.session = newSession
	c.mu.Unlock()

	if stopped {
		logger.FromContextOrDefault(ctx, c.logger).Info("sync stopped by session switch",
			"session", newSession)
		c.notify(ModeIsolated)
	}
	return nil
}

// merge builds the shared record. The first record's Shared partition becomes
// the merged Shared partition; the others are kept as qualified partitions
// with an empty origin namespace. Members records the merged sessions so the
// merge can be resumed after a restart.
func merge(name string, records []*domain.SessionRecord) (*domain.SessionRecord, error) {
	merged, err := domain.NewSessionRecord(name)
	if err != nil {
		return nil, err
	}
	merged.Origins = make(map[string]domain.Origin)
	merged.Members = make([]string, 0, len(records))

	for i, r := range records {
		merged.Members = append(merged.Members, r.Name)
		if i == 0 {
			merged.Shared = r.Shared.Clone()
		} else if len(r.Shared.Data) > 0 || len(r.Shared.History) > 0 {
			origin := domain.Origin{Session: r.Name}
			key := partitionName(merged, origin, false)
			merged.Namespaces[key] = r.Shared.Clone()
			merged.Origins[key] = origin
		}

		for _, ns := range r.NamespaceNames() {
			origin := domain.Origin{Session: r.Name, Namespace: ns}
			key := partitionName(merged, origin, true)
			merged.Namespaces[key] = r.Namespace(ns)
			merged.Origins[key] = origin
		}
	}
	return merged, nil
}

// splitRecord distributes the merged partitions back to their sessions.
// Partitions without an origin go to the primary session.
func splitRecord(
	merged *domain.SessionRecord,
	shared *SharedSession,
	previous map[string]*domain.SessionRecord,
) (map[string]*domain.SessionRecord, map[string]domain.Origin) {
	now := time.Now().UTC()
	out := make(map[string]*domain.SessionRecord, len(shared.Sessions))
	for _, name := range shared.Sessions {
		var r *domain.SessionRecord
		if prev := previous[name]; prev != nil {
			r = prev.Clone()
		} else {
			r, _ = domain.NewSessionRecord(name)
		}
		r.Shared = domain.Partition{Data: map[string]any{}}
		r.Namespaces = map[string]domain.Partition{}
		r.Origins = nil
		r.UpdatedAt = now
		out[name] = r
	}

	out[shared.Primary()].Shared = merged.Shared.Clone()

	routes := make(map[string]domain.Origin, len(merged.Namespaces))
	for _, key := range merged.NamespaceNames() {
		origin, ok := merged.Origins[key]
		if !ok || !shared.includes(origin.Session) {
			origin = domain.Origin{Session: shared.Primary(), Namespace: key}
		}

		target := out[origin.Session]
		p := merged.Namespace(key)
		if origin.Namespace == "" {
			target.Shared = p
			continue
		}
		target.Namespaces[origin.Namespace] = p
		routes[key] = origin
	}
	return out, routes
}

// partitionName returns a key for origin that no partition or origin in r
// uses yet. The bare namespace is tried first when bare is set, then
// "<session>/<namespace>", then that name with a numeric suffix.
func partitionName(r *domain.SessionRecord, origin domain.Origin, bare bool) string {
	if bare && !keyTaken(r, origin.Namespace) {
		return origin.Namespace
	}
	base := origin.Session + "/" + origin.Namespace
	key := base
	for i := 2; keyTaken(r, key); i++ {
		key = fmt.Sprintf("%s~%d", base, i)
	}
	return key
}

func keyTaken(r *domain.SessionRecord, key string) bool {
	if _, ok := r.Namespaces[key]; ok {
		return true
	}
	_, ok := r.Origins[key]
	return ok
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
