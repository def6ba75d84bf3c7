package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SessionVersion is the schema version written into new session records.
const SessionVersion = "1.0.0"

// Common validation errors for sessions. Each wraps ErrValidation.
var (
	ErrEmptySessionName   = fmt.Errorf("%w: session name cannot be empty", ErrValidation)
	ErrInvalidSessionName = fmt.Errorf("%w: invalid session name", ErrValidation)
	ErrEmptyNamespace     = fmt.Errorf("%w: namespace cannot be empty", ErrValidation)
)

// HistoryEntry is one command recorded against a partition.
type HistoryEntry struct {
	Command   string    `json:"command"   yaml:"command"   toml:"command"`
	Result    any       `json:"result"    yaml:"result"    toml:"result"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp" toml:"timestamp"`
}

// Partition is an isolated key/value area of a session together with the
// history of commands applied to it.
type Partition struct {
	Data    map[string]any `json:"data"    yaml:"data"    toml:"data"`
	History []HistoryEntry `json:"history" yaml:"history" toml:"history"`
}

// Origin records where a partition of a shared record came from.
type Origin struct {
	Session   string `json:"session"   yaml:"session"   toml:"session"`
	Namespace string `json:"namespace" yaml:"namespace" toml:"namespace"`
}

// SessionRecord is the persisted state of one session. Namespaces are
// isolated from each other; keys meant for every namespace live in Shared.
// Origins and Members are only populated on records produced by merging
// sessions; Members lists the merged sessions, primary first.
type SessionRecord struct {
	Name       string               `json:"name"              yaml:"name"              toml:"name"`
	Version    string               `json:"version"           yaml:"version"           toml:"version"`
	Shared     Partition            `json:"shared"            yaml:"shared"            toml:"shared"`
	Namespaces map[string]Partition `json:"namespaces"        yaml:"namespaces"        toml:"namespaces"`
	Origins    map[string]Origin    `json:"origins,omitempty" yaml:"origins,omitempty" toml:"origins,omitempty"`
	Members    []string             `json:"members,omitempty" yaml:"members,omitempty" toml:"members,omitempty"`
	CreatedAt  time.Time            `json:"created_at"        yaml:"created_at"        toml:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"        yaml:"updated_at"        toml:"updated_at"`
}

// NewSessionRecord creates an empty record for the named session.
func NewSessionRecord(name string) (*SessionRecord, error) {
	if err := ValidateSessionName(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &SessionRecord{
		Name:       name,
		Version:    SessionVersion,
		Shared:     Partition{Data: map[string]any{}},
		Namespaces: map[string]Partition{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Validate checks that the record is usable.
func (r *SessionRecord) Validate() error {
	return ValidateSessionName(r.Name)
}

// ValidateSessionName rejects names that cannot be used as storage keys.
// A leading dot is reserved for backend temporary files.
func ValidateSessionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptySessionName
	}
	if strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionName, name)
	}
	return nil
}

// ValidateNamespace rejects empty namespace names.
func ValidateNamespace(namespace string) error {
	if strings.TrimSpace(namespace) == "" {
		return ErrEmptyNamespace
	}
	return nil
}

// Normalize fills in zero-valued maps and the version so that records
// decoded from older or sparse encodings behave like fresh ones.
func (r *SessionRecord) Normalize() {
	if r.Version == "" {
		r.Version = SessionVersion
	}
	if r.Shared.Data == nil {
		r.Shared.Data = map[string]any{}
	}
	if r.Namespaces == nil {
		r.Namespaces = map[string]Partition{}
	}
	for name, p := range r.Namespaces {
		if p.Data == nil {
			p.Data = map[string]any{}
			r.Namespaces[name] = p
		}
	}
}

// Namespace returns a copy of the named partition. A namespace that has never
// been written yields an empty partition.
func (r *SessionRecord) Namespace(name string) Partition {
	p, ok := r.Namespaces[name]
	if !ok {
		return Partition{Data: map[string]any{}}
	}
	return p.Clone()
}

// NamespaceNames returns the record's namespace names in sorted order.
func (r *SessionRecord) NamespaceNames() []string {
	names := make([]string, 0, len(r.Namespaces))
	for name := range r.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyUpdate merges updates into the named namespace and records one history
// entry per key. An empty namespace targets the Shared partition.
func (r *SessionRecord) ApplyUpdate(namespace string, updates map[string]any, now time.Time) {
	r.Normalize()

	p := r.Shared
	if namespace != "" {
		p = r.Namespaces[namespace]
		if p.Data == nil {
			p.Data = map[string]any{}
		}
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := cloneValue(updates[k])
		p.Data[k] = v
		p.History = append(p.History, HistoryEntry{
			Command:   "update_data: " + k,
			Result:    map[string]any{"value": cloneValue(v)},
			Timestamp: now,
		})
	}

	r.setPartition(namespace, p)
	r.UpdatedAt = now
}

// AddCommandResult appends a history entry without touching partition data.
// An empty namespace targets the Shared partition.
func (r *SessionRecord) AddCommandResult(namespace, command string, result any, now time.Time) {
	r.Normalize()

	p := r.Shared
	if namespace != "" {
		p = r.Namespaces[namespace]
		if p.Data == nil {
			p.Data = map[string]any{}
		}
	}
	p.History = append(p.History, HistoryEntry{
		Command:   command,
		Result:    cloneValue(result),
		Timestamp: now,
	})

	r.setPartition(namespace, p)
	r.UpdatedAt = now
}

// RemoveKeys deletes keys from the named namespace and records one history
// entry per key that existed. An empty namespace targets the Shared partition.
func (r *SessionRecord) RemoveKeys(namespace string, keys []string, now time.Time) {
	r.Normalize()

	p := r.Shared
	if namespace != "" {
		var ok bool
		if p, ok = r.Namespaces[namespace]; !ok {
			return
		}
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	removed := false
	for _, k := range sorted {
		if _, ok := p.Data[k]; !ok {
			continue
		}
		delete(p.Data, k)
		p.History = append(p.History, HistoryEntry{
			Command:   "remove_data: " + k,
			Result:    map[string]any{"removed": true},
			Timestamp: now,
		})
		removed = true
	}
	if !removed {
		return
	}

	r.setPartition(namespace, p)
	r.UpdatedAt = now
}

func (r *SessionRecord) setPartition(namespace string, p Partition) {
	if namespace == "" {
		r.Shared = p
		return
	}
	r.Namespaces[namespace] = p
}

// Clone returns a deep copy of the record.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}

	c := &SessionRecord{
		Name:       r.Name,
		Version:    r.Version,
		Shared:     r.Shared.Clone(),
		Namespaces: make(map[string]Partition, len(r.Namespaces)),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	for name, p := range r.Namespaces {
		c.Namespaces[name] = p.Clone()
	}
	if r.Origins != nil {
		c.Origins = make(map[string]Origin, len(r.Origins))
		for name, o := range r.Origins {
			c.Origins[name] = o
		}
	}
	if r.Members != nil {
		c.Members = append([]string(nil), r.Members...)
	}
	return c
}

// Clone returns a deep copy of the partition.
func (p Partition) Clone() Partition {
	c := Partition{Data: CloneData(p.Data)}
	if p.History != nil {
		c.History = make([]HistoryEntry, len(p.History))
		for i, h := range p.History {
			c.History[i] = HistoryEntry{Command: h.Command, Result: cloneValue(h.Result), Timestamp: h.Timestamp}
		}
	}
	return c
}

// CloneData deep-copies a data map. A nil map yields an empty one.
func CloneData(data map[string]any) map[string]any {
	c := make(map[string]any, len(data))
	for k, v := range data {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneData(val)
	case []any:
		c := make([]any, len(val))
		for i, item := range val {
			c[i] = cloneValue(item)
		}
		return c
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
