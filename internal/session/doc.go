// Package session provides the namespace-scoped session store.
//
// A session is one persisted domain.SessionRecord. Consumers read and write
// their own namespace partition, or the session's shared partition, and every
// accepted update is written through the configured store.SessionBackend
// before it is acknowledged. Writes to one session are serialized; writes to
// different sessions proceed independently.
package session
