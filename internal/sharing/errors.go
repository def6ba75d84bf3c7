package sharing

import (
	"errors"
	"fmt"
)

// Errors returned by the sync coordinator.
var (
	// ErrNoSessions is returned when EnableSharing is called without sessions.
	ErrNoSessions = errors.New("at least one session is required to enable sharing")

	// ErrSharedSessionMismatch is returned when DisableSharing receives a shared
	// session other than the active one.
	ErrSharedSessionMismatch = errors.New("shared session is not the active one")

	// ErrSharedSessionExists is returned when EnableSharing would overwrite a
	// merged record that is not the active one.
	ErrSharedSessionExists = errors.New("a shared session record already exists")
)

// SyncTransitionError reports a failed mode transition. The coordinator's
// prior mode is preserved.
type SyncTransitionError struct {
	From Mode
	To   Mode
	Op   string
	Err  error

	// RollbackErr is set when restoring the pre-transition state also failed.
	RollbackErr error
}

// Error implements the error interface.
func (e *SyncTransitionError) Error() string {
	msg := fmt.Sprintf("sync transition %s -> %s failed during %s: %v", e.From, e.To, e.Op, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback failed: %v)", e.RollbackErr)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncTransitionError) Unwrap() error {
	return e.Err
}
