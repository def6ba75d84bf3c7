// Package memory provides an in-process implementation of
// store.SessionBackend. It is used by tests and by the "memory" storage
// backend, where sessions do not outlive the process.
package memory
