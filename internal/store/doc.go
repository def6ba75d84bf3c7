// Package store defines the SessionBackend port that persists session
// records, the sentinel and wrapped errors every backend returns, and a
// transaction helper for SQL backends. Implementations live under
// internal/platform.
package store
