// Package sharing switches a group of sessions between isolated and shared
// mode.
//
// In isolated mode every consumer reads and writes its own session. Enabling
// sharing merges the listed sessions into one shared record, keeping every
// namespace separate and remembering where each partition came from.
// Disabling splits the shared record back into the originating sessions.
// Consumers hold Handles, which resolve to the right record under the
// coordinator's read lock, so a transition never observes a half-applied
// namespace update.
package sharing
