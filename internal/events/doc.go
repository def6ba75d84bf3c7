// Package events carries terminal task outcomes from the task coordinator to
// whoever is interested in them.
//
// A Bus delivers each Notification to every Subscription whose Predicate
// matches it. When nothing matches, the notification is handed to the
// configured Recorder instead, so an outcome for an inactive consumer is
// kept durably rather than lost. Matching and recording happen under the
// same lock that Subscribe takes, which means a notification is either seen
// by a subscriber or recorded, never both and never neither.
package events
