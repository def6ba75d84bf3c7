// Package task manages background job queuing, processing, and lifecycle.
// A Coordinator serializes submitted work through one ordered queue,
// executes it on a bounded worker pool, and reports every terminal outcome
// exactly once through an events.Publisher, so slow text-generation calls
// never block the caller that submitted them.
package task
