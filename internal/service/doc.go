// Package service wires the task coordinator, event bus and session layer
// into the operations consumers use.
//
// TaskService submits background work tagged with a correlation key and
// lets a consumer attach to a session: attaching subscribes to live
// notifications first and then replays, and acknowledges, the outcomes that
// were recorded while nobody was listening. OutcomeRecorder is the bus
// recorder that writes those unobserved outcomes into the status namespace
// of the session named by the correlation key.
//
// The package depends on the task, events and sharing packages through
// small interfaces so tests can substitute any of them.
package service
