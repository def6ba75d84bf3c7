// Package api exposes the coordinator over HTTP: session and namespace
// reads and writes, sharing-mode transitions, task submission and status,
// and a server-sent event stream that attaches a consumer to a session.
// Handlers translate errors into status codes and redacted messages; they
// hold no state of their own.
package api
