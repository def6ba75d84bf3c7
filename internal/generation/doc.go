// Package generation defines the boundary between background tasks and
// external LLM services. A Generator turns a prompt into text; NewWork wraps
// a generation call, decorated with pre and post prompts, as task work that
// the task coordinator can run off the caller's goroutine.
package generation
