// Package gemini implements generation.Generator on top of Google's Gemini
// API using the google.golang.org/genai client.
//
// Calls are retried with exponential backoff and jitter for transient
// failures. Responses blocked by safety filters, or carrying no text, fail
// immediately and are reported with the generation package's sentinel errors.
package gemini
