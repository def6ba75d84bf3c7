// Package domain contains the core entities of the application: session
// records with their namespaced partitions, command history and provenance.
// It is independent of any specific persistence or delivery mechanism.
package domain
