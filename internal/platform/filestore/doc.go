// Package filestore implements store.SessionBackend with one file per
// session in a directory. Files are written atomically (temp file plus
// rename) and encoded as JSON, YAML or TOML.
package filestore
