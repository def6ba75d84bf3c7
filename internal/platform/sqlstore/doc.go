// Package sqlstore implements store.SessionBackend on top of database/sql.
// Two dialects are supported: PostgreSQL through the pgx stdlib driver and
// SQLite through the pure-Go modernc driver. Schema migrations are embedded
// and applied with goose.
//
// Each session is one row in the sessions table; each namespace partition is
// one row in session_namespaces holding its data and history as JSON.
package sqlstore
