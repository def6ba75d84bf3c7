// Package testdb opens migrated databases for SQL backend tests.
//
// SQLite databases live in the test's temp directory and always run.
// Postgres tests run when a database URL is configured and are skipped
// otherwise.
package testdb

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrazzld/agentflow/internal/platform/sqlstore"
	"github.com/stretchr/testify/require"
)

// TestTimeout bounds setup statements.
const TestTimeout = 5 * time.Second

// URLEnvVars are checked in order for a Postgres test database.
var URLEnvVars = []string{"AGENTFLOW_TEST_DATABASE_URL", "DATABASE_URL"}

// DatabaseURL returns the first configured Postgres test URL, or "".
func DatabaseURL() string {
	for _, name := range URLEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// OpenSQLite returns a migrated SQLite database closed at test cleanup.
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()
	return open(t, sqlstore.DialectSQLite, filepath.Join(t.TempDir(), "sessions.db"))
}

// OpenPostgres returns a migrated Postgres database with empty session
// tables, or skips the test when no URL is configured.
func OpenPostgres(t *testing.T) *sql.DB {
	t.Helper()

	dsn := DatabaseURL()
	if dsn == "" {
		t.Skipf("none of %v set, skipping Postgres test", URLEnvVars)
	}

	db := open(t, sqlstore.DialectPostgres, dsn)
	Reset(t, db)
	return db
}

// Reset removes every session row.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	for _, table := range []string{"session_namespaces", "sessions"} {
		_, err := db.ExecContext(ctx, "DELETE FROM "+table)
		require.NoError(t, err, "failed to clear %s", table)
	}
}

func open(t *testing.T, dialect sqlstore.Dialect, dsn string) *sql.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	db, err := sqlstore.Open(ctx, dialect, dsn)
	require.NoError(t, err, "failed to open %s test database", dialect)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, sqlstore.Migrate(ctx, db, dialect, logger), "failed to migrate %s test database", dialect)
	return db
}
