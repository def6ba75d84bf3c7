package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/platform/logger"
	"github.com/phrazzld/agentflow/internal/store"
)

// SessionBackend implements store.SessionBackend on a SQL database.
type SessionBackend struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ store.SessionBackend = (*SessionBackend)(nil)

// NewSessionBackend wraps an open, migrated database.
func NewSessionBackend(db *sql.DB, dialect Dialect, logger *slog.Logger) *SessionBackend {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionBackend{
		db:      db,
		dialect: dialect,
		logger:  logger.With(slog.String("component", "session_store"), slog.String("dialect", string(dialect))),
	}
}

// Create implements store.SessionBackend.
func (s *SessionBackend) Create(ctx context.Context, record *domain.SessionRecord) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := record.Validate(); err != nil {
		return store.NewStoreError("session", "create", "invalid record", err)
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		cols, err := encodeSessionColumns(record)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO sessions (name, version, shared, origins, members, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (name) DO NOTHING
		`), record.Name, record.Version, cols.shared, cols.origins, cols.members,
			record.CreatedAt.UTC(), record.UpdatedAt.UTC())
		if err != nil {
			return MapError(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return store.ErrSessionExists
		}

		return s.insertNamespaces(ctx, tx, record)
	})
	if err != nil {
		if errors.Is(err, store.ErrSessionExists) {
			log.Debug("session already exists", slog.String("session", record.Name))
			return err
		}
		log.Error("failed to create session", slog.String("session", record.Name), slog.String("error", err.Error()))
		return store.NewStoreError("session", "create", "database error", err)
	}

	log.Debug("session created", slog.String("session", record.Name))
	return nil
}

// Load implements store.SessionBackend.
func (s *SessionBackend) Load(ctx context.Context, name string) (*domain.SessionRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rec := &domain.SessionRecord{Name: name}
	var shared []byte
	var origins, members sql.NullString

	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT version, shared, origins, members, created_at, updated_at
		FROM sessions
		WHERE name = ?
	`), name).Scan(&rec.Version, &shared, &origins, &members, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		log.Error("failed to load session", slog.String("session", name), slog.String("error", err.Error()))
		return nil, store.NewStoreError("session", "load", "database error", MapError(err))
	}

	if err := json.Unmarshal(shared, &rec.Shared); err != nil {
		return nil, store.NewStoreError("session", "load", "decode shared partition", err)
	}
	if origins.Valid && origins.String != "" {
		if err := json.Unmarshal([]byte(origins.String), &rec.Origins); err != nil {
			return nil, store.NewStoreError("session", "load", "decode origins", err)
		}
	}
	if members.Valid && members.String != "" {
		if err := json.Unmarshal([]byte(members.String), &rec.Members); err != nil {
			return nil, store.NewStoreError("session", "load", "decode members", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT namespace, partition
		FROM session_namespaces
		WHERE session_name = ?
		ORDER BY namespace
	`), name)
	if err != nil {
		return nil, store.NewStoreError("session", "load", "query namespaces", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	rec.Namespaces = map[string]domain.Partition{}
	for rows.Next() {
		var ns string
		var raw []byte
		if err := rows.Scan(&ns, &raw); err != nil {
			return nil, store.NewStoreError("session", "load", "scan namespace", err)
		}
		var p domain.Partition
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, store.NewStoreError("session", "load", "decode namespace "+ns, err)
		}
		rec.Namespaces[ns] = p
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("session", "load", "iterate namespaces", err)
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.Normalize()
	return rec, nil
}

// Save implements store.SessionBackend.
func (s *SessionBackend) Save(ctx context.Context, record *domain.SessionRecord) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := record.Validate(); err != nil {
		return store.NewStoreError("session", "save", "invalid record", err)
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		cols, err := encodeSessionColumns(record)
		if err != nil {
			return err
		}

		createdAt := record.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO sessions (name, version, shared, origins, members, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET
				version = excluded.version,
				shared = excluded.shared,
				origins = excluded.origins,
				members = excluded.members,
				updated_at = excluded.updated_at
		`), record.Name, record.Version, cols.shared, cols.origins, cols.members,
			createdAt.UTC(), record.UpdatedAt.UTC())
		if err != nil {
			return MapError(err)
		}

		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM session_namespaces WHERE session_name = ?`), record.Name); err != nil {
			return MapError(err)
		}

		return s.insertNamespaces(ctx, tx, record)
	})
	if err != nil {
		log.Error("failed to save session", slog.String("session", record.Name), slog.String("error", err.Error()))
		return store.NewStoreError("session", "save", "database error", err)
	}

	return nil
}

// List implements store.SessionBackend.
func (s *SessionBackend) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sessions ORDER BY name`)
	if err != nil {
		return nil, store.NewStoreError("session", "list", "database error", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, store.NewStoreError("session", "list", "scan name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("session", "list", "iterate names", err)
	}
	return names, nil
}

// Delete implements store.SessionBackend.
func (s *SessionBackend) Delete(ctx context.Context, name string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM session_namespaces WHERE session_name = ?`), name); err != nil {
			return MapError(err)
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE name = ?`), name)
		if err != nil {
			return MapError(err)
		}
		return checkRowsAffected(res)
	})
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return err
		}
		log.Error("failed to delete session", slog.String("session", name), slog.String("error", err.Error()))
		return store.NewStoreError("session", "delete", "database error", err)
	}

	log.Debug("session deleted", slog.String("session", name))
	return nil
}

func (s *SessionBackend) insertNamespaces(ctx context.Context, db store.DBTX, record *domain.SessionRecord) error {
	query := s.q(`INSERT INTO session_namespaces (session_name, namespace, partition) VALUES (?, ?, ?)`)
	for _, ns := range record.NamespaceNames() {
		raw, err := json.Marshal(record.Namespaces[ns])
		if err != nil {
			return fmt.Errorf("encode namespace %s: %w", ns, err)
		}
		if _, err := db.ExecContext(ctx, query, record.Name, ns, string(raw)); err != nil {
			return MapError(err)
		}
	}
	return nil
}

func (s *SessionBackend) q(query string) string {
	return rebind(s.dialect, query)
}

// sessionColumns holds the JSON-encoded columns of the sessions table.
type sessionColumns struct {
	shared  string
	origins sql.NullString
	members sql.NullString
}

func encodeSessionColumns(record *domain.SessionRecord) (sessionColumns, error) {
	var cols sessionColumns

	shared, err := json.Marshal(record.Shared)
	if err != nil {
		return cols, fmt.Errorf("encode shared partition: %w", err)
	}
	cols.shared = string(shared)

	if len(record.Origins) > 0 {
		raw, err := json.Marshal(record.Origins)
		if err != nil {
			return cols, fmt.Errorf("encode origins: %w", err)
		}
		cols.origins = sql.NullString{String: string(raw), Valid: true}
	}
	if len(record.Members) > 0 {
		raw, err := json.Marshal(record.Members)
		if err != nil {
			return cols, fmt.Errorf("encode members: %w", err)
		}
		cols.members = sql.NullString{String: string(raw), Valid: true}
	}
	return cols, nil
}
