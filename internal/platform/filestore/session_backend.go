package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/store"
)

const (
	sessionFileMode = 0o600
	sessionDirMode  = 0o700
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

// SessionBackend stores each session as <dir>/<name>.<ext>.
type SessionBackend struct {
	dir    string
	codec  Codec
	logger *slog.Logger
}

var _ store.SessionBackend = (*SessionBackend)(nil)

// NewSessionBackend creates the directory if needed and returns a backend
// rooted at it.
func NewSessionBackend(dir string, codec Codec, logger *slog.Logger) (*SessionBackend, error) {
	if dir == "" {
		return nil, errors.New("session directory is empty")
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve session directory: %w", err)
	}
	if err := os.MkdirAll(absDir, sessionDirMode); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &SessionBackend{
		dir:    filepath.Clean(absDir),
		codec:  codec,
		logger: logger.With("component", "filestore", "dir", absDir),
	}, nil
}

// Create implements store.SessionBackend.
func (b *SessionBackend) Create(ctx context.Context, record *domain.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return store.NewStoreError("session", "create", "invalid record", err)
	}

	path := b.pathFor(record.Name)
	mu := lockForPath(path)
	mu.Lock()
	defer mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return store.ErrSessionExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return store.NewStoreError("session", "create", "stat session file", err)
	}

	if err := b.write(path, record); err != nil {
		return store.NewStoreError("session", "create", "write session file", err)
	}
	return nil
}

// Load implements store.SessionBackend.
func (b *SessionBackend) Load(ctx context.Context, name string) (*domain.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := domain.ValidateSessionName(name); err != nil {
		return nil, store.NewStoreError("session", "load", "invalid name", err)
	}

	path := b.pathFor(name)
	mu := lockForPath(path)
	mu.RLock()
	defer mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, store.ErrSessionNotFound
		}
		return nil, store.NewStoreError("session", "load", "read session file", err)
	}

	rec, err := b.codec.Unmarshal(data)
	if err != nil {
		return nil, store.NewStoreError("session", "load", "decode session file", err)
	}
	rec.Name = name
	return rec, nil
}

// Save implements store.SessionBackend.
func (b *SessionBackend) Save(ctx context.Context, record *domain.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return store.NewStoreError("session", "save", "invalid record", err)
	}

	path := b.pathFor(record.Name)
	mu := lockForPath(path)
	mu.Lock()
	defer mu.Unlock()

	if err := b.write(path, record); err != nil {
		return store.NewStoreError("session", "save", "write session file", err)
	}
	return nil
}

// List implements store.SessionBackend.
func (b *SessionBackend) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, store.NewStoreError("session", "list", "read session directory", err)
	}

	suffix := "." + b.codec.Extension()
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), suffix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements store.SessionBackend.
func (b *SessionBackend) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateSessionName(name); err != nil {
		return store.NewStoreError("session", "delete", "invalid name", err)
	}

	path := b.pathFor(name)
	mu := lockForPath(path)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.ErrSessionNotFound
		}
		return store.NewStoreError("session", "delete", "remove session file", err)
	}
	b.logger.Debug("session file removed", "session", name)
	return nil
}

func (b *SessionBackend) pathFor(name string) string {
	return filepath.Join(b.dir, name+"."+b.codec.Extension())
}

// write replaces path atomically. Callers hold the path lock.
func (b *SessionBackend) write(path string, record *domain.SessionRecord) error {
	data, err := b.codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	tempFile, err := os.CreateTemp(b.dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp session file: %w", err)
	}
	if err := tempFile.Chmod(sessionFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	cleanup = false

	b.logger.Debug("session file written", "session", record.Name, "bytes", len(data))
	return nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}
