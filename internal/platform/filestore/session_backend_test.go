package filestore_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/platform/filestore"
	"github.com/phrazzld/agentflow/internal/store"
	"github.com/phrazzld/agentflow/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionBackendFormats(t *testing.T) {
	for _, format := range []string{"json", "yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			codec, err := filestore.CodecFor(format)
			require.NoError(t, err)

			storetest.RunBackendSuite(t, func(t *testing.T) store.SessionBackend {
				b, err := filestore.NewSessionBackend(t.TempDir(), codec, discardLogger())
				require.NoError(t, err)
				return b
			})
		})
	}
}

func TestCodecForUnknownFormat(t *testing.T) {
	_, err := filestore.CodecFor("xml")
	assert.Error(t, err)
}

func TestSessionFileLayout(t *testing.T) {
	dir := t.TempDir()
	b, err := filestore.NewSessionBackend(dir, filestore.YAMLCodec{}, discardLogger())
	require.NoError(t, err)

	rec, err := domain.NewSessionRecord("s1")
	require.NoError(t, err)
	require.NoError(t, b.Create(context.Background(), rec))

	info, err := os.Stat(filepath.Join(dir, "s1.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files should remain after a write")
}

func TestListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := filestore.NewSessionBackend(dir, filestore.JSONCodec{}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".s9.json-123.tmp"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o700))

	rec, err := domain.NewSessionRecord("s1")
	require.NoError(t, err)
	require.NoError(t, b.Save(context.Background(), rec))

	names, err := b.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, names)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	b, err := filestore.NewSessionBackend(dir, filestore.JSONCodec{}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o600))

	_, err = b.Load(context.Background(), "bad")

	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "load", storeErr.Operation)
	assert.ErrorIs(t, err, domain.ErrInvalidFormat)
	assert.False(t, store.IsNotFoundError(err))
}

func TestRejectsPathTraversal(t *testing.T) {
	b, err := filestore.NewSessionBackend(t.TempDir(), filestore.JSONCodec{}, discardLogger())
	require.NoError(t, err)

	_, err = b.Load(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrInvalidSessionName)
}

func TestCancelledContext(t *testing.T) {
	b, err := filestore.NewSessionBackend(t.TempDir(), filestore.JSONCodec{}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := domain.NewSessionRecord("s1")
	require.NoError(t, err)
	assert.ErrorIs(t, b.Save(ctx, rec), context.Canceled)
}

func TestTOMLRejectsNullValues(t *testing.T) {
	rec, err := domain.NewSessionRecord("s1")
	require.NoError(t, err)
	rec.ApplyUpdate("A", map[string]any{"k": nil}, rec.CreatedAt)

	_, err = filestore.TOMLCodec{}.Marshal(rec)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "namespaces.A.data.k")

	for _, codec := range []filestore.Codec{filestore.JSONCodec{}, filestore.YAMLCodec{}} {
		data, err := codec.Marshal(rec)
		require.NoError(t, err)
		got, err := codec.Unmarshal(data)
		require.NoError(t, err)
		assert.Contains(t, got.Namespaces["A"].Data, "k", codec.Extension())
	}
}

func TestRejectsDotNames(t *testing.T) {
	b, err := filestore.NewSessionBackend(t.TempDir(), filestore.JSONCodec{}, discardLogger())
	require.NoError(t, err)

	err = b.Save(context.Background(), &domain.SessionRecord{Name: ".x"})
	assert.ErrorIs(t, err, domain.ErrInvalidSessionName)
}
