// Package storetest holds a behavioural test suite that every
// store.SessionBackend implementation runs against itself.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/agentflow/internal/domain"
	"github.com/phrazzld/agentflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) store.SessionBackend

// RunBackendSuite exercises the store.SessionBackend contract.
func RunBackendSuite(t *testing.T, newBackend Factory) {
	t.Helper()

	t.Run("create then load", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		rec := sampleRecord(t, "s1")
		require.NoError(t, b.Create(ctx, rec))

		got, err := b.Load(ctx, "s1")
		require.NoError(t, err)
		assertRecordEqual(t, rec, got)
	})

	t.Run("create duplicate", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		require.NoError(t, b.Create(ctx, sampleRecord(t, "s1")))
		err := b.Create(ctx, sampleRecord(t, "s1"))

		assert.ErrorIs(t, err, store.ErrSessionExists)
		assert.True(t, store.IsAlreadyExistsError(err))
	})

	t.Run("load missing", func(t *testing.T) {
		b := newBackend(t)

		_, err := b.Load(context.Background(), "nope")

		assert.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("save replaces and upserts", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		rec := sampleRecord(t, "s1")
		require.NoError(t, b.Save(ctx, rec), "save should create a missing record")

		rec.ApplyUpdate("B", map[string]any{"other": "x"}, rec.UpdatedAt.Add(time.Second))
		delete(rec.Namespaces, "A")
		require.NoError(t, b.Save(ctx, rec))

		got, err := b.Load(ctx, "s1")
		require.NoError(t, err)
		assert.NotContains(t, got.Namespaces, "A", "save must replace the whole record")
		assert.Equal(t, "x", got.Namespaces["B"].Data["other"])
	})

	t.Run("loaded record is a copy", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		require.NoError(t, b.Create(ctx, sampleRecord(t, "s1")))
		got, err := b.Load(ctx, "s1")
		require.NoError(t, err)
		got.Namespaces["A"].Data["k"] = "mutated"

		again, err := b.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "v1", again.Namespaces["A"].Data["k"])
	})

	t.Run("origins round trip", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		rec := sampleRecord(t, "_shared.s1")
		rec.Origins = map[string]domain.Origin{
			"A":    {Session: "s1", Namespace: "A"},
			"s2/A": {Session: "s2", Namespace: "A"},
		}
		require.NoError(t, b.Save(ctx, rec))

		got, err := b.Load(ctx, "_shared.s1")
		require.NoError(t, err)
		assert.Equal(t, rec.Origins, got.Origins)
	})

	t.Run("members round trip", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		rec := sampleRecord(t, "_shared.s1")
		rec.Members = []string{"s1", "s2"}
		require.NoError(t, b.Save(ctx, rec))

		got, err := b.Load(ctx, "_shared.s1")
		require.NoError(t, err)
		assert.Equal(t, []string{"s1", "s2"}, got.Members)
	})

	// A backend either keeps a nil value under its key or refuses the whole
	// save; it never drops the key silently.
	t.Run("nil values kept or rejected", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		rec := sampleRecord(t, "s1")
		require.NoError(t, b.Save(ctx, rec))

		withNil := rec.Clone()
		withNil.ApplyUpdate("A", map[string]any{"gone": nil, "j": "v"}, rec.UpdatedAt.Add(time.Second))
		err := b.Save(ctx, withNil)

		got, loadErr := b.Load(ctx, "s1")
		require.NoError(t, loadErr)
		data := got.Namespaces["A"].Data
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.NotContains(t, data, "j", "a rejected save must not be partially applied")
			return
		}
		v, present := data["gone"]
		assert.True(t, present, "nil value must keep its key")
		assert.Nil(t, v)
		assert.Equal(t, "v", data["j"])
	})

	t.Run("list sorted", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		names, err := b.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)

		for _, name := range []string{"c", "a", "b"} {
			require.NoError(t, b.Create(ctx, sampleRecord(t, name)))
		}

		names, err = b.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, names)
	})

	t.Run("delete", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		require.NoError(t, b.Create(ctx, sampleRecord(t, "s1")))
		require.NoError(t, b.Delete(ctx, "s1"))

		_, err := b.Load(ctx, "s1")
		assert.ErrorIs(t, err, store.ErrSessionNotFound)
		assert.ErrorIs(t, b.Delete(ctx, "s1"), store.ErrSessionNotFound)
	})

	t.Run("concurrent saves to different sessions", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec, err := domain.NewSessionRecord(fmt.Sprintf("s%d", i))
				if err != nil {
					errs <- err
					return
				}
				rec.ApplyUpdate("A", map[string]any{"i": fmt.Sprint(i)}, time.Now())
				errs <- b.Save(ctx, rec)
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		names, err := b.List(ctx)
		require.NoError(t, err)
		assert.Len(t, names, 8)
	})
}

func sampleRecord(t *testing.T, name string) *domain.SessionRecord {
	t.Helper()

	rec, err := domain.NewSessionRecord(name)
	require.NoError(t, err)
	// Second precision keeps every encoding lossless.
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	rec.CreatedAt = now
	rec.ApplyUpdate("A", map[string]any{"k": "v1"}, now)
	rec.ApplyUpdate("", map[string]any{"theme": "dark"}, now)
	return rec
}

func assertRecordEqual(t *testing.T, want, got *domain.SessionRecord) {
	t.Helper()

	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Version, got.Version)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at: want %s got %s", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at: want %s got %s", want.UpdatedAt, got.UpdatedAt)
	assert.Equal(t, want.Shared.Data, got.Shared.Data)
	assert.Equal(t, want.NamespaceNames(), got.NamespaceNames())
	for _, ns := range want.NamespaceNames() {
		w, g := want.Namespaces[ns], got.Namespaces[ns]
		assert.Equal(t, w.Data, g.Data, "namespace %s data", ns)
		require.Len(t, g.History, len(w.History), "namespace %s history", ns)
		for i := range w.History {
			assert.Equal(t, w.History[i].Command, g.History[i].Command)
			assert.True(t, w.History[i].Timestamp.Equal(g.History[i].Timestamp))
		}
	}
}
