package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumik/renloc/internal/extract"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CommitAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := Record{
		ID:         "abc123",
		Status:     extract.StatusDone,
		SourceText: "Hello",
		Result:     "Bonjour",
		Backend:    "chat",
	}
	require.NoError(t, store.Commit(ctx, rec))

	got, ok, err := store.Lookup(ctx, "abc123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, extract.StatusDone, got.Status)
	require.Equal(t, "Bonjour", got.Result)
	require.Equal(t, "chat", got.Backend)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestStore_LookupAbsent(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_RefusesNonTerminalCommit(t *testing.T) {
	store := newTestStore(t)

	err := store.Commit(context.Background(), Record{ID: "x", Status: extract.StatusInFlight})
	require.Error(t, err)

	err = store.Commit(context.Background(), Record{ID: "x", Status: extract.StatusPending})
	require.Error(t, err)
}

func TestStore_CommitIsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, Record{ID: "u1", Status: extract.StatusFailed, Error: "timeout"}))
	require.NoError(t, store.Commit(ctx, Record{ID: "u1", Status: extract.StatusDone, Result: "ok"}))

	got, ok, err := store.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, extract.StatusDone, got.Status)
	require.Equal(t, "ok", got.Result)
}

func TestStore_LookupMany(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, Record{ID: "a", Status: extract.StatusDone, Result: "ra"}))
	require.NoError(t, store.Commit(ctx, Record{ID: "b", Status: extract.StatusFailed, Error: "eb"}))

	got, err := store.LookupMany(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "ra", got["a"].Result)
	require.Equal(t, "eb", got["b"].Error)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	ctx := context.Background()

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, Record{ID: "persist", Status: extract.StatusDone, Result: "r"}))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Lookup(ctx, "persist")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "r", got.Result)
}

func TestStore_InvalidateAndSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, Record{ID: "d1", Status: extract.StatusDone}))
	require.NoError(t, store.Commit(ctx, Record{ID: "f1", Status: extract.StatusFailed, Error: "x"}))
	require.NoError(t, store.Commit(ctx, Record{ID: "f2", Status: extract.StatusFailed, Error: "y"}))

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary[extract.StatusDone])
	require.Equal(t, 2, summary[extract.StatusFailed])

	failed, err := store.List(ctx, extract.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 2)

	n, err := store.InvalidateStatus(ctx, extract.StatusFailed)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoError(t, store.Invalidate(ctx, "d1"))
	summary, err = store.Summary(ctx)
	require.NoError(t, err)
	require.Empty(t, summary)
}

func TestStore_CommitKeepsExplicitTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Commit(ctx, Record{ID: "t1", Status: extract.StatusSkipped, UpdatedAt: ts}))

	got, ok, err := store.Lookup(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ts, got.UpdatedAt.UTC())
}
