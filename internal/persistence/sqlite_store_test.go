package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_UpsertLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := BatchRecord{
		ID:                "batch-1",
		ArchivePath:       "/data/batches/batch-1.zip",
		DownloadName:      "report_zh_20260824_120000.zip",
		FileCount:         3,
		TotalFiles:        4,
		FailedCount:       1,
		Failures:          []string{"job-9: output missing"},
		SizeBytes:         2048,
		UncompressedBytes: 4096,
		CreatedAt:         now,
		ExpiresAt:         now.Add(24 * time.Hour),
	}
	require.NoError(t, store.UpsertBatch(ctx, rec))

	loaded, err := store.LoadBatches(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, rec.ID, loaded[0].ID)
	assert.Equal(t, rec.DownloadName, loaded[0].DownloadName)
	assert.Equal(t, rec.Failures, loaded[0].Failures)
	assert.Equal(t, rec.SizeBytes, loaded[0].SizeBytes)
	assert.Equal(t, 4, loaded[0].TotalFiles)
	assert.Equal(t, int64(4096), loaded[0].UncompressedBytes)
}

func TestSQLiteStore_UpsertOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := BatchRecord{ID: "b", ArchivePath: "/a.zip", DownloadName: "a.zip",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.UpsertBatch(ctx, rec))

	rec.FileCount = 5
	require.NoError(t, store.UpsertBatch(ctx, rec))

	loaded, err := store.LoadBatches(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 5, loaded[0].FileCount)
}

func TestSQLiteStore_DeleteBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.UpsertBatch(ctx, BatchRecord{
		ID: "gone", ArchivePath: "/g.zip", DownloadName: "g.zip",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.DeleteBatch(ctx, "gone"))

	loaded, err := store.LoadBatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// Deleting an absent row is not an error.
	assert.NoError(t, store.DeleteBatch(ctx, "gone"))
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reopen.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	assert.NoError(t, reopened.Close())
}
