package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingodoc/lingodoc/internal/persistence"
)

func newTestBundler(t *testing.T, ttl time.Duration, store BatchStore) *Bundler {
	t.Helper()
	b, err := NewBundler(filepath.Join(t.TempDir(), "batches"), ttl, store)
	require.NoError(t, err)
	return b
}

func outputFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func zipMembers(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBundler_CreateArchive(t *testing.T) {
	b := newTestBundler(t, time.Hour, nil)

	batch, err := b.CreateArchive(context.Background(), []FileSpec{
		{Path: outputFile(t, "doc.mono.pdf", "mono"), Name: "doc.mono.pdf"},
		{Path: outputFile(t, "doc.dual.pdf", "dual"), Name: "doc.dual.pdf"},
	}, "zh")
	require.NoError(t, err)

	assert.Equal(t, 2, batch.FileCount)
	assert.Equal(t, 2, batch.TotalFiles)
	assert.Equal(t, 0, batch.FailedCount)
	assert.Equal(t, int64(len("mono")+len("dual")), batch.UncompressedBytes)
	assert.Greater(t, batch.SizeBytes, int64(0))
	assert.FileExists(t, batch.ArchivePath)
	assert.Contains(t, batch.DownloadName, ".zip")

	members := zipMembers(t, batch.ArchivePath)
	assert.Len(t, members, 2)
}

func TestBundler_PartialFailureIsAccounted(t *testing.T) {
	b := newTestBundler(t, time.Hour, nil)

	batch, err := b.CreateArchive(context.Background(), []FileSpec{
		{Path: outputFile(t, "ok1.pdf", "one")},
		{Path: outputFile(t, "ok2.pdf", "two")},
		{Path: "/no/such/file.pdf", JobID: "job-9"},
	}, "zh")
	require.NoError(t, err)

	assert.Equal(t, 2, batch.FileCount)
	assert.Equal(t, 3, batch.TotalFiles)
	assert.Equal(t, 1, batch.FailedCount)
	assert.Equal(t, int64(len("one")+len("two")), batch.UncompressedBytes)
	require.Len(t, batch.Failures, 1)
	assert.Contains(t, batch.Failures[0], "job-9")
}

func TestBundler_AllFilesFailed(t *testing.T) {
	b := newTestBundler(t, time.Hour, nil)

	_, err := b.CreateArchive(context.Background(), []FileSpec{
		{Path: "/no/such/a.pdf"},
		{Path: "/no/such/b.pdf"},
	}, "zh")
	assert.ErrorIs(t, err, ErrNothingBundled)
}

func TestBundler_EmptyRequest(t *testing.T) {
	b := newTestBundler(t, time.Hour, nil)
	_, err := b.CreateArchive(context.Background(), nil, "zh")
	assert.ErrorIs(t, err, ErrNothingBundled)
}

func TestBundler_DuplicateMemberNames(t *testing.T) {
	b := newTestBundler(t, time.Hour, nil)

	batch, err := b.CreateArchive(context.Background(), []FileSpec{
		{Path: outputFile(t, "a.pdf", "one"), Name: "doc.pdf"},
		{Path: outputFile(t, "b.pdf", "two"), Name: "doc.pdf"},
	}, "zh")
	require.NoError(t, err)

	members := zipMembers(t, batch.ArchivePath)
	assert.ElementsMatch(t, []string{"doc.pdf", "doc_2.pdf"}, members)
}

func TestBundler_GetBatchLazyExpiry(t *testing.T) {
	b := newTestBundler(t, 10*time.Millisecond, nil)

	batch, err := b.CreateArchive(context.Background(), []FileSpec{
		{Path: outputFile(t, "doc.pdf", "x")},
	}, "zh")
	require.NoError(t, err)

	got, err := b.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.ID, got.ID)

	time.Sleep(20 * time.Millisecond)
	_, err = b.GetBatch(batch.ID)
	assert.ErrorIs(t, err, ErrBatchNotFound)
	assert.NoFileExists(t, batch.ArchivePath)
}

func TestBundler_CleanupExpired(t *testing.T) {
	b := newTestBundler(t, 10*time.Millisecond, nil)

	old, err := b.CreateArchive(context.Background(), []FileSpec{
		{Path: outputFile(t, "old.pdf", "x")},
	}, "zh")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, b.CleanupExpired())
	assert.NoFileExists(t, old.ArchivePath)
	assert.Empty(t, b.List())
}

func TestBundler_SurvivesRestartViaStore(t *testing.T) {
	dir := t.TempDir()
	store, err := persistence.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer store.Close()

	batchDir := filepath.Join(dir, "batches")
	b, err := NewBundler(batchDir, time.Hour, store)
	require.NoError(t, err)

	batch, err := b.CreateArchive(context.Background(), []FileSpec{
		{Path: outputFile(t, "doc.pdf", "x")},
	}, "zh")
	require.NoError(t, err)

	reopened, err := NewBundler(batchDir, time.Hour, store)
	require.NoError(t, err)
	got, err := reopened.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.DownloadName, got.DownloadName)
	assert.Equal(t, 1, got.FileCount)
	assert.Equal(t, 1, got.TotalFiles)
	assert.Equal(t, batch.UncompressedBytes, got.UncompressedBytes)
}

func TestBundler_RestartDropsExpiredRecords(t *testing.T) {
	dir := t.TempDir()
	store, err := persistence.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer store.Close()

	batchDir := filepath.Join(dir, "batches")
	b, err := NewBundler(batchDir, 10*time.Millisecond, store)
	require.NoError(t, err)

	batch, err := b.CreateArchive(context.Background(), []FileSpec{
		{Path: outputFile(t, "doc.pdf", "x")},
	}, "zh")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	reopened, err := NewBundler(batchDir, 10*time.Millisecond, store)
	require.NoError(t, err)
	_, err = reopened.GetBatch(batch.ID)
	assert.ErrorIs(t, err, ErrBatchNotFound)
	assert.NoFileExists(t, batch.ArchivePath)
}
