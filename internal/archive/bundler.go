// Package archive bundles translated output files into downloadable zip
// batches with a bounded lifetime.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/lingodoc/lingodoc/internal/persistence"
	"github.com/lingodoc/lingodoc/pkg/file"
	"github.com/lingodoc/lingodoc/pkg/log"
)

var (
	// ErrBatchNotFound is returned for unknown or expired batch ids.
	ErrBatchNotFound = errors.New("archive: batch not found")
	// ErrNothingBundled is returned when every requested file failed.
	ErrNothingBundled = errors.New("archive: no files could be bundled")
)

// FileSpec names one file to include in a batch.
type FileSpec struct {
	// Path is the file on disk.
	Path string
	// Name is the member name inside the archive. Empty means the base
	// name of Path.
	Name string
	// JobID labels failure messages.
	JobID string
}

// Batch is one generated archive.
type Batch struct {
	ID           string `json:"id"`
	ArchivePath  string `json:"-"`
	DownloadName string `json:"download_name"`
	// TotalFiles counts every requested file, bundled or failed.
	FileCount   int      `json:"file_count"`
	TotalFiles  int      `json:"total_files"`
	FailedCount int      `json:"failed_count"`
	Failures    []string `json:"failures,omitempty"`
	// SizeBytes is the archive on disk; UncompressedBytes sums the
	// bundled source files.
	SizeBytes         int64     `json:"size_bytes"`
	UncompressedBytes int64     `json:"total_uncompressed_size"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// BatchStore persists batch records across restarts.
type BatchStore interface {
	LoadBatches(ctx context.Context) ([]persistence.BatchRecord, error)
	UpsertBatch(ctx context.Context, rec persistence.BatchRecord) error
	DeleteBatch(ctx context.Context, id string) error
}

// Bundler builds zip batches in its own directory and tracks their
// lifetime. A nil store keeps batches in memory only.
type Bundler struct {
	dir   string
	ttl   time.Duration
	store BatchStore

	mu      sync.Mutex
	batches map[string]*Batch
}

// NewBundler opens the bundle directory and rehydrates surviving
// batches from the store, dropping records whose zip file is gone or
// whose lifetime already ended.
func NewBundler(dir string, ttl time.Duration, store BatchStore) (*Bundler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	b := &Bundler{
		dir:     dir,
		ttl:     ttl,
		store:   store,
		batches: make(map[string]*Batch),
	}

	if store != nil {
		records, err := store.LoadBatches(context.Background())
		if err != nil {
			return nil, fmt.Errorf("hydrate batches: %w", err)
		}
		now := time.Now()
		for _, rec := range records {
			if rec.ExpiresAt.Before(now) {
				b.discard(rec.ID, rec.ArchivePath)
				continue
			}
			if _, err := os.Stat(rec.ArchivePath); err != nil {
				log.Warn("Batch %s archive missing, dropping record", rec.ID)
				b.discard(rec.ID, "")
				continue
			}
			b.batches[rec.ID] = &Batch{
				ID:                rec.ID,
				ArchivePath:       rec.ArchivePath,
				DownloadName:      rec.DownloadName,
				FileCount:         rec.FileCount,
				TotalFiles:        rec.TotalFiles,
				FailedCount:       rec.FailedCount,
				Failures:          rec.Failures,
				SizeBytes:         rec.SizeBytes,
				UncompressedBytes: rec.UncompressedBytes,
				CreatedAt:         rec.CreatedAt,
				ExpiresAt:         rec.ExpiresAt,
			}
		}
		log.Info("Bundler loaded %d live batches", len(b.batches))
	}
	return b, nil
}

// CreateArchive zips the given files into a new batch. Files that
// cannot be read are skipped and accounted in the batch's failure list;
// the call only fails when nothing could be bundled.
func (b *Bundler) CreateArchive(ctx context.Context, files []FileSpec, langOut string) (Batch, error) {
	if len(files) == 0 {
		return Batch{}, ErrNothingBundled
	}

	id := uuid.NewString()
	archivePath := filepath.Join(b.dir, id+".zip")
	now := time.Now()

	out, err := os.Create(archivePath)
	if err != nil {
		return Batch{}, fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(out)

	var (
		originals    []string
		failures     []string
		added        int
		uncompressed int64
		usedNames    = make(map[string]int)
	)
	for _, spec := range files {
		if err := ctx.Err(); err != nil {
			zw.Close()
			out.Close()
			os.Remove(archivePath)
			return Batch{}, err
		}
		name := spec.Name
		if name == "" {
			name = filepath.Base(spec.Path)
		}
		member := uniqueMemberName(usedNames, sanitizeMember(name))

		written, err := addMember(zw, spec.Path, member)
		if err != nil {
			label := spec.Path
			if spec.JobID != "" {
				label = fmt.Sprintf("%s (%s)", name, spec.JobID)
			}
			failures = append(failures, fmt.Sprintf("%s: %v", label, err))
			log.Warn("Batch %s: skipping %s: %v", id, spec.Path, err)
			continue
		}
		originals = append(originals, name)
		added++
		uncompressed += written
	}

	closeErr := zw.Close()
	syncErr := out.Close()
	if closeErr == nil {
		closeErr = syncErr
	}
	if closeErr != nil {
		os.Remove(archivePath)
		return Batch{}, fmt.Errorf("finalize archive: %w", closeErr)
	}
	if added == 0 {
		os.Remove(archivePath)
		return Batch{}, fmt.Errorf("%w: %d files failed", ErrNothingBundled, len(failures))
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return Batch{}, fmt.Errorf("stat archive: %w", err)
	}

	batch := &Batch{
		ID:                id,
		ArchivePath:       archivePath,
		DownloadName:      ArchiveBaseName(originals, langOut, now) + ".zip",
		FileCount:         added,
		TotalFiles:        len(files),
		FailedCount:       len(failures),
		Failures:          failures,
		SizeBytes:         info.Size(),
		UncompressedBytes: uncompressed,
		CreatedAt:         now,
		ExpiresAt:         now.Add(b.ttl),
	}

	b.mu.Lock()
	b.batches[id] = batch
	b.mu.Unlock()
	b.persist(batch)

	log.Info("Created batch %s: %d files, %d failed, %s", id, added,
		len(failures), humanize.Bytes(uint64(batch.SizeBytes)))
	return *batch, nil
}

// GetBatch returns a batch by id. Expired batches are removed on access
// and reported as not found.
func (b *Bundler) GetBatch(id string) (Batch, error) {
	b.mu.Lock()
	batch, ok := b.batches[id]
	if ok && time.Now().After(batch.ExpiresAt) {
		delete(b.batches, id)
		b.mu.Unlock()
		b.discard(id, batch.ArchivePath)
		return Batch{}, ErrBatchNotFound
	}
	b.mu.Unlock()

	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return *batch, nil
}

// List returns all live batches, newest first.
func (b *Bundler) List() []Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	ret := make([]Batch, 0, len(b.batches))
	for _, batch := range b.batches {
		ret = append(ret, *batch)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}

// CleanupBatch removes one batch and its archive file.
func (b *Bundler) CleanupBatch(id string) error {
	b.mu.Lock()
	batch, ok := b.batches[id]
	if !ok {
		b.mu.Unlock()
		return ErrBatchNotFound
	}
	delete(b.batches, id)
	b.mu.Unlock()

	b.discard(id, batch.ArchivePath)
	return nil
}

// CleanupExpired removes all batches past their lifetime.
func (b *Bundler) CleanupExpired() int {
	now := time.Now()

	b.mu.Lock()
	var expired []*Batch
	for id, batch := range b.batches {
		if now.After(batch.ExpiresAt) {
			expired = append(expired, batch)
			delete(b.batches, id)
		}
	}
	b.mu.Unlock()

	for _, batch := range expired {
		b.discard(batch.ID, batch.ArchivePath)
	}
	if len(expired) > 0 {
		log.Info("Removed %d expired batches", len(expired))
	}
	return len(expired)
}

func (b *Bundler) persist(batch *Batch) {
	if b.store == nil {
		return
	}
	err := b.store.UpsertBatch(context.Background(), persistence.BatchRecord{
		ID:                batch.ID,
		ArchivePath:       batch.ArchivePath,
		DownloadName:      batch.DownloadName,
		FileCount:         batch.FileCount,
		TotalFiles:        batch.TotalFiles,
		FailedCount:       batch.FailedCount,
		Failures:          batch.Failures,
		SizeBytes:         batch.SizeBytes,
		UncompressedBytes: batch.UncompressedBytes,
		CreatedAt:         batch.CreatedAt,
		ExpiresAt:         batch.ExpiresAt,
	})
	if err != nil {
		log.Error("Failed to persist batch %s: %v", batch.ID, err)
	}
}

// discard removes the archive file and the stored record, logging but
// not propagating failures.
func (b *Bundler) discard(id, archivePath string) {
	if archivePath != "" {
		if err := file.RemovePath(archivePath); err != nil {
			log.Error("Failed to remove archive %s: %v", archivePath, err)
		}
	}
	if b.store != nil {
		if err := b.store.DeleteBatch(context.Background(), id); err != nil {
			log.Error("Failed to delete batch record %s: %v", id, err)
		}
	}
}

func addMember(zw *zip.Writer, path, member string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	w, err := zw.Create(member)
	if err != nil {
		return 0, err
	}
	return io.Copy(w, src)
}

func sanitizeMember(name string) string {
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	return SanitizeFileName(stem) + ext
}

func uniqueMemberName(used map[string]int, name string) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", name[:len(name)-len(ext)], n+1, ext)
}
