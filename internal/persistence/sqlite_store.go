// Package persistence stores archive batch records in SQLite so that
// generated bundles survive a service restart.
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// BatchRecord is one persisted archive batch.
type BatchRecord struct {
	ID                string
	ArchivePath       string
	DownloadName      string
	FileCount         int
	TotalFiles        int
	FailedCount       int
	Failures          []string
	SizeBytes         int64
	UncompressedBytes int64
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadBatches(ctx context.Context) ([]BatchRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, archive_path, download_name, file_count, total_files, failed_count, failures_json, size_bytes, uncompressed_bytes, created_at, expires_at
		 FROM archive_batches
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]BatchRecord, 0)
	for rows.Next() {
		var item BatchRecord
		var failuresJSON string
		if err := rows.Scan(
			&item.ID,
			&item.ArchivePath,
			&item.DownloadName,
			&item.FileCount,
			&item.TotalFiles,
			&item.FailedCount,
			&failuresJSON,
			&item.SizeBytes,
			&item.UncompressedBytes,
			&item.CreatedAt,
			&item.ExpiresAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(failuresJSON), &item.Failures); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertBatch(ctx context.Context, rec BatchRecord) error {
	failuresJSON, err := json.Marshal(rec.Failures)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO archive_batches (
			id, archive_path, download_name, file_count, total_files, failed_count, failures_json, size_bytes, uncompressed_bytes, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			archive_path=excluded.archive_path,
			download_name=excluded.download_name,
			file_count=excluded.file_count,
			total_files=excluded.total_files,
			failed_count=excluded.failed_count,
			failures_json=excluded.failures_json,
			size_bytes=excluded.size_bytes,
			uncompressed_bytes=excluded.uncompressed_bytes,
			expires_at=excluded.expires_at`,
		rec.ID,
		rec.ArchivePath,
		rec.DownloadName,
		rec.FileCount,
		rec.TotalFiles,
		rec.FailedCount,
		string(failuresJSON),
		rec.SizeBytes,
		rec.UncompressedBytes,
		rec.CreatedAt.UTC(),
		rec.ExpiresAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) DeleteBatch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM archive_batches WHERE id = ?`, id)
	return err
}
