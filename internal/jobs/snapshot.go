package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store persists the full job table as one snapshot.
type Store interface {
	Load() ([]*Job, error)
	SaveAll(jobs []*Job) error
}

// FileStore keeps the job table in a single JSON file, rewritten whole
// on every change via a temp file and rename.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type snapshotFile struct {
	Jobs      []*Job    `json:"jobs"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Load reads the snapshot. A missing file yields an empty table. Jobs
// from older snapshots that carry only flat output paths get their
// structured output entries rebuilt.
func (s *FileStore) Load() ([]*Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read job snapshot: %w", err)
	}

	var snapshot snapshotFile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse job snapshot: %w", err)
	}

	for _, job := range snapshot.Jobs {
		if len(job.OutputFiles) == 0 && len(job.OutputFilePaths) > 0 {
			for _, path := range job.OutputFilePaths {
				job.OutputFiles = append(job.OutputFiles, InferOutputFile(path))
			}
		}
		job.OutputFilePaths = job.FlatOutputPaths()
	}
	return snapshot.Jobs, nil
}

// SaveAll rewrites the snapshot with the given job table.
func (s *FileStore) SaveAll(jobs []*Job) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(snapshotFile{
		Jobs:      jobs,
		UpdatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".jobs-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmpName, s.path)
}
