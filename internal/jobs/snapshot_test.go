package jobs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_LoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "jobs.json"))
	jobs, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "jobs.json"))

	started := time.Now().Truncate(time.Second)
	in := []*Job{
		{
			ID:        "job-1",
			Status:    StatusCompleted,
			Progress:  100,
			Stage:     "finalize",
			Message:   "writing outputs",
			Params:    Params{Filename: "doc.pdf", LangIn: "en", LangOut: "zh"},
			CreatedAt: started,
			StartedAt: &started,
			OutputFiles: []OutputFile{
				{Path: "/results/job-1/doc.mono.pdf", Type: OutputMono, HasWatermark: true},
			},
			OutputFilePaths: []string{"/results/job-1/doc.mono.pdf"},
		},
		{ID: "job-2", Status: StatusPending, CreatedAt: started},
	}
	require.NoError(t, store.SaveAll(in))

	out, err := store.Load()
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "job-1", out[0].ID)
	assert.Equal(t, StatusCompleted, out[0].Status)
	assert.Equal(t, "doc.pdf", out[0].Params.Filename)
	assert.Equal(t, "writing outputs", out[0].Message)
	assert.Equal(t, "finalize", out[0].Stage)
	require.Len(t, out[0].OutputFiles, 1)
	assert.Equal(t, OutputMono, out[0].OutputFiles[0].Type)
}

func TestFileStore_MigratesFlatOutputPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")

	legacy := map[string]any{
		"jobs": []map[string]any{
			{
				"id":     "old-job",
				"status": "completed",
				"output_file_paths": []string{
					"/results/old-job/doc.dual.pdf",
					"/results/old-job/doc.glossary.csv",
				},
			},
		},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, err := NewFileStore(path).Load()
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].OutputFiles, 2)
	assert.Equal(t, OutputDual, out[0].OutputFiles[0].Type)
	assert.True(t, out[0].OutputFiles[0].HasWatermark)
	assert.Equal(t, OutputGlossary, out[0].OutputFiles[1].Type)
}

func TestFileStore_RejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}
