// Package jobs implements the translation job lifecycle: creation,
// scheduling, progress tracking, persistence and retention.
package jobs

import (
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs never
// change state again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// OutputFileType classifies a produced file by its role.
type OutputFileType string

const (
	OutputMono            OutputFileType = "mono"
	OutputDual            OutputFileType = "dual"
	OutputMonoNoWatermark OutputFileType = "mono_no_watermark"
	OutputDualNoWatermark OutputFileType = "dual_no_watermark"
	OutputGlossary        OutputFileType = "glossary"
)

// OutputFile is one produced file with its classification.
type OutputFile struct {
	Path         string         `json:"path"`
	Type         OutputFileType `json:"type"`
	HasWatermark bool           `json:"has_watermark"`
	SizeBytes    int64          `json:"size_bytes,omitempty"`
}

// Params are the translation settings a job was created with.
type Params struct {
	Filename  string `json:"filename"`
	InputPath string `json:"input_path"`
	InputKey  string `json:"input_key,omitempty"`

	LangIn  string `json:"lang_in"`
	LangOut string `json:"lang_out"`

	Pages         string  `json:"pages,omitempty"`
	Model         string  `json:"model,omitempty"`
	NoDual        bool    `json:"no_dual,omitempty"`
	NoMono        bool    `json:"no_mono,omitempty"`
	WatermarkMode string  `json:"watermark_mode,omitempty"`
	MinTextLength int     `json:"min_text_length,omitempty"`
	QPS           float64 `json:"qps,omitempty"`

	Options map[string]string `json:"options,omitempty"`
}

// Job is one translation task. All fields are owned by the Manager;
// callers receive copies.
type Job struct {
	ID       string  `json:"id"`
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	Stage    string  `json:"stage,omitempty"`
	// Message is the engine's latest human-readable progress note.
	Message string `json:"message,omitempty"`

	Params Params `json:"params"`

	// InputSizeKB orders the work queue: smaller inputs run first.
	InputSizeKB int64 `json:"input_size_kb"`

	Error       string `json:"error,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`

	OutputFiles []OutputFile `json:"output_files,omitempty"`
	// OutputFilePaths mirrors OutputFiles as a flat list for clients
	// that only want paths.
	OutputFilePaths []string `json:"output_file_paths,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// FlatOutputPaths returns the paths of all output files in order.
func (j *Job) FlatOutputPaths() []string {
	if len(j.OutputFiles) == 0 {
		return nil
	}
	paths := make([]string, len(j.OutputFiles))
	for i, f := range j.OutputFiles {
		paths[i] = f.Path
	}
	return paths
}

// Observer receives job change notifications. Implementations must not
// block; a panicking observer is isolated and logged.
type Observer func(job Job)
