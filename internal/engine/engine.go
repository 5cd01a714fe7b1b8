// Package engine defines the contract between the job orchestrator and
// the document conversion engine, plus an adapter that runs the engine
// as a subprocess.
package engine

import "context"

// EventType classifies the events an engine run emits.
type EventType string

const (
	EventProgress EventType = "progress_update"
	EventFinish   EventType = "finish"
	EventError    EventType = "error"
)

// Event is one item on an engine run's event stream. A run emits any
// number of progress events followed by exactly one terminal event,
// either finish or error.
type Event struct {
	Type     EventType `json:"type"`
	Progress float64   `json:"progress,omitempty"`
	Stage    string    `json:"stage,omitempty"`
	Message  string    `json:"message,omitempty"`
	// Outputs lists the produced file paths, set on finish events.
	Outputs []string `json:"outputs,omitempty"`
	// Reason describes the failure, set on error events.
	Reason string `json:"reason,omitempty"`
}

// Config describes one conversion run.
type Config struct {
	InputFile  string `json:"input_file"`
	OutputDir  string `json:"output_dir"`
	WorkingDir string `json:"working_dir,omitempty"`

	LangIn  string `json:"lang_in"`
	LangOut string `json:"lang_out"`

	Pages         string  `json:"pages,omitempty"`
	Model         string  `json:"model,omitempty"`
	NoDual        bool    `json:"no_dual,omitempty"`
	NoMono        bool    `json:"no_mono,omitempty"`
	WatermarkMode string  `json:"watermark_mode,omitempty"`
	MinTextLength int     `json:"min_text_length,omitempty"`
	QPS           float64 `json:"qps,omitempty"`

	// Options carries engine-specific settings passed through untouched.
	Options map[string]string `json:"options,omitempty"`
}

// Engine runs document conversions. Run returns a channel that delivers
// the run's event stream; the channel is closed after the terminal
// event. Cancelling ctx aborts the run with an error event.
type Engine interface {
	Run(ctx context.Context, cfg Config) (<-chan Event, error)
}
