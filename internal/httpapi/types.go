package httpapi

import (
	"github.com/lingodoc/lingodoc/internal/cache"
	"github.com/lingodoc/lingodoc/internal/jobs"
)

type uploadResponse struct {
	FileID        string `json:"file_id"`
	Filename      string `json:"filename"`
	SizeBytes     int64  `json:"size_bytes"`
	AlreadyCached bool   `json:"already_cached"`
}

type translateRequest struct {
	FileID string `json:"file_id"`

	LangIn  string `json:"lang_in,omitempty"`
	LangOut string `json:"lang_out,omitempty"`
	// TextSample backs language auto-detection when lang_in is "auto".
	TextSample string `json:"text_sample,omitempty"`

	Pages         string  `json:"pages,omitempty"`
	Model         string  `json:"model,omitempty"`
	NoDual        bool    `json:"no_dual,omitempty"`
	NoMono        bool    `json:"no_mono,omitempty"`
	WatermarkMode string  `json:"watermark_mode,omitempty"`
	MinTextLength int     `json:"min_text_length,omitempty"`
	QPS           float64 `json:"qps,omitempty"`

	Options map[string]string `json:"options,omitempty"`
}

type taskListResponse struct {
	Tasks    []jobs.Job `json:"tasks"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type batchRequest struct {
	TaskIDs []string `json:"task_ids"`
	// FileTypes filters which output kinds go into the archive. Empty
	// means everything except glossaries.
	FileTypes []string `json:"file_types,omitempty"`
	// Watermark, when set, keeps only outputs whose watermark flag
	// matches.
	Watermark *bool `json:"watermark,omitempty"`
}

type cacheStatsResponse struct {
	Uploads cache.Stats  `json:"uploads"`
	Results *cache.Stats `json:"results,omitempty"`
}

type healthSweep struct {
	Expression    string `json:"expression"`
	NextRun       string `json:"next_run"`
	LastRun       string `json:"last_run,omitempty"`
	TimeUntilNext string `json:"time_until_next"`
}

type healthResponse struct {
	Status     string       `json:"status"`
	ActiveJobs int          `json:"active_jobs"`
	CanStart   bool         `json:"can_start"`
	Retention  *healthSweep `json:"retention_sweep,omitempty"`
	Cleanup    *healthSweep `json:"batch_cleanup_sweep,omitempty"`
}
