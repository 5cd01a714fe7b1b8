package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// Config holds all application configuration.
// Every field can be set through environment variables with sensible
// defaults, so the service runs out of the box with only ENGINE_BIN set.
//
// Environment Variables:
//
// Storage:
// - DATA_DIR: root directory for caches, results, snapshots (default: /var/lib/lingodoc)
//
// Content cache:
// - UPLOAD_CACHE_MAX_SIZE_GB: byte budget for uploaded inputs (default: 5)
// - UPLOAD_CACHE_MAX_AGE_HOURS: max age for uploaded inputs (default: 24)
// - RESULT_CACHE_MAX_SIZE_GB: byte budget for cached results (default: 10)
// - RESULT_CACHE_MAX_AGE_HOURS: max age for cached results (default: 168)
// - CACHE_SWEEP_INTERVAL: sweep period, Go duration (default: 1h)
// - CACHE_RESULTS: also place result files into the result cache (default: false)
//
// Jobs:
// - MAX_CONCURRENT_JOBS: admission ceiling for Processing jobs (default: 3)
// - JOB_WORKERS: worker pool size (default: MAX_CONCURRENT_JOBS)
// - JOB_RETENTION_DAYS: terminal jobs older than this are swept (default: 7)
// - RETENTION_CRON: schedule of the retention sweep (default: hourly)
//
// Archive:
// - ARCHIVE_TTL_HOURS: batch time to live (default: 24)
// - ARCHIVE_CLEANUP_CRON: schedule of the eager batch sweep (default: hourly)
//
// Engine:
// - ENGINE_BIN: path of the conversion engine binary (required)
// - ENGINE_WORK_DIR: scratch area for engine invocations (default: OS temp)
//
// Translate defaults:
// - DEFAULT_LANG_IN: default source language (default: en)
// - DEFAULT_LANG_OUT: default target language (default: zh)
//
// HTTP:
// - HTTP_ADDR: listen address (default: :8080)
// - MAX_UPLOAD_SIZE_MB: upload size cap (default: 100)
//
// System:
// - LOG_LEVEL: debug|info|warn|error (default: info)

type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Cache     CacheConfig     `json:"cache"`
	Jobs      JobsConfig      `json:"jobs"`
	Archive   ArchiveConfig   `json:"archive"`
	Engine    EngineConfig    `json:"engine"`
	Translate TranslateConfig `json:"translate"`
	HTTP      HTTPConfig      `json:"http"`
	LogLevel  string          `json:"log_level"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
}

// CacheConfig covers both content-cache instances: one for uploaded
// inputs, one for translated results.
type CacheConfig struct {
	UploadMaxSizeGB  float64       `json:"upload_max_size_gb"`
	UploadMaxAge     time.Duration `json:"upload_max_age"`
	ResultMaxSizeGB  float64       `json:"result_max_size_gb"`
	ResultMaxAge     time.Duration `json:"result_max_age"`
	SweepInterval    time.Duration `json:"sweep_interval"`
	CacheResultFiles bool          `json:"cache_result_files"`
}

type JobsConfig struct {
	MaxConcurrent int           `json:"max_concurrent"`
	Workers       int           `json:"workers"`
	Retention     time.Duration `json:"retention"`
	RetentionCron string        `json:"retention_cron"`
}

type ArchiveConfig struct {
	TTL         time.Duration `json:"ttl"`
	CleanupCron string        `json:"cleanup_cron"`
}

type EngineConfig struct {
	Bin     string `json:"bin"`
	WorkDir string `json:"work_dir"`
}

type TranslateConfig struct {
	DefaultLangIn  language.Tag `json:"default_lang_in"`
	DefaultLangOut language.Tag `json:"default_lang_out"`
}

type HTTPConfig struct {
	Addr            string `json:"addr"`
	MaxUploadSizeMB int64  `json:"max_upload_size_mb"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Storage: StorageConfig{
			DataDir: getEnvString("DATA_DIR", "/var/lib/lingodoc"),
		},
		Cache: CacheConfig{
			UploadMaxSizeGB:  getEnvFloat("UPLOAD_CACHE_MAX_SIZE_GB", 5),
			UploadMaxAge:     time.Duration(getEnvInt("UPLOAD_CACHE_MAX_AGE_HOURS", 24)) * time.Hour,
			ResultMaxSizeGB:  getEnvFloat("RESULT_CACHE_MAX_SIZE_GB", 10),
			ResultMaxAge:     time.Duration(getEnvInt("RESULT_CACHE_MAX_AGE_HOURS", 7*24)) * time.Hour,
			SweepInterval:    getEnvDuration("CACHE_SWEEP_INTERVAL", time.Hour),
			CacheResultFiles: getEnvBool("CACHE_RESULTS", false),
		},
		Jobs: JobsConfig{
			MaxConcurrent: getEnvInt("MAX_CONCURRENT_JOBS", 3),
			Workers:       getEnvInt("JOB_WORKERS", 0),
			Retention:     time.Duration(getEnvInt("JOB_RETENTION_DAYS", 7)) * 24 * time.Hour,
			RetentionCron: getEnvString("RETENTION_CRON", "0 * * * *"),
		},
		Archive: ArchiveConfig{
			TTL:         time.Duration(getEnvInt("ARCHIVE_TTL_HOURS", 24)) * time.Hour,
			CleanupCron: getEnvString("ARCHIVE_CLEANUP_CRON", "30 * * * *"),
		},
		Engine: EngineConfig{
			Bin:     getEnvString("ENGINE_BIN", ""),
			WorkDir: getEnvString("ENGINE_WORK_DIR", os.TempDir()),
		},
		Translate: TranslateConfig{
			DefaultLangIn:  parseLangTag(getEnvString("DEFAULT_LANG_IN", "en"), language.English),
			DefaultLangOut: parseLangTag(getEnvString("DEFAULT_LANG_OUT", "zh"), language.Chinese),
		},
		HTTP: HTTPConfig{
			Addr:            getEnvString("HTTP_ADDR", ":8080"),
			MaxUploadSizeMB: int64(getEnvInt("MAX_UPLOAD_SIZE_MB", 100)),
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	if config.Jobs.Workers <= 0 {
		config.Jobs.Workers = config.Jobs.MaxConcurrent
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// UploadCacheDir is where the content cache keeps uploaded inputs.
func (c *Config) UploadCacheDir() string {
	return filepath.Join(c.Storage.DataDir, "cache", "uploads")
}

// ResultCacheDir is where the content cache keeps cached result files.
func (c *Config) ResultCacheDir() string {
	return filepath.Join(c.Storage.DataDir, "cache", "results")
}

// ResultsDir is the job manager's persistent results area.
func (c *Config) ResultsDir() string {
	return filepath.Join(c.Storage.DataDir, "results")
}

// JobSnapshotPath is the whole-file job table snapshot.
func (c *Config) JobSnapshotPath() string {
	return filepath.Join(c.Storage.DataDir, "jobs.json")
}

// ArchiveDir is where the bundler writes its zip files.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.Storage.DataDir, "batches")
}

// DBPath is the SQLite database holding archive batch records.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "lingodoc.db")
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.Engine.Bin == "" {
		return fmt.Errorf("ENGINE_BIN is required")
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}
	return nil
}

func parseLangTag(code string, fallback language.Tag) language.Tag {
	tag, err := language.Parse(code)
	if err != nil {
		return fallback
	}
	return tag
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a Go duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
