package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/lingodoc/lingodoc/internal/cache"
	"github.com/lingodoc/lingodoc/internal/engine"
	"github.com/lingodoc/lingodoc/pkg/file"
	"github.com/lingodoc/lingodoc/pkg/log"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("jobs: job not found")
	// ErrTooManyJobs is returned when admission would exceed the
	// concurrency ceiling. The request leaves no trace.
	ErrTooManyJobs = errors.New("jobs: too many active jobs")
	// ErrAlreadyQueued is returned when starting a job that already
	// holds an admission slot.
	ErrAlreadyQueued = errors.New("jobs: job is already queued")
	// ErrNotCancellable is returned when cancelling a job that is not
	// running.
	ErrNotCancellable = errors.New("jobs: job is not processing")
	// ErrJobActive is returned when deleting a job that is still running.
	ErrJobActive = errors.New("jobs: job is still active")
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Engine        engine.Engine
	Store         Store
	ResultsDir    string
	MaxConcurrent int
	Workers       int
	Retention     time.Duration
	// ResultCache, when set, receives a copy of every completed output
	// file keyed by job id and filename.
	ResultCache *cache.Cache
}

// Manager owns the job table. All state transitions go through it, and
// every mutation is followed by a whole-table snapshot write.
type Manager struct {
	engine     engine.Engine
	store      Store
	pool       *Pool
	resultsDir string
	maxActive  int
	retention  time.Duration
	resCache   *cache.Cache

	mu        sync.Mutex
	stopping  bool
	jobs      map[string]*Job
	active    map[string]struct{}
	cancels   map[string]context.CancelFunc
	observers []Observer
}

// NewManager loads the snapshot and recovers interrupted work: any job
// that was not terminal when the service died is marked failed, since
// its in-flight engine run is gone.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Engine == nil {
		return nil, errors.New("jobs: engine is required")
	}
	if opts.Store == nil {
		return nil, errors.New("jobs: store is required")
	}
	if opts.MaxConcurrent <= 0 {
		return nil, errors.New("jobs: max concurrent must be positive")
	}
	if err := os.MkdirAll(opts.ResultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = opts.MaxConcurrent
	}

	m := &Manager{
		engine:     opts.Engine,
		store:      opts.Store,
		pool:       NewPool(workers),
		resultsDir: opts.ResultsDir,
		maxActive:  opts.MaxConcurrent,
		retention:  opts.Retention,
		resCache:   opts.ResultCache,
		jobs:       make(map[string]*Job),
		active:     make(map[string]struct{}),
		cancels:    make(map[string]context.CancelFunc),
	}

	loaded, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("hydrate jobs: %w", err)
	}
	interrupted := 0
	now := time.Now()
	for _, job := range loaded {
		if !job.Status.Terminal() {
			job.Status = StatusFailed
			job.Error = "interrupted by service restart"
			job.FinishedAt = &now
			interrupted++
		}
		m.jobs[job.ID] = job
	}
	if interrupted > 0 {
		log.Warn("Marked %d interrupted jobs as failed on startup", interrupted)
		m.mu.Lock()
		m.persistLocked()
		m.mu.Unlock()
	}
	log.Info("Job manager loaded %d jobs", len(m.jobs))
	return m, nil
}

// Create registers a new pending job and returns its snapshot.
func (m *Manager) Create(params Params) (Job, error) {
	if params.InputPath == "" {
		return Job{}, errors.New("jobs: input path is required")
	}
	size, err := file.PathSize(params.InputPath)
	if err != nil {
		return Job{}, fmt.Errorf("stat input: %w", err)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		Params:      params,
		InputSizeKB: size / 1024,
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	m.persistLocked()
	log.Info("Created job %s (%s, %s)", job.ID, params.Filename,
		humanize.Bytes(uint64(size)))
	return cloneJob(job), nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// List returns job snapshots newest first, with offset/limit paging.
// limit <= 0 means no limit.
func (m *Manager) List(offset, limit int) ([]Job, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		all = append(all, job)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Job{}, total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	ret := make([]Job, 0, end-offset)
	for _, job := range all[offset:end] {
		ret = append(ret, cloneJob(job))
	}
	return ret, total
}

// ActiveCount returns the number of admitted, non-terminal jobs.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CanStart reports whether another job would currently be admitted.
func (m *Manager) CanStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) < m.maxActive
}

// Execute admits a pending job and queues its engine run. When the
// concurrency ceiling is reached the call fails with ErrTooManyJobs and
// the job is left untouched.
func (m *Manager) Execute(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != StatusPending {
		m.mu.Unlock()
		return fmt.Errorf("jobs: job %s is %s, not pending", id, job.Status)
	}
	// A job waiting in the pool is still Pending; its slot must not be
	// granted twice.
	if _, admitted := m.active[id]; admitted {
		m.mu.Unlock()
		return ErrAlreadyQueued
	}
	if len(m.active) >= m.maxActive {
		m.mu.Unlock()
		return ErrTooManyJobs
	}
	m.active[id] = struct{}{}
	priority := job.InputSizeKB
	m.mu.Unlock()

	m.pool.Submit(priority, func(ctx context.Context) {
		m.runJob(ctx, id)
	})
	log.Info("Queued job %s (priority %d)", id, priority)
	return nil
}

func (m *Manager) runJob(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job %s panicked: %v", id, r)
			m.finish(id, StatusFailed, fmt.Sprintf("internal error: %v", r),
				string(debug.Stack()))
		}
		m.releaseSlot(id)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusPending || m.stopping {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = StatusProcessing
	job.StartedAt = &now
	m.cancels[id] = cancel
	params := job.Params
	m.persistLocked()
	snapshot := cloneJob(job)
	m.mu.Unlock()
	m.notify(snapshot)

	defer func() {
		m.mu.Lock()
		delete(m.cancels, id)
		m.mu.Unlock()
	}()

	outputDir := filepath.Join(m.resultsDir, id)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		m.finish(id, StatusFailed, fmt.Sprintf("create output dir: %v", err), "")
		return
	}

	events, err := m.engine.Run(runCtx, engine.Config{
		InputFile:     params.InputPath,
		OutputDir:     outputDir,
		LangIn:        params.LangIn,
		LangOut:       params.LangOut,
		Pages:         params.Pages,
		Model:         params.Model,
		NoDual:        params.NoDual,
		NoMono:        params.NoMono,
		WatermarkMode: params.WatermarkMode,
		MinTextLength: params.MinTextLength,
		QPS:           params.QPS,
		Options:       params.Options,
	})
	if err != nil {
		m.finish(id, StatusFailed, fmt.Sprintf("start engine: %v", err), "")
		return
	}

	for ev := range events {
		switch ev.Type {
		case engine.EventProgress:
			m.UpdateProgress(id, ev.Progress, ev.Message, ev.Stage)
		case engine.EventFinish:
			for _, path := range ev.Outputs {
				if err := m.AddOutputFile(id, path); err != nil {
					log.Error("Job %s: record output %s: %v", id, path, err)
				}
			}
			m.finish(id, StatusCompleted, "", "")
		case engine.EventError:
			if runCtx.Err() != nil {
				// Cancelled jobs keep their cancelled label; the engine
				// abort is not a failure.
				return
			}
			m.finish(id, StatusFailed, ev.Reason, ev.Message)
		}
	}
}

func (m *Manager) finish(id string, status Status, errMsg, detail string) {
	if err := m.UpdateStatus(id, status, errMsg, detail); err != nil &&
		!errors.Is(err, ErrJobNotFound) {
		log.Debug("Job %s: terminal transition skipped: %v", id, err)
	}
}

func (m *Manager) releaseSlot(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// UpdateProgress records engine progress. Values are clamped to [0,100]
// and never lowered within a run.
func (m *Manager) UpdateProgress(id string, progress float64, message, stage string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	if progress < job.Progress {
		log.Debug("Job %s: ignoring progress regression %.1f -> %.1f",
			id, job.Progress, progress)
		m.mu.Unlock()
		return nil
	}
	job.Progress = progress
	if message != "" {
		job.Message = message
	}
	if stage != "" {
		job.Stage = stage
	}
	m.persistLocked()
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// UpdateStatus transitions a job. Terminal jobs are immutable; a second
// terminal transition is a no-op error so races between cancellation and
// engine completion resolve to whichever landed first.
func (m *Manager) UpdateStatus(id string, status Status, errMsg, detail string) error {
	if !status.Valid() {
		return fmt.Errorf("jobs: invalid status %q", status)
	}

	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("jobs: job %s already %s", id, job.Status)
	}

	job.Status = status
	job.Error = errMsg
	job.ErrorDetail = detail
	if status.Terminal() {
		now := time.Now()
		job.FinishedAt = &now
		if status == StatusCompleted {
			job.Progress = 100
		}
		delete(m.active, id)
		if cancel, ok := m.cancels[id]; ok {
			cancel()
		}
	}
	m.persistLocked()
	snapshot := cloneJob(job)
	m.mu.Unlock()

	if status == StatusFailed {
		log.Warn("Job %s failed: %s", id, errMsg)
	} else {
		log.Info("Job %s -> %s", id, status)
	}
	m.notify(snapshot)
	return nil
}

// AddOutputFile records a produced file, classifying it by name.
// Duplicate paths are ignored.
func (m *Manager) AddOutputFile(id, path string) error {
	out := InferOutputFile(path)

	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	for _, existing := range job.OutputFiles {
		if existing.Path == path {
			m.mu.Unlock()
			return nil
		}
	}
	job.OutputFiles = append(job.OutputFiles, out)
	job.OutputFilePaths = job.FlatOutputPaths()
	m.persistLocked()
	m.mu.Unlock()

	if m.resCache != nil {
		key := fmt.Sprintf("%s-%s", id, filepath.Base(path))
		if _, err := m.resCache.Put(key, path, map[string]string{
			"job_id": id,
			"type":   string(out.Type),
		}, true); err != nil {
			log.Warn("Job %s: result cache put failed: %v", id, err)
		}
	}
	return nil
}

// Cancel marks a running job cancelled and aborts its engine run. Only
// processing jobs can be cancelled.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != StatusProcessing {
		m.mu.Unlock()
		return ErrNotCancellable
	}
	m.mu.Unlock()

	return m.UpdateStatus(id, StatusCancelled, "cancelled by user", "")
}

// Delete removes a job and its result files. Active jobs must be
// cancelled first.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if !job.Status.Terminal() && job.Status != StatusPending {
		m.mu.Unlock()
		return ErrJobActive
	}
	if _, admitted := m.active[id]; admitted {
		m.mu.Unlock()
		return ErrJobActive
	}
	delete(m.jobs, id)
	m.persistLocked()
	m.mu.Unlock()

	m.removeResults(id)
	log.Info("Deleted job %s", id)
	return nil
}

// RegisterObserver adds a change listener. Observers receive a snapshot
// after every progress or status change.
func (m *Manager) RegisterObserver(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// CleanupExpired removes terminal jobs whose completion is older than
// the retention window, along with their result files.
func (m *Manager) CleanupExpired() int {
	if m.retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-m.retention)

	m.mu.Lock()
	var expired []string
	for id, job := range m.jobs {
		if !job.Status.Terminal() || job.FinishedAt == nil {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.jobs, id)
	}
	if len(expired) > 0 {
		m.persistLocked()
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.removeResults(id)
	}
	if len(expired) > 0 {
		log.Info("Retention sweep removed %d expired jobs", len(expired))
	}
	return len(expired)
}

// Stop aborts in-flight engine runs, drains the worker pool and writes
// a final snapshot. Jobs still processing at this point are recovered
// as interrupted on the next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopping = true
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	m.pool.Stop()
	m.mu.Lock()
	m.persistLocked()
	m.mu.Unlock()
	log.Info("Job manager stopped")
}

func (m *Manager) removeResults(id string) {
	dir := filepath.Join(m.resultsDir, id)
	if err := file.RemovePath(dir); err != nil {
		log.Error("Failed to remove results for job %s: %v", id, err)
	}
}

func (m *Manager) notify(job Job) {
	m.mu.Lock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("Observer panicked for job %s: %v", job.ID, r)
				}
			}()
			obs(job)
		}()
	}
}

// persistLocked snapshots the whole job table. Callers hold m.mu.
// A failed write is logged; the in-memory table stays authoritative.
func (m *Manager) persistLocked() {
	all := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		clone := cloneJob(job)
		all = append(all, &clone)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if err := m.store.SaveAll(all); err != nil {
		log.Error("Failed to persist job snapshot: %v", err)
	}
}

func cloneJob(job *Job) Job {
	clone := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		clone.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		clone.FinishedAt = &t
	}
	if job.OutputFiles != nil {
		clone.OutputFiles = append([]OutputFile(nil), job.OutputFiles...)
	}
	clone.OutputFilePaths = clone.FlatOutputPaths()
	if job.Params.Options != nil {
		opts := make(map[string]string, len(job.Params.Options))
		for k, v := range job.Params.Options {
			opts[k] = v
		}
		clone.Params.Options = opts
	}
	return clone
}
