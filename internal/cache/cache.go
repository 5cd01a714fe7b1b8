// Package cache implements a content-addressed file cache with a JSON
// metadata snapshot, age-based expiry and size-based eviction under a
// byte budget.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lingodoc/lingodoc/pkg/file"
	"github.com/lingodoc/lingodoc/pkg/log"
)

const metadataFileName = "cache_metadata.json"

// Entry is one cached file or directory. The cache owns the storage at
// Path; callers must not move or delete it.
type Entry struct {
	Key          string            `json:"key"`
	Path         string            `json:"path"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastAccessed time.Time         `json:"last_accessed"`
	AccessCount  int               `json:"access_count"`
}

// Summary is an Entry plus its current on-disk size.
type Summary struct {
	Entry
	Size int64 `json:"size"`
}

// Stats describes cache occupancy.
type Stats struct {
	TotalItems    int     `json:"total_items"`
	TotalBytes    int64   `json:"total_bytes"`
	BudgetBytes   int64   `json:"budget_bytes"`
	UsagePercent  float64 `json:"usage_percent"`
	MaxAgeSeconds int64   `json:"max_age_seconds"`
	Dir           string  `json:"dir"`
}

// Options configures a Cache instance.
type Options struct {
	MaxSizeBytes  int64
	MaxAge        time.Duration
	SweepInterval time.Duration
	// RetryDelay is the fallback wait after a failed sweep. Zero means 5m.
	RetryDelay time.Duration
}

type Cache struct {
	dir           string
	maxBytes      int64
	maxAge        time.Duration
	sweepInterval time.Duration
	retryDelay    time.Duration

	// mu is the single-writer section guarding the index and the
	// metadata snapshot. Eviction takes it too, so a sweep can never
	// interleave with a mutating operation.
	mu    sync.Mutex
	index map[string]*Entry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New opens (or creates) a cache rooted at dir and loads the metadata
// snapshot. Index entries whose backing storage is gone are dropped.
func New(dir string, opts Options) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	retry := opts.RetryDelay
	if retry <= 0 {
		retry = 5 * time.Minute
	}

	c := &Cache{
		dir:           dir,
		maxBytes:      opts.MaxSizeBytes,
		maxAge:        opts.MaxAge,
		sweepInterval: opts.SweepInterval,
		retryDelay:    retry,
		index:         make(map[string]*Entry),
		stopCh:        make(chan struct{}),
	}
	c.loadMetadata()
	return c, nil
}

func (c *Cache) loadMetadata() {
	path := filepath.Join(c.dir, metadataFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("Failed to read cache metadata %s: %v", path, err)
		}
		return
	}

	var snapshot struct {
		Items []*Entry `json:"items"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.Error("Failed to parse cache metadata %s: %v", path, err)
		return
	}

	for _, item := range snapshot.Items {
		if item == nil || item.Key == "" {
			continue
		}
		if _, err := os.Stat(item.Path); err != nil {
			log.Warn("Cache storage missing, dropping entry %s (%s)", item.Key, item.Path)
			continue
		}
		c.index[item.Key] = item
	}
	log.Info("Loaded %d cache entries from %s", len(c.index), c.dir)
}

// saveMetadataLocked rewrites the whole metadata snapshot. Callers hold mu.
func (c *Cache) saveMetadataLocked() error {
	items := make([]*Entry, 0, len(c.index))
	for _, item := range c.index {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	data, err := json.MarshalIndent(map[string]any{
		"items":      items,
		"updated_at": time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(c.dir, metadataFileName)
	tmp, err := os.CreateTemp(c.dir, ".metadata-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Cache) persistLocked() {
	if err := c.saveMetadataLocked(); err != nil {
		// In-memory state stays authoritative; the next successful
		// save rewrites the whole snapshot.
		log.Error("Failed to save cache metadata: %v", err)
	}
}

// Exists reports whether key has a live entry. A stale index entry whose
// storage vanished is removed as a side effect and reported as absent.
func (c *Cache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.existsLocked(key)
}

func (c *Cache) existsLocked(key string) bool {
	item, ok := c.index[key]
	if !ok {
		return false
	}
	if _, err := os.Stat(item.Path); err != nil {
		delete(c.index, key)
		c.persistLocked()
		return false
	}
	return true
}

// Get returns the storage location for key and updates access metadata.
// The returned path is cache-owned; callers read it in place.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.existsLocked(key) {
		return "", false
	}
	item := c.index[key]
	item.LastAccessed = time.Now()
	item.AccessCount++
	c.persistLocked()
	return item.Path, true
}

// GetEntry returns a copy of the full entry for key, updating access
// metadata like Get.
func (c *Cache) GetEntry(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.existsLocked(key) {
		return Entry{}, false
	}
	item := c.index[key]
	item.LastAccessed = time.Now()
	item.AccessCount++
	c.persistLocked()
	return cloneEntry(item), true
}

// Put stores source under key. With copy=true the source file or directory
// is duplicated into cache-owned storage; with copy=false the source path
// itself is adopted as cache-owned. Insertion triggers size-based eviction
// when the byte budget is exceeded.
func (c *Cache) Put(key, source string, metadata map[string]string, copy bool) (string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	storagePath := source
	if copy {
		if info.IsDir() {
			storagePath = filepath.Join(c.dir, key+"_dir")
			if err := file.CopyDir(source, storagePath); err != nil {
				return "", fmt.Errorf("copy directory into cache: %w", err)
			}
		} else {
			storagePath = filepath.Join(c.dir, key+filepath.Ext(source))
			if err := file.CopyFile(source, storagePath); err != nil {
				return "", fmt.Errorf("copy file into cache: %w", err)
			}
		}
	}

	now := time.Now()
	c.index[key] = &Entry{
		Key:          key,
		Path:         storagePath,
		Metadata:     metadata,
		CreatedAt:    now,
		LastAccessed: now,
	}

	if c.maxBytes > 0 && c.totalSizeLocked() > c.maxBytes {
		c.evictBySizeLocked()
	}
	c.persistLocked()
	log.Debug("Cached %s at %s", key, storagePath)
	return storagePath, nil
}

// Delete removes the entry and its storage. Returns false for absent keys.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.index[key]
	if !ok {
		return false
	}
	delete(c.index, key)
	if err := file.RemovePath(item.Path); err != nil {
		log.Error("Failed to delete cache storage %s: %v", item.Path, err)
	}
	c.persistLocked()
	return true
}

// List returns summaries of all live entries.
func (c *Cache) List() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	ret := make([]Summary, 0, len(c.index))
	for _, item := range c.index {
		size, err := file.PathSize(item.Path)
		if err != nil {
			continue
		}
		ret = append(ret, Summary{Entry: cloneEntry(item), Size: size})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Key < ret[j].Key })
	return ret
}

// Stats reports current occupancy against the configured budget.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.totalSizeLocked()
	usage := 0.0
	if c.maxBytes > 0 {
		usage = float64(total) / float64(c.maxBytes) * 100
	}
	return Stats{
		TotalItems:    len(c.index),
		TotalBytes:    total,
		BudgetBytes:   c.maxBytes,
		UsagePercent:  usage,
		MaxAgeSeconds: int64(c.maxAge.Seconds()),
		Dir:           c.dir,
	}
}

// Clear removes every entry and its storage, leaving an empty cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, item := range c.index {
		if err := file.RemovePath(item.Path); err != nil {
			log.Error("Failed to delete cache storage %s: %v", item.Path, err)
		}
	}
	c.index = make(map[string]*Entry)
	c.persistLocked()
	log.Info("Cleared cache %s", c.dir)
}

// Sweep runs one eviction pass: expired or storage-less entries first,
// then least-recently-accessed entries until usage is back at 80% of the
// byte budget.
func (c *Cache) Sweep() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.evictByAgeLocked()
	if c.maxBytes > 0 && c.totalSizeLocked() > c.maxBytes {
		removed += c.evictBySizeLocked()
	}
	if removed > 0 {
		log.Info("Cache sweep removed %d entries from %s", removed, c.dir)
		return c.saveMetadataLocked()
	}
	return nil
}

func (c *Cache) evictByAgeLocked() int {
	now := time.Now()
	removed := 0
	for key, item := range c.index {
		expired := c.maxAge > 0 && now.Sub(item.CreatedAt) > c.maxAge
		_, statErr := os.Stat(item.Path)
		if !expired && statErr == nil {
			continue
		}
		delete(c.index, key)
		removed++
		if statErr == nil {
			if err := file.RemovePath(item.Path); err != nil {
				// One stubborn file must not abort the rest of the sweep.
				log.Error("Failed to delete expired cache storage %s: %v", item.Path, err)
			}
		}
	}
	return removed
}

func (c *Cache) evictBySizeLocked() int {
	target := int64(float64(c.maxBytes) * 0.8)
	current := c.totalSizeLocked()

	items := make([]*Entry, 0, len(c.index))
	for _, item := range c.index {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].LastAccessed.Before(items[j].LastAccessed)
	})

	removed := 0
	for _, item := range items {
		if current <= target {
			break
		}
		size, err := file.PathSize(item.Path)
		if err == nil {
			current -= size
		}
		if err := file.RemovePath(item.Path); err != nil {
			log.Error("Failed to delete cache storage %s: %v", item.Path, err)
		}
		delete(c.index, item.Key)
		removed++
	}
	if removed > 0 {
		log.Info("Evicted %d entries to get %s back under %s", removed, c.dir,
			humanize.Bytes(uint64(target)))
	}
	return removed
}

func (c *Cache) totalSizeLocked() int64 {
	var total int64
	for _, item := range c.index {
		size, err := file.PathSize(item.Path)
		if err != nil {
			continue
		}
		total += size
	}
	return total
}

// Start launches the background sweep loop. A failed sweep logs and
// retries after the fallback delay instead of killing the loop.
func (c *Cache) Start() {
	if c.sweepInterval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		delay := c.sweepInterval
		for {
			select {
			case <-c.stopCh:
				return
			case <-time.After(delay):
			}
			if err := c.Sweep(); err != nil {
				log.Error("Cache sweep failed for %s: %v", c.dir, err)
				delay = c.retryDelay
			} else {
				delay = c.sweepInterval
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
	})
}

func cloneEntry(e *Entry) Entry {
	ret := *e
	if e.Metadata != nil {
		ret.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			ret.Metadata[k] = v
		}
	}
	return ret
}
