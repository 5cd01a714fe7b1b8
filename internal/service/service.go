// Package service wires the application together: caches, job manager,
// bundler, scheduled sweeps and the HTTP server.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/lingodoc/lingodoc/internal/archive"
	"github.com/lingodoc/lingodoc/internal/cache"
	"github.com/lingodoc/lingodoc/internal/config"
	"github.com/lingodoc/lingodoc/internal/engine"
	"github.com/lingodoc/lingodoc/internal/httpapi"
	"github.com/lingodoc/lingodoc/internal/jobs"
	"github.com/lingodoc/lingodoc/internal/persistence"
	"github.com/lingodoc/lingodoc/pkg/log"
)

const gigabyte = 1 << 30

// Service holds the assembled application.
type Service struct {
	cfg     *config.Config
	uploads *cache.Cache
	results *cache.Cache
	manager *jobs.Manager
	bundler *archive.Bundler
	store   *persistence.SQLiteStore
	server  *httpapi.Server
	cron    *cron.Cron
}

// New builds every component from the configuration and the given
// engine. Nothing starts running until Run is called.
func New(cfg *config.Config, eng engine.Engine) (*Service, error) {
	uploads, err := cache.New(cfg.UploadCacheDir(), cache.Options{
		MaxSizeBytes:  int64(cfg.Cache.UploadMaxSizeGB * gigabyte),
		MaxAge:        cfg.Cache.UploadMaxAge,
		SweepInterval: cfg.Cache.SweepInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("open upload cache: %w", err)
	}

	var results *cache.Cache
	if cfg.Cache.CacheResultFiles {
		results, err = cache.New(cfg.ResultCacheDir(), cache.Options{
			MaxSizeBytes:  int64(cfg.Cache.ResultMaxSizeGB * gigabyte),
			MaxAge:        cfg.Cache.ResultMaxAge,
			SweepInterval: cfg.Cache.SweepInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("open result cache: %w", err)
		}
	}

	manager, err := jobs.NewManager(jobs.ManagerOptions{
		Engine:        eng,
		Store:         jobs.NewFileStore(cfg.JobSnapshotPath()),
		ResultsDir:    cfg.ResultsDir(),
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		Workers:       cfg.Jobs.Workers,
		Retention:     cfg.Jobs.Retention,
		ResultCache:   results,
	})
	if err != nil {
		return nil, fmt.Errorf("open job manager: %w", err)
	}

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open batch store: %w", err)
	}

	bundler, err := archive.NewBundler(cfg.ArchiveDir(), cfg.Archive.TTL, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open bundler: %w", err)
	}

	opts := []httpapi.Option{
		httpapi.WithUploadLimit(cfg.HTTP.MaxUploadSizeMB << 20),
		httpapi.WithDefaultLanguages(cfg.Translate.DefaultLangIn, cfg.Translate.DefaultLangOut),
		httpapi.WithSweepSchedules(cfg.Jobs.RetentionCron, cfg.Archive.CleanupCron),
	}
	if results != nil {
		opts = append(opts, httpapi.WithResultCache(results))
	}
	server := httpapi.NewServer(manager, uploads, bundler, opts...)

	return &Service{
		cfg:     cfg,
		uploads: uploads,
		results: results,
		manager: manager,
		bundler: bundler,
		store:   store,
		server:  server,
		cron:    cron.New(),
	}, nil
}

// Run starts the sweepers, the cron schedules and the HTTP server, then
// blocks until ctx is cancelled and shutdown completes.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Jobs.RetentionCron, func() {
		s.manager.CleanupExpired()
	}); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.Archive.CleanupCron, func() {
		s.bundler.CleanupExpired()
	}); err != nil {
		return fmt.Errorf("schedule batch cleanup: %w", err)
	}

	s.uploads.Start()
	if s.results != nil {
		s.results.Start()
	}
	s.cron.Start()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("HTTP server listening on %s", s.cfg.HTTP.Addr)
		err := s.server.ListenAndServe(s.cfg.HTTP.Addr)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		s.shutdown()
		return nil
	})
	return group.Wait()
}

// shutdown stops intake first, then drains the workers, then releases
// everything else.
func (s *Service) shutdown() {
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown: %v", err)
	}

	cronCtx := s.cron.Stop()
	<-cronCtx.Done()

	s.manager.Stop()
	s.uploads.Stop()
	if s.results != nil {
		s.results.Stop()
	}
	if err := s.store.Close(); err != nil {
		log.Error("Close batch store: %v", err)
	}
	log.Info("Shutdown complete")
}
