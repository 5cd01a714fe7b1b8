// Package httpapi exposes the service over HTTP: uploads, translation
// jobs with SSE progress, downloads, batch archives and cache admin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/lingodoc/lingodoc/internal/archive"
	"github.com/lingodoc/lingodoc/internal/cache"
	"github.com/lingodoc/lingodoc/internal/jobs"
	"golang.org/x/text/language"
)

type Server struct {
	manager *jobs.Manager
	uploads *cache.Cache
	results *cache.Cache
	bundler *archive.Bundler

	maxUploadBytes int64
	defaultLangIn  language.Tag
	defaultLangOut language.Tag
	retentionCron  string
	cleanupCron    string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithUploadLimit caps the accepted upload body size.
func WithUploadLimit(maxBytes int64) Option {
	return func(s *Server) {
		s.maxUploadBytes = maxBytes
	}
}

// WithDefaultLanguages sets the languages used when a request omits them.
func WithDefaultLanguages(in, out language.Tag) Option {
	return func(s *Server) {
		s.defaultLangIn = in
		s.defaultLangOut = out
	}
}

// WithSweepSchedules lets the health endpoint report the next sweep times.
func WithSweepSchedules(retentionCron, cleanupCron string) Option {
	return func(s *Server) {
		s.retentionCron = retentionCron
		s.cleanupCron = cleanupCron
	}
}

// WithResultCache exposes the result cache in stats and admin endpoints.
func WithResultCache(results *cache.Cache) Option {
	return func(s *Server) {
		s.results = results
	}
}

func NewServer(manager *jobs.Manager, uploads *cache.Cache, bundler *archive.Bundler, opts ...Option) *Server {
	s := &Server{
		manager:        manager,
		uploads:        uploads,
		bundler:        bundler,
		maxUploadBytes: 100 << 20,
		defaultLangIn:  language.English,
		defaultLangOut: language.Chinese,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/upload", s.handleUpload)
	s.mux.HandleFunc("/api/translate", s.handleTranslate)
	s.mux.HandleFunc("/api/tasks", s.handleTasks)
	s.mux.HandleFunc("/api/tasks/", s.handleTaskByID)
	s.mux.HandleFunc("/api/batch", s.handleCreateBatch)
	s.mux.HandleFunc("/api/batch/", s.handleBatchByID)
	s.mux.HandleFunc("/api/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("/api/cache", s.handleCacheAdmin)
}
