// Package syncd wires the version store, queue store, merge engine,
// pub/sub bus, session registry, orchestrator, broadcast gateway, and
// external adapters into one running server.
package syncd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/driftsync/syncd/internal/sync/adapters"
	"github.com/driftsync/syncd/internal/sync/archive"
	"github.com/driftsync/syncd/internal/sync/bus"
	"github.com/driftsync/syncd/internal/sync/clock"
	"github.com/driftsync/syncd/internal/sync/gateway"
	"github.com/driftsync/syncd/internal/sync/merge"
	"github.com/driftsync/syncd/internal/sync/orchestrator"
	syncregistry "github.com/driftsync/syncd/internal/sync/registry"
	"github.com/driftsync/syncd/internal/sync/queue"
	"github.com/driftsync/syncd/internal/sync/tutor"
	"github.com/driftsync/syncd/internal/sync/version"
	"github.com/driftsync/syncd/pkg/log"
	"github.com/driftsync/syncd/pkg/options"
)

// Config holds every option group a running server needs. cmd/syncd/app
// builds one from parsed flags and calls NewServer.
type Config struct {
	EtcdOptions      *options.EtcdOptions
	SQLiteOptions    *options.SQLiteOptions
	WebSocketOptions *options.WebSocketOptions
	HttpOptions      *options.HttpOptions
	ContentGrpc      *options.GrpcOptions
	ProgressGrpc     *options.GrpcOptions
	TutorGrpc        *options.GrpcOptions
	S3Options        *options.S3Options
	VersionCacheSize int

	// GraceWindow and SweepInterval configure the version store's GC sweep
	// (internal/sync/version.Config); see NewServer.
	GraceWindow   time.Duration
	SweepInterval time.Duration
}

// Server owns the process's long-lived resources: the HTTP/websocket
// listener and every store the orchestrator depends on.
type Server struct {
	httpOpts      *options.HttpOptions
	gw            *gateway.Gateway
	store         *version.Store
	queue         *queue.Store
	adapters      []adapters.Adapter
	archiver      *archive.Store
	gcConfig      version.Config
	sweepInterval time.Duration
}

// NewServer builds every component described by cfg and returns the
// assembled, not-yet-running Server.
func (cfg *Config) NewServer() (*Server, error) {
	clk := clock.New()

	store, err := version.New(cfg.EtcdOptions, cfg.VersionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open version store: %w", err)
	}

	queueStore, err := queue.Open(cfg.SQLiteOptions)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}

	registry := merge.NewRegistry()

	contentAdapter, err := adapters.Dial("content", cfg.ContentGrpc, adapters.ContentSchemas())
	if err != nil {
		queueStore.Close()
		store.Close()
		return nil, fmt.Errorf("failed to dial content adapter: %w", err)
	}
	contentAdapter.RegisterSchemas(registry)

	progressAdapter, err := adapters.Dial("progress", cfg.ProgressGrpc, adapters.ProgressSchemas())
	if err != nil {
		contentAdapter.Close()
		queueStore.Close()
		store.Close()
		return nil, fmt.Errorf("failed to dial progress adapter: %w", err)
	}
	progressAdapter.RegisterSchemas(registry)

	tutorAdapter, err := adapters.Dial("tutor", cfg.TutorGrpc, adapters.TutorSchemas())
	if err != nil {
		progressAdapter.Close()
		contentAdapter.Close()
		queueStore.Close()
		store.Close()
		return nil, fmt.Errorf("failed to dial tutor adapter: %w", err)
	}
	tutorAdapter.RegisterSchemas(registry)

	archiver, err := archive.New(cfg.S3Options)
	if err != nil {
		tutorAdapter.Close()
		progressAdapter.Close()
		contentAdapter.Close()
		queueStore.Close()
		store.Close()
		return nil, fmt.Errorf("failed to create archive store: %w", err)
	}

	engine := merge.NewEngine(registry)
	b := bus.New()
	tb := tutor.New()
	sessions := syncregistry.New()
	orch := orchestrator.New(store, queueStore, engine, b, sessions, clk)
	gw := gateway.New(cfg.WebSocketOptions, orch, sessions, b, tb)

	return &Server{
		httpOpts:      cfg.HttpOptions,
		gw:            gw,
		store:         store,
		queue:         queueStore,
		adapters:      []adapters.Adapter{contentAdapter, progressAdapter, tutorAdapter},
		archiver:      archiver,
		gcConfig:      version.Config{GraceWindow: cfg.GraceWindow},
		sweepInterval: cfg.SweepInterval,
	}, nil
}

// Run serves the gateway's HTTP/websocket listener until ctx is canceled,
// then drains connections within a fixed grace period before releasing the
// version and queue stores.
func (s *Server) Run(ctx context.Context) error {
	defer s.closeAdapters()
	defer s.store.Close()
	defer s.queue.Close()

	go s.runSweepLoop(ctx)

	httpServer := &http.Server{
		Addr:    s.httpOpts.Addr,
		Handler: s.gw.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("syncd gateway listening", "address", s.httpOpts.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining gateway connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runSweepLoop periodically archives and removes version-store records that
// have outlived their grace window, until ctx is canceled. A sweep error is
// logged, not fatal: the next tick tries again.
func (s *Server) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.Sweep(ctx, s.gcConfig, s.archiver, time.Now())
			if err != nil {
				log.Warn("syncd: gc sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("syncd: gc sweep archived expired records", "count", n)
			}
		}
	}
}

func (s *Server) closeAdapters() {
	for _, a := range s.adapters {
		if err := a.Close(); err != nil {
			log.Warn("syncd: adapter close failed", "adapter", a.Name(), "error", err)
		}
	}
}
