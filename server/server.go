// Package server exposes the job scheduling API over HTTP and owns the
// lifecycle of the background runner and sweeper.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/recurd/recurd/config"
	"github.com/recurd/recurd/errors"
	"github.com/recurd/recurd/schedule"
)

// Server wires the job store, runner, and sweeper behind an HTTP API.
type Server struct {
	db        *sql.DB
	cfg       *config.Config
	store     *schedule.Store
	execStore *schedule.ExecutionStore
	registry  *schedule.HandlerRegistry
	runner    *schedule.Runner
	sweeper   *schedule.Sweeper
	logger    *zap.SugaredLogger

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server over an opened, migrated database.
func New(db *sql.DB, cfg *config.Config, registry *schedule.HandlerRegistry, logger *zap.SugaredLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	store := schedule.NewStore(db)
	execStore := schedule.NewExecutionStore(db)

	runner := schedule.NewRunner(store, execStore, registry, schedule.RunnerConfig{
		PollInterval:       cfg.Scheduler.PollInterval(),
		MaxStartsPerMinute: cfg.Scheduler.MaxStartsPerMinute,
	}, logger.Named("runner"))

	sweeper := schedule.NewSweeper(store, schedule.SweeperConfig{
		StuckThreshold: cfg.Sweeper.StuckThreshold(),
		SweepInterval:  cfg.Sweeper.SweepInterval(),
		MinInterval:    cfg.Sweeper.MinInterval(),
		InitialDelay:   cfg.Sweeper.InitialDelay(),
		MaxRetries:     cfg.Sweeper.MaxRetries,
	}, logger.Named("sweeper"))

	return &Server{
		db:        db,
		cfg:       cfg,
		store:     store,
		execStore: execStore,
		registry:  registry,
		runner:    runner,
		sweeper:   sweeper,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background workers and begins serving HTTP.
// Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.runner.Start()
	s.sweeper.Start()

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Infow("HTTP server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Stop shuts the server down: stop taking requests, then stop the
// workers so nothing writes to a closing database.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down")

	var shutdownErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "http shutdown failed")
		}
	}

	s.runner.Stop()
	s.sweeper.Stop()
	s.cancel()
	s.wg.Wait()
	return shutdownErr
}

// ApplyConfig propagates reloaded settings to the running workers.
// Used as a config watcher callback.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	s.runner.ApplyConfig(schedule.RunnerConfig{
		PollInterval:       cfg.Scheduler.PollInterval(),
		MaxStartsPerMinute: cfg.Scheduler.MaxStartsPerMinute,
	})
	s.sweeper.ApplyConfig(schedule.SweeperConfig{
		StuckThreshold: cfg.Sweeper.StuckThreshold(),
		SweepInterval:  cfg.Sweeper.SweepInterval(),
		MinInterval:    cfg.Sweeper.MinInterval(),
		InitialDelay:   cfg.Sweeper.InitialDelay(),
		MaxRetries:     cfg.Sweeper.MaxRetries,
	})
	s.cfg = cfg
	s.logger.Infow("Applied reloaded configuration",
		"poll_interval", cfg.Scheduler.PollInterval(),
		"sweep_interval", cfg.Sweeper.SweepInterval())
	return nil
}
