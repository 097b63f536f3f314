package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/recurd/recurd/errors"
)

// SweeperConfig controls stuck-job detection and recovery pacing.
type SweeperConfig struct {
	// StuckThreshold is how long a job may sit in running, judged by
	// updated_at, before it counts as stuck.
	StuckThreshold time.Duration
	// SweepInterval is how often the background loop sweeps.
	SweepInterval time.Duration
	// MinInterval is the floor between two sweeps, whatever triggered
	// them. Manual triggers inside the window are skipped.
	MinInterval time.Duration
	// InitialDelay postpones the first background sweep after Start so
	// a restarting process does not immediately reap jobs that were
	// mid-flight during the restart.
	InitialDelay time.Duration
	// MaxRetries is how many rescues a job gets before it is failed
	// outright.
	MaxRetries int
}

// DefaultSweeperConfig returns the stock sweeper tuning.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		StuckThreshold: 15 * time.Minute,
		SweepInterval:  5 * time.Minute,
		MinInterval:    2 * time.Minute,
		InitialDelay:   30 * time.Second,
		MaxRetries:     3,
	}
}

// StuckJob describes one job found stuck during a sweep, for the
// sweep report.
type StuckJob struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Owner        string `json:"owner"`
	Status       string `json:"status"`
	MinutesStuck int    `json:"minutes_stuck"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	StartedAt  time.Time  `json:"started_at"`
	DurationMs int64      `json:"duration_ms"`
	Processed  int        `json:"processed"`
	Rescued    int        `json:"rescued"`
	Failed     int        `json:"failed"`
	Errors     []string   `json:"errors,omitempty"`
	StuckJobs  []StuckJob `json:"stuck_jobs,omitempty"`
}

// Sweeper finds jobs stranded in the running state and either resets
// them to pending for another attempt or fails them once their retry
// budget is spent. A single sweeper instance guards itself against
// overlapping and over-frequent sweeps; the guard is process-local.
type Sweeper struct {
	store  *Store
	logger *zap.SugaredLogger

	mu          sync.Mutex
	cfg         SweeperConfig
	sweeping    bool
	lastSweepAt time.Time

	timeNow func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store *Store, cfg SweeperConfig, logger *zap.SugaredLogger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		timeNow: time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// NewSweeperWithClock creates a sweeper with an injectable clock for
// deterministic tests.
func NewSweeperWithClock(store *Store, cfg SweeperConfig, logger *zap.SugaredLogger, timeNow func() time.Time) *Sweeper {
	s := NewSweeper(store, cfg, logger)
	s.timeNow = timeNow
	return s
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Infow("Stuck-job sweeper started",
		"stuck_threshold", s.cfg.StuckThreshold,
		"sweep_interval", s.cfg.SweepInterval,
		"initial_delay", s.cfg.InitialDelay)
}

// Stop terminates the background loop and waits for a sweep in
// progress to finish.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Stuck-job sweeper stopped")
}

// ApplyConfig swaps the sweeper tuning at runtime. The background
// loop picks up the new interval on its next tick.
func (s *Sweeper) ApplyConfig(cfg SweeperConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	select {
	case <-time.After(s.initialDelay()):
	case <-s.ctx.Done():
		return
	}

	for {
		report, err := s.RunSweep(s.ctx)
		if err != nil {
			s.logger.Errorw("Sweep failed", "error", err)
		} else if report != nil && report.Processed > 0 {
			s.logger.Infow("Sweep completed",
				"processed", report.Processed,
				"rescued", report.Rescued,
				"failed", report.Failed,
				"errors", len(report.Errors))
		}

		select {
		case <-time.After(s.sweepInterval()):
		case <-s.ctx.Done():
			return
		}
	}
}

// RunSweep performs one sweep. It returns (nil, nil) when skipped
// because a sweep is already in progress or the previous sweep was
// too recent. Per-job failures are recorded in the report and do not
// abort the sweep.
func (s *Sweeper) RunSweep(ctx context.Context) (*SweepReport, error) {
	now := s.timeNow().UTC()

	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		s.logger.Debug("Sweep already in progress, skipping")
		return nil, nil
	}
	if !s.lastSweepAt.IsZero() && now.Sub(s.lastSweepAt) < s.cfg.MinInterval {
		s.mu.Unlock()
		s.logger.Debugw("Sweep rate-limited", "last_sweep_at", s.lastSweepAt)
		return nil, nil
	}
	s.sweeping = true
	// Advance the watermark up front so a failing sweep still counts
	// against the rate guard instead of retrying in a tight loop.
	s.lastSweepAt = now
	threshold := s.cfg.StuckThreshold
	maxRetries := s.cfg.MaxRetries
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	jobs, err := s.store.ListStuckJobs(ctx, now, threshold)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan for stuck jobs")
	}

	report := &SweepReport{StartedAt: now}
	for _, job := range jobs {
		report.Processed++
		report.StuckJobs = append(report.StuckJobs, StuckJob{
			ID:           job.ID,
			Name:         job.Name,
			Owner:        job.Owner,
			Status:       job.Status,
			MinutesStuck: int(now.Sub(job.UpdatedAt).Minutes()),
		})

		if job.RetryCount < maxRetries {
			if err := s.store.RescueJob(ctx, job.ID, now); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("rescue %s: %v", job.ID, err))
				s.logger.Errorw("Failed to rescue stuck job", "job_id", job.ID, "error", err)
				continue
			}
			report.Rescued++
			s.logger.Infow("Rescued stuck job",
				"job_id", job.ID,
				"name", job.Name,
				"retry_count", job.RetryCount+1)
		} else {
			msg := fmt.Sprintf("job stuck in running state; %d recovery attempts exhausted", job.RetryCount)
			if err := s.store.FailStuckJob(ctx, job.ID, msg, now); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("fail %s: %v", job.ID, err))
				s.logger.Errorw("Failed to mark stuck job failed", "job_id", job.ID, "error", err)
				continue
			}
			report.Failed++
			s.logger.Warnw("Stuck job exhausted retries, marked failed",
				"job_id", job.ID,
				"name", job.Name,
				"retry_count", job.RetryCount)
		}
	}

	report.DurationMs = s.timeNow().UTC().Sub(now).Milliseconds()
	return report, nil
}

// LastSweepAt returns when the last sweep started, zero if none ran yet.
func (s *Sweeper) LastSweepAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweepAt
}

func (s *Sweeper) initialDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.InitialDelay
}

func (s *Sweeper) sweepInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.SweepInterval
}
