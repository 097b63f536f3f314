package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/recurd/recurd/errors"
)

// RunnerConfig controls due-job polling and execution pacing.
type RunnerConfig struct {
	// PollInterval is how often the runner scans for due jobs.
	PollInterval time.Duration
	// MaxStartsPerMinute caps job starts across all schedules so a
	// backlog of overdue jobs drains gradually instead of stampeding.
	MaxStartsPerMinute int
	// BatchSize caps how many due jobs one poll considers.
	BatchSize int
}

// DefaultRunnerConfig returns the stock runner tuning.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval:       5 * time.Second,
		MaxStartsPerMinute: 60,
		BatchSize:          100,
	}
}

// Runner polls for due jobs and executes them through registered
// handlers, driving the pending -> running -> completed/failed
// lifecycle and recomputing each job's next run time.
type Runner struct {
	store     *Store
	execStore *ExecutionStore
	registry  *HandlerRegistry
	logger    *zap.SugaredLogger
	limiter   *rate.Limiter

	mu  sync.Mutex
	cfg RunnerConfig

	timeNow func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner over the given stores and registry.
func NewRunner(store *Store, execStore *ExecutionStore, registry *HandlerRegistry, cfg RunnerConfig, logger *zap.SugaredLogger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRunnerConfig().BatchSize
	}
	return &Runner{
		store:     store,
		execStore: execStore,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(float64(cfg.MaxStartsPerMinute)/60.0), burstFor(cfg.MaxStartsPerMinute)),
		timeNow:   time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func burstFor(perMinute int) int {
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return burst
}

// Start launches the polling loop.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Infow("Job runner started",
		"poll_interval", r.pollInterval(),
		"max_starts_per_minute", r.cfg.MaxStartsPerMinute,
		"handlers", r.registry.Names())
}

// Stop terminates the polling loop and waits for in-flight work.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("Job runner stopped")
}

// ApplyConfig swaps the runner tuning at runtime.
func (r *Runner) ApplyConfig(cfg RunnerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRunnerConfig().BatchSize
	}
	r.cfg = cfg
	r.limiter.SetLimit(rate.Limit(float64(cfg.MaxStartsPerMinute) / 60.0))
	r.limiter.SetBurst(burstFor(cfg.MaxStartsPerMinute))
}

func (r *Runner) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Tick(r.ctx)
			// Interval may have been reconfigured between ticks.
			ticker.Reset(r.pollInterval())
		case <-r.ctx.Done():
			return
		}
	}
}

// Tick runs one poll cycle: scan for due jobs and execute them in
// order, oldest due first. Exposed so a manual trigger and tests can
// drive the runner without the timer loop.
func (r *Runner) Tick(ctx context.Context) {
	now := r.timeNow().UTC()

	jobs, err := r.store.ListDueJobs(ctx, now, r.batchSize())
	if err != nil {
		r.logger.Errorw("Failed to scan for due jobs", "error", err)
		return
	}

	for _, job := range jobs {
		if !r.limiter.Allow() {
			// Over the start budget; leave the rest for the next tick.
			r.logger.Debugw("Start rate cap reached, deferring remaining due jobs",
				"deferred", len(jobs))
			return
		}
		r.executeJob(ctx, job)
	}
}

// executeJob drives a single due job through one run.
func (r *Runner) executeJob(ctx context.Context, job *Job) {
	now := r.timeNow().UTC()

	claimed, err := r.store.MarkRunning(job.ID, now)
	if err != nil {
		r.logger.Errorw("Failed to claim due job", "job_id", job.ID, "error", err)
		return
	}
	if !claimed {
		// Someone else moved it out of pending between scan and claim.
		return
	}

	exec := NewExecution(job.ID, now)
	if err := r.execStore.CreateExecution(exec); err != nil {
		r.logger.Errorw("Failed to record execution start", "job_id", job.ID, "error", err)
	}

	runErr := r.invokeHandler(ctx, job)
	finishedAt := r.timeNow().UTC()

	if runErr != nil {
		exec.Fail(finishedAt, runErr.Error())
	} else {
		exec.Complete(finishedAt, "")
	}
	if err := r.execStore.UpdateExecution(exec); err != nil {
		r.logger.Errorw("Failed to record execution result", "job_id", job.ID, "error", err)
	}

	r.finishRun(job, runErr, finishedAt)
}

func (r *Runner) invokeHandler(ctx context.Context, job *Job) error {
	handler := r.registry.Get(job.HandlerName)
	if handler == nil {
		return errors.Newf("no handler registered for %q", job.HandlerName)
	}
	return handler.Execute(ctx, job)
}

// finishRun records the outcome on the job row: status, counters,
// and the next run time (or retirement from the schedule).
func (r *Runner) finishRun(job *Job, runErr error, finishedAt time.Time) {
	job.RunCount++
	job.LastRunAt = &finishedAt

	if runErr != nil {
		job.Status = StatusFailed
		job.Error = runErr.Error()
		r.logger.Errorw("Job run failed",
			"job_id", job.ID,
			"name", job.Name,
			"handler", job.HandlerName,
			"error", runErr)
	} else {
		job.Status = StatusCompleted
		job.Error = ""
		r.logger.Infow("Job run completed",
			"job_id", job.ID,
			"name", job.Name,
			"run_count", job.RunCount)
	}

	r.reschedule(job, finishedAt)

	if err := r.store.FinishRun(job); err != nil {
		r.logger.Errorw("Failed to persist run outcome", "job_id", job.ID, "error", err)
	}
}

// reschedule computes the job's next run time, or retires it when the
// schedule is exhausted. One-shot jobs and jobs at their run ceiling
// deactivate, which clears next_run_time in the same update.
func (r *Runner) reschedule(job *Job, now time.Time) {
	if job.ScheduleType == ScheduleOnce || job.ExhaustedRuns() || !job.Scheduled() {
		job.Deactivate()
		return
	}

	anchor := now
	if job.ScheduleTime != nil {
		anchor = *job.ScheduleTime
	}
	next, err := ComputeNextRunTime(job.ScheduleType, anchor, now, job.Options())
	if err != nil {
		// A schedule that no longer computes cannot keep running.
		r.logger.Errorw("Failed to compute next run time, deactivating job",
			"job_id", job.ID, "error", err)
		job.Deactivate()
		return
	}
	job.NextRunTime = &next
}

func (r *Runner) pollInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.PollInterval
}

func (r *Runner) batchSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.BatchSize
}
