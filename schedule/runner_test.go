package schedule

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recurd/recurd/errors"
	recurdtest "github.com/recurd/recurd/internal/testing"
	"github.com/recurd/recurd/internal/util"
)

type recordingHandler struct {
	name  string
	calls []string
	err   error
}

func (h *recordingHandler) Execute(_ context.Context, job *Job) error {
	h.calls = append(h.calls, job.ID)
	return h.err
}

func (h *recordingHandler) Name() string { return h.name }

func newTestRunner(t *testing.T, clock *fixedClock, handlers ...JobHandler) (*Runner, *Store, *ExecutionStore) {
	t.Helper()
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	execStore := NewExecutionStore(db)
	registry := NewHandlerRegistry()
	for _, h := range handlers {
		registry.Register(h)
	}
	runner := NewRunner(store, execStore, registry, DefaultRunnerConfig(), zap.NewNop().Sugar())
	runner.timeNow = clock.Now
	return runner, store, execStore
}

func TestRunnerExecutesDueJob(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 3, 5, 7, 0, 1, 0, time.UTC)}
	handler := &recordingHandler{name: "report.generate"}
	runner, store, execStore := newTestRunner(t, clock, handler)

	job := newTestJob(t, store, nil) // daily at 07:00, due at 2024-03-05T07:00

	runner.Tick(context.Background())

	require.Len(t, handler.calls, 1)
	assert.Equal(t, job.ID, handler.calls[0])

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.RunCount)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, clock.now, *got.LastRunAt)
	// Daily schedule rolls to the next day's 07:00 slot.
	require.NotNil(t, got.NextRunTime)
	assert.Equal(t, time.Date(2024, 3, 6, 7, 0, 0, 0, time.UTC), *got.NextRunTime)
	assert.True(t, got.IsActive)

	execs, err := execStore.ListExecutions(job.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionCompleted, execs[0].Status)
	require.NotNil(t, execs[0].CompletedAt)
}

func TestRunnerSkipsFutureJobs(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)}
	handler := &recordingHandler{name: "report.generate"}
	runner, store, _ := newTestRunner(t, clock, handler)

	newTestJob(t, store, nil) // due 07:00, now is 06:00

	runner.Tick(context.Background())
	assert.Empty(t, handler.calls)
}

func TestRunnerHandlerFailure(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 3, 5, 7, 0, 1, 0, time.UTC)}
	handler := &recordingHandler{name: "report.generate", err: errors.New("upstream unavailable")}
	runner, store, execStore := newTestRunner(t, clock, handler)

	job := newTestJob(t, store, nil)

	runner.Tick(context.Background())

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "upstream unavailable")
	// A failed run does not take a recurring job off the schedule.
	assert.True(t, got.IsActive)
	require.NotNil(t, got.NextRunTime)
	assert.Equal(t, time.Date(2024, 3, 6, 7, 0, 0, 0, time.UTC), *got.NextRunTime)

	execs, err := execStore.ListExecutions(job.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionFailed, execs[0].Status)
	require.NotNil(t, execs[0].ErrorMessage)
	assert.Contains(t, *execs[0].ErrorMessage, "upstream unavailable")
}

func TestRunnerRetiresOnceJob(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 6, 15, 9, 30, 1, 0, time.UTC)}
	handler := &recordingHandler{name: "report.generate"}
	runner, store, _ := newTestRunner(t, clock, handler)

	job := newTestJob(t, store, func(j *Job) {
		j.ScheduleType = ScheduleOnce
		j.ScheduleTime = util.Ptr(time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC))
		j.NextRunTime = util.Ptr(time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC))
	})

	runner.Tick(context.Background())

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.NextRunTime, "one-shot retirement must clear next_run_time")

	// Nothing left to do on the next tick.
	clock.Advance(time.Hour)
	runner.Tick(context.Background())
	assert.Len(t, handler.calls, 1)
}

func TestRunnerRetiresAtMaxRuns(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 3, 5, 7, 0, 1, 0, time.UTC)}
	handler := &recordingHandler{name: "report.generate"}
	runner, store, _ := newTestRunner(t, clock, handler)

	job := newTestJob(t, store, func(j *Job) {
		j.MaxRuns = util.Ptr(2)
		j.RunCount = 1
	})

	runner.Tick(context.Background())

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RunCount)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.NextRunTime)
}

func TestRunnerMissingHandler(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 3, 5, 7, 0, 1, 0, time.UTC)}
	runner, store, _ := newTestRunner(t, clock) // no handlers registered

	job := newTestJob(t, store, nil)

	runner.Tick(context.Background())

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "no handler registered")
}

func TestHandlerRegistry(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(HandlerFunc{HandlerName: "b.second", Fn: func(context.Context, *Job) error { return nil }})
	registry.Register(HandlerFunc{HandlerName: "a.first", Fn: func(context.Context, *Job) error { return nil }})

	assert.True(t, registry.Has("a.first"))
	assert.False(t, registry.Has("c.third"))
	assert.Nil(t, registry.Get("c.third"))
	assert.Equal(t, []string{"a.first", "b.second"}, registry.Names())

	assert.Panics(t, func() {
		registry.Register(HandlerFunc{HandlerName: "a.first", Fn: func(context.Context, *Job) error { return nil }})
	})
}
