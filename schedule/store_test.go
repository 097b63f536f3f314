package schedule

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recurd/recurd/errors"
	"github.com/recurd/recurd/internal/util"
	recurdtest "github.com/recurd/recurd/internal/testing"
)

func newTestJob(t *testing.T, store *Store, mutate func(*Job)) *Job {
	t.Helper()
	job := NewJob("nightly-report", "alice", "report.generate", []byte(`{"format":"pdf"}`))
	job.ScheduleType = ScheduleDaily
	job.ScheduleTime = util.Ptr(time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC))
	job.NextRunTime = util.Ptr(time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC))
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, store.CreateJob(job))
	return job
}

func TestStoreCreateAndGet(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)

	job := newTestJob(t, store, func(j *Job) {
		j.WeeklyDays = []string{"monday", "friday"}
		j.MaxRuns = util.Ptr(10)
	})

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "nightly-report", got.Name)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, ScheduleDaily, got.ScheduleType)
	assert.Equal(t, []string{"monday", "friday"}, got.WeeklyDays)
	assert.Equal(t, "UTC", got.Timezone)
	require.NotNil(t, got.MaxRuns)
	assert.Equal(t, 10, *got.MaxRuns)
	require.NotNil(t, got.NextRunTime)
	assert.Equal(t, time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC), *got.NextRunTime)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, got.IsActive)
	assert.JSONEq(t, `{"format":"pdf"}`, string(got.Payload))
}

func TestStoreGetMissingJob(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.GetJob("no-such-id")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreListJobsFilters(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)

	newTestJob(t, store, func(j *Job) { j.Owner = "alice" })
	newTestJob(t, store, func(j *Job) { j.Owner = "bob" })
	newTestJob(t, store, func(j *Job) {
		j.Owner = "bob"
		j.Status = StatusCompleted
	})

	all, err := store.ListJobs("", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bobs, err := store.ListJobs("bob", "", 0)
	require.NoError(t, err)
	assert.Len(t, bobs, 2)

	done, err := store.ListJobs("bob", StatusCompleted, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, StatusCompleted, done[0].Status)
}

func TestStoreListDueJobs(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	due := newTestJob(t, store, func(j *Job) {
		j.NextRunTime = util.Ptr(now.Add(-time.Minute))
	})
	newTestJob(t, store, func(j *Job) { // future
		j.NextRunTime = util.Ptr(now.Add(time.Hour))
	})
	newTestJob(t, store, func(j *Job) { // inactive, no schedule
		j.IsActive = false
		j.NextRunTime = nil
	})
	newTestJob(t, store, func(j *Job) { // already running
		j.NextRunTime = util.Ptr(now.Add(-time.Hour))
		j.Status = StatusRunning
	})
	dueAgain := newTestJob(t, store, func(j *Job) {
		// Failed last run but still on the schedule.
		j.NextRunTime = util.Ptr(now.Add(-2 * time.Minute))
		j.Status = StatusFailed
	})

	jobs, err := store.ListDueJobs(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	// Oldest due first.
	assert.Equal(t, dueAgain.ID, jobs[0].ID)
	assert.Equal(t, due.ID, jobs[1].ID)
}

func TestStoreMarkRunning(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Now().UTC()

	job := newTestJob(t, store, nil)

	claimed, err := store.MarkRunning(job.ID, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim loses.
	claimed, err = store.MarkRunning(job.ID, now)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestStoreFinishRun(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)

	job := newTestJob(t, store, nil)
	finishedAt := time.Date(2024, 3, 5, 7, 0, 3, 0, time.UTC)
	job.Status = StatusCompleted
	job.RunCount = 1
	job.LastRunAt = &finishedAt
	job.NextRunTime = util.Ptr(time.Date(2024, 3, 6, 7, 0, 0, 0, time.UTC))

	require.NoError(t, store.FinishRun(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.RunCount)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, finishedAt, *got.LastRunAt)
	require.NotNil(t, got.NextRunTime)
	assert.Equal(t, time.Date(2024, 3, 6, 7, 0, 0, 0, time.UTC), *got.NextRunTime)
}

func TestStoreListStuckJobs(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	threshold := 15 * time.Minute

	stale := newTestJob(t, store, func(j *Job) { j.Status = StatusRunning })
	// Backdate updated_at past the threshold.
	_, err := db.Exec(`UPDATE jobs SET updated_at = ? WHERE id = ?`,
		now.Add(-30*time.Minute).Format(time.RFC3339), stale.ID)
	require.NoError(t, err)

	fresh := newTestJob(t, store, func(j *Job) { j.Status = StatusRunning })
	_, err = db.Exec(`UPDATE jobs SET updated_at = ? WHERE id = ?`,
		now.Add(-5*time.Minute).Format(time.RFC3339), fresh.ID)
	require.NoError(t, err)

	idle := newTestJob(t, store, nil) // pending, however old
	_, err = db.Exec(`UPDATE jobs SET updated_at = ? WHERE id = ?`,
		now.Add(-2*time.Hour).Format(time.RFC3339), idle.ID)
	require.NoError(t, err)

	stuck, err := store.ListStuckJobs(context.Background(), now, threshold)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, stale.ID, stuck[0].ID)
}

func TestStoreRescueJob(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Now().UTC()

	job := newTestJob(t, store, func(j *Job) {
		j.Status = StatusRunning
		j.Error = "previous failure"
	})

	require.NoError(t, store.RescueJob(context.Background(), job.ID, now))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.Error)
	assert.True(t, got.IsActive)

	// A job that finished in the meantime is left alone.
	err = store.RescueJob(context.Background(), job.ID, now)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreFailStuckJob(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Now().UTC()

	job := newTestJob(t, store, func(j *Job) {
		j.Status = StatusRunning
		j.RetryCount = 3
	})

	require.NoError(t, store.FailStuckJob(context.Background(), job.ID, "recovery attempts exhausted", now))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "recovery attempts exhausted", got.Error)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.NextRunTime, "deactivation must clear next_run_time")
}

func TestStoreSetActive(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)

	job := newTestJob(t, store, nil)

	require.NoError(t, store.SetActive(job.ID, false, nil))
	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.NextRunTime)

	next := time.Date(2024, 3, 6, 7, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetActive(job.ID, true, &next))
	got, err = store.GetJob(job.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.NextRunTime)
	assert.Equal(t, next, *got.NextRunTime)
}

func TestStoreDeleteJobCascadesExecutions(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	execStore := NewExecutionStore(db)

	job := newTestJob(t, store, nil)
	exec := NewExecution(job.ID, time.Now().UTC())
	require.NoError(t, execStore.CreateExecution(exec))

	require.NoError(t, store.DeleteJob(job.ID))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM executions WHERE job_id = ?`, job.ID).Scan(&count))
	assert.Zero(t, count)
}

func TestStoreCountJobsByStatus(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)

	newTestJob(t, store, nil)
	newTestJob(t, store, nil)
	newTestJob(t, store, func(j *Job) { j.Status = StatusFailed })

	counts, err := store.CountJobsByStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusFailed])
}
