package schedule

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	recurdtest "github.com/recurd/recurd/internal/testing"
)

func testSweeperConfig() SweeperConfig {
	return SweeperConfig{
		StuckThreshold: 15 * time.Minute,
		SweepInterval:  5 * time.Minute,
		MinInterval:    2 * time.Minute,
		MaxRetries:     3,
	}
}

// fixedClock returns a clock pinned to t that tests can advance.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time          { return c.now }
func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func makeStuck(t *testing.T, store *Store, now time.Time, stuckFor time.Duration, retryCount int) *Job {
	t.Helper()
	job := newTestJob(t, store, func(j *Job) {
		j.Status = StatusRunning
		j.RetryCount = retryCount
	})
	_, err := store.db.Exec(`UPDATE jobs SET updated_at = ? WHERE id = ?`,
		now.Add(-stuckFor).Format(time.RFC3339), job.ID)
	require.NoError(t, err)
	return job
}

func TestSweeperRescuesAndFails(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	clock := &fixedClock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
	sweeper := NewSweeperWithClock(store, testSweeperConfig(), zap.NewNop().Sugar(), clock.Now)

	rescuable := makeStuck(t, store, clock.now, 30*time.Minute, 0)
	exhausted := makeStuck(t, store, clock.now, 45*time.Minute, 3)
	makeStuck(t, store, clock.now, 5*time.Minute, 0) // under threshold

	report, err := sweeper.RunSweep(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Rescued)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, report.Errors)
	require.Len(t, report.StuckJobs, 2)
	// Oldest first.
	assert.Equal(t, exhausted.ID, report.StuckJobs[0].ID)
	assert.Equal(t, 45, report.StuckJobs[0].MinutesStuck)
	assert.Equal(t, "alice", report.StuckJobs[0].Owner)
	assert.Equal(t, rescuable.ID, report.StuckJobs[1].ID)

	got, err := store.GetJob(rescuable.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.True(t, got.IsActive)

	got, err = store.GetJob(exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "exhausted")
	assert.False(t, got.IsActive)
	assert.Nil(t, got.NextRunTime)
}

func TestSweeperRetryBoundary(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	clock := &fixedClock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
	cfg := testSweeperConfig()
	sweeper := NewSweeperWithClock(store, cfg, zap.NewNop().Sugar(), clock.Now)

	// retry_count == MaxRetries - 1 still gets one more chance.
	lastChance := makeStuck(t, store, clock.now, 30*time.Minute, cfg.MaxRetries-1)
	// retry_count == MaxRetries does not.
	exhausted := makeStuck(t, store, clock.now, 30*time.Minute, cfg.MaxRetries)

	report, err := sweeper.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rescued)
	assert.Equal(t, 1, report.Failed)

	got, err := store.GetJob(lastChance.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	got, err = store.GetJob(exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestSweeperEmptySweep(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	clock := &fixedClock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
	sweeper := NewSweeperWithClock(store, testSweeperConfig(), zap.NewNop().Sugar(), clock.Now)

	report, err := sweeper.RunSweep(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Zero(t, report.Processed)
	assert.Empty(t, report.StuckJobs)
}

func TestSweeperMinIntervalGuard(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	clock := &fixedClock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
	sweeper := NewSweeperWithClock(store, testSweeperConfig(), zap.NewNop().Sugar(), clock.Now)

	first, err := sweeper.RunSweep(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)

	// Inside the window: skipped with no report, no error, no state
	// change beyond the first sweep's watermark.
	clock.Advance(time.Minute)
	second, err := sweeper.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC), sweeper.LastSweepAt())

	// Past the window it runs again.
	clock.Advance(2 * time.Minute)
	third, err := sweeper.RunSweep(context.Background())
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, clock.now, sweeper.LastSweepAt())
}

func TestSweeperOverlapGuard(t *testing.T) {
	db := recurdtest.CreateTestDB(t)
	store := NewStore(db)
	clock := &fixedClock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
	sweeper := NewSweeperWithClock(store, testSweeperConfig(), zap.NewNop().Sugar(), clock.Now)

	sweeper.mu.Lock()
	sweeper.sweeping = true
	sweeper.mu.Unlock()

	report, err := sweeper.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report, "overlapping sweep must be a no-op")
	assert.True(t, sweeper.LastSweepAt().IsZero())
}

// Sweeper columns in scan order, for sqlmock result sets.
var sqlmockJobColumns = []string{
	"id", "name", "owner", "handler_name", "payload",
	"schedule_type", "schedule_time", "interval_days", "weekly_days", "timezone",
	"next_run_time", "max_runs", "run_count", "retry_count", "last_run_at",
	"is_active", "status", "error", "created_at", "updated_at",
}

func sqlmockJobRow(id string, retryCount int, updatedAt time.Time) []driver.Value {
	ts := updatedAt.Format(time.RFC3339)
	return []driver.Value{
		id, id + "-name", "alice", "report.generate", nil,
		"daily", "2024-01-01T07:00:00Z", nil, nil, "UTC",
		"2024-03-05T07:00:00Z", nil, 0, retryCount, nil,
		true, "running", nil, ts, ts,
	}
}

// TestSweeperToleratesPerJobFailures injects a store failure for one
// job mid-sweep and checks the sweep carries on to the others.
func TestSweeperToleratesPerJobFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	stuckAt := now.Add(-30 * time.Minute)

	rows := sqlmock.NewRows(sqlmockJobColumns).
		AddRow(sqlmockJobRow("job-1", 0, stuckAt)...).
		AddRow(sqlmockJobRow("job-2", 0, stuckAt)...).
		AddRow(sqlmockJobRow("job-3", 0, stuckAt)...).
		AddRow(sqlmockJobRow("job-4", 0, stuckAt)...).
		AddRow(sqlmockJobRow("job-5", 5, stuckAt)...)
	mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(rows)

	// job-3's update blows up mid-sweep; the rest carry on, with
	// job-5 past its retry ceiling failing out.
	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs").WillReturnError(assert.AnError)
	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	clock := &fixedClock{now: now}
	sweeper := NewSweeperWithClock(store, testSweeperConfig(), zap.NewNop().Sugar(), clock.Now)

	report, err := sweeper.RunSweep(context.Background())
	require.NoError(t, err, "per-job failures must not abort the sweep")
	require.NotNil(t, report)

	assert.Equal(t, 5, report.Processed)
	assert.Equal(t, 3, report.Rescued)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "job-3")
	assert.Len(t, report.StuckJobs, 5)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSweeperScanFailureAdvancesWatermark checks a totally failed sweep
// still counts toward the rate guard, so a broken store does not get
// hammered on every trigger.
func TestSweeperScanFailureAdvancesWatermark(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnError(assert.AnError)

	store := NewStore(db)
	clock := &fixedClock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
	sweeper := NewSweeperWithClock(store, testSweeperConfig(), zap.NewNop().Sugar(), clock.Now)

	report, err := sweeper.RunSweep(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, clock.now, sweeper.LastSweepAt())

	// Immediately retrying is rate-limited, not re-queried.
	clock.Advance(30 * time.Second)
	report, err = sweeper.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report)

	require.NoError(t, mock.ExpectationsWereMet())
}
