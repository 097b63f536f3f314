package schedule

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/recurd/recurd/errors"
)

// Store handles persistence of scheduled jobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, name, owner, handler_name, payload,
	       schedule_type, schedule_time, interval_days, weekly_days, timezone,
	       next_run_time, max_runs, run_count, retry_count, last_run_at,
	       is_active, status, error, created_at, updated_at`

// CreateJob inserts a new job.
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO jobs (
			id, name, owner, handler_name, payload,
			schedule_type, schedule_time, interval_days, weekly_days, timezone,
			next_run_time, max_runs, run_count, retry_count, last_run_at,
			is_active, status, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.Exec(query,
		job.ID,
		job.Name,
		job.Owner,
		job.HandlerName,
		nullableString(string(job.Payload)),
		nullableString(string(job.ScheduleType)),
		formatNullableTime(job.ScheduleTime),
		nullableInt(job.IntervalDays),
		nullableString(strings.Join(job.WeeklyDays, ",")),
		job.Timezone,
		formatNullableTime(job.NextRunTime),
		nullableIntPtr(job.MaxRuns),
		job.RunCount,
		job.RetryCount,
		formatNullableTime(job.LastRunAt),
		job.IsActive,
		job.Status,
		nullableString(job.Error),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("job not found: %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// ListJobs returns jobs ordered by creation time, newest first.
// owner and status filter when non-empty.
func (s *Store) ListJobs(owner, status string, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []interface{}
	if owner != "" {
		query += ` AND owner = ?`
		args = append(args, owner)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListDueJobs returns active jobs whose next run time has arrived,
// oldest due first. Jobs already running are excluded so a slow run
// is not started a second time while still in flight; completed and
// failed recurring jobs stay eligible for their next slot.
func (s *Store) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE is_active = 1
		  AND status NOT IN (?, ?)
		  AND next_run_time IS NOT NULL
		  AND next_run_time <= ?
		ORDER BY next_run_time ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, StatusRunning, StatusCancelled, now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListStuckJobs returns jobs that have sat in running longer than
// threshold, judged by updated_at. Oldest first so the longest-stuck
// jobs are handled even if the caller caps its batch.
func (s *Store) ListStuckJobs(ctx context.Context, now time.Time, threshold time.Duration) ([]*Job, error) {
	cutoff := now.UTC().Add(-threshold)
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = ?
		  AND updated_at < ?
		ORDER BY updated_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, StatusRunning, cutoff.Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stuck jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateSchedule writes the job's schedule fields and derived state.
// Used when a schedule is created or edited; next_run_time must already
// be recomputed (or cleared) by the caller.
func (s *Store) UpdateSchedule(job *Job) error {
	query := `
		UPDATE jobs
		SET name = ?,
		    payload = ?,
		    schedule_type = ?,
		    schedule_time = ?,
		    interval_days = ?,
		    weekly_days = ?,
		    timezone = ?,
		    next_run_time = ?,
		    max_runs = ?,
		    is_active = ?,
		    status = ?,
		    updated_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	result, err := s.db.Exec(query,
		job.Name,
		nullableString(string(job.Payload)),
		nullableString(string(job.ScheduleType)),
		formatNullableTime(job.ScheduleTime),
		nullableInt(job.IntervalDays),
		nullableString(strings.Join(job.WeeklyDays, ",")),
		job.Timezone,
		formatNullableTime(job.NextRunTime),
		nullableIntPtr(job.MaxRuns),
		job.IsActive,
		job.Status,
		now.Format(time.RFC3339),
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	return requireRow(result, job.ID)
}

// MarkRunning claims a job for execution. Returns false without error
// when the job is already running or cancelled, which means another
// actor got to it first.
func (s *Store) MarkRunning(id string, now time.Time) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, StatusRunning, now.UTC().Format(time.RFC3339), id, StatusRunning, StatusCancelled)
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark job %s running", id)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return n > 0, nil
}

// FinishRun records the outcome of an execution: new status, run
// bookkeeping, and the recomputed (or cleared) next run time.
func (s *Store) FinishRun(job *Job) error {
	query := `
		UPDATE jobs
		SET status = ?,
		    run_count = ?,
		    last_run_at = ?,
		    next_run_time = ?,
		    is_active = ?,
		    error = ?,
		    updated_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	result, err := s.db.Exec(query,
		job.Status,
		job.RunCount,
		formatNullableTime(job.LastRunAt),
		formatNullableTime(job.NextRunTime),
		job.IsActive,
		nullableString(job.Error),
		now.Format(time.RFC3339),
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to finish run for job %s", job.ID)
	}
	return requireRow(result, job.ID)
}

// RescueJob resets a stuck job to pending and counts the attempt.
// Guarded on status so a job that finished between the scan and this
// update is left alone.
func (s *Store) RescueJob(ctx context.Context, id string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?,
		    retry_count = retry_count + 1,
		    error = NULL,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusPending, now.UTC().Format(time.RFC3339), id, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "failed to rescue job %s", id)
	}
	return requireRow(result, id)
}

// FailStuckJob marks a retry-exhausted job failed and retires it from
// the schedule. Clearing next_run_time together with is_active keeps
// the pair consistent.
func (s *Store) FailStuckJob(ctx context.Context, id, message string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?,
		    error = ?,
		    is_active = 0,
		    next_run_time = NULL,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusFailed, message, now.UTC().Format(time.RFC3339), id, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "failed to fail job %s", id)
	}
	return requireRow(result, id)
}

// SetActive activates or deactivates a job. Deactivation clears
// next_run_time in the same statement; activation requires the caller
// to recompute and pass the next run time.
func (s *Store) SetActive(id string, active bool, nextRunTime *time.Time) error {
	if !active {
		nextRunTime = nil
	}
	result, err := s.db.Exec(`
		UPDATE jobs
		SET is_active = ?, next_run_time = ?, updated_at = ?
		WHERE id = ?
	`, active, formatNullableTime(nextRunTime), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to set active for job %s", id)
	}
	return requireRow(result, id)
}

// CancelJob marks a job cancelled and takes it off the schedule.
func (s *Store) CancelJob(id string) error {
	result, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, is_active = 0, next_run_time = NULL, updated_at = ?
		WHERE id = ?
	`, StatusCancelled, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel job %s", id)
	}
	return requireRow(result, id)
}

// DeleteJob removes a job and, via foreign key cascade, its executions.
func (s *Store) DeleteJob(id string) error {
	result, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}
	return requireRow(result, id)
}

// CountJobsByStatus returns job counts grouped by status.
func (s *Store) CountJobsByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for scanJob.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var payload, scheduleType, scheduleTime, weeklyDays sql.NullString
	var nextRunTime, lastRunAt, jobErr sql.NullString
	var intervalDays, maxRuns sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Owner,
		&job.HandlerName,
		&payload,
		&scheduleType,
		&scheduleTime,
		&intervalDays,
		&weeklyDays,
		&job.Timezone,
		&nextRunTime,
		&maxRuns,
		&job.RunCount,
		&job.RetryCount,
		&lastRunAt,
		&job.IsActive,
		&job.Status,
		&jobErr,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		job.Payload = []byte(payload.String)
	}
	job.ScheduleType = ScheduleType(scheduleType.String)
	if weeklyDays.Valid && weeklyDays.String != "" {
		job.WeeklyDays = strings.Split(weeklyDays.String, ",")
	}
	if intervalDays.Valid {
		job.IntervalDays = int(intervalDays.Int64)
	}
	if maxRuns.Valid {
		v := int(maxRuns.Int64)
		job.MaxRuns = &v
	}
	job.Error = jobErr.String

	if job.ScheduleTime, err = parseNullableTime(scheduleTime); err != nil {
		return nil, errors.Wrapf(err, "failed to parse schedule_time for job %s", job.ID)
	}
	if job.NextRunTime, err = parseNullableTime(nextRunTime); err != nil {
		return nil, errors.Wrapf(err, "failed to parse next_run_time for job %s", job.ID)
	}
	if job.LastRunAt, err = parseNullableTime(lastRunAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse last_run_at for job %s", job.ID)
	}
	if job.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("job not found: %s", id)
	}
	return nil
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

func nullableIntPtr(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}
