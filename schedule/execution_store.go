package schedule

import (
	"database/sql"
	"time"

	"github.com/recurd/recurd/errors"
)

// ExecutionStore handles persistence of job execution history.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store.
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution inserts a new execution record.
func (s *ExecutionStore) CreateExecution(exec *Execution) error {
	query := `
		INSERT INTO executions (
			id, job_id, status,
			started_at, completed_at, duration_ms,
			result_summary, error_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		exec.ID,
		exec.JobID,
		exec.Status,
		exec.StartedAt.Format(time.RFC3339),
		formatNullableTime(exec.CompletedAt),
		nullableInt64Ptr(exec.DurationMs),
		nullableStringPtr(exec.ResultSummary),
		nullableStringPtr(exec.ErrorMessage),
		exec.CreatedAt.Format(time.RFC3339),
		exec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}
	return nil
}

// UpdateExecution writes the mutable fields of an execution record.
func (s *ExecutionStore) UpdateExecution(exec *Execution) error {
	query := `
		UPDATE executions
		SET status = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    result_summary = ?,
		    error_message = ?,
		    updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.Exec(query,
		exec.Status,
		formatNullableTime(exec.CompletedAt),
		nullableInt64Ptr(exec.DurationMs),
		nullableStringPtr(exec.ResultSummary),
		nullableStringPtr(exec.ErrorMessage),
		time.Now().UTC().Format(time.RFC3339),
		exec.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update execution %s", exec.ID)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("execution not found: %s", exec.ID)
	}
	return nil
}

// ListExecutions returns the most recent executions for a job.
func (s *ExecutionStore) ListExecutions(jobID string, limit int) ([]*Execution, error) {
	query := `
		SELECT id, job_id, status,
		       started_at, completed_at, duration_ms,
		       result_summary, error_message,
		       created_at, updated_at
		FROM executions
		WHERE job_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, jobID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list executions for job %s", jobID)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(rows *sql.Rows) (*Execution, error) {
	var exec Execution
	var startedAt, createdAt, updatedAt string
	var completedAt, resultSummary, errorMessage sql.NullString
	var durationMs sql.NullInt64

	err := rows.Scan(
		&exec.ID,
		&exec.JobID,
		&exec.Status,
		&startedAt,
		&completedAt,
		&durationMs,
		&resultSummary,
		&errorMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if exec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for execution %s", exec.ID)
	}
	if exec.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse completed_at for execution %s", exec.ID)
	}
	if durationMs.Valid {
		exec.DurationMs = &durationMs.Int64
	}
	if resultSummary.Valid {
		exec.ResultSummary = &resultSummary.String
	}
	if errorMessage.Valid {
		exec.ErrorMessage = &errorMessage.String
	}
	if exec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for execution %s", exec.ID)
	}
	if exec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for execution %s", exec.ID)
	}
	return &exec, nil
}

func nullableInt64Ptr(n *int64) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func nullableStringPtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
