package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Execution status constants
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// Execution records a single run of a scheduled job.
type Execution struct {
	ID            string
	JobID         string
	Status        string
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMs    *int64
	ResultSummary *string
	ErrorMessage  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewExecution creates an execution in the running state.
func NewExecution(jobID string, startedAt time.Time) *Execution {
	now := time.Now().UTC()
	return &Execution{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Status:    ExecutionRunning,
		StartedAt: startedAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Complete marks the execution finished successfully.
func (e *Execution) Complete(completedAt time.Time, summary string) {
	e.finish(ExecutionCompleted, completedAt)
	if summary != "" {
		e.ResultSummary = &summary
	}
}

// Fail marks the execution finished with an error.
func (e *Execution) Fail(completedAt time.Time, message string) {
	e.finish(ExecutionFailed, completedAt)
	e.ErrorMessage = &message
}

func (e *Execution) finish(status string, completedAt time.Time) {
	completedAt = completedAt.UTC()
	e.Status = status
	e.CompletedAt = &completedAt
	durationMs := completedAt.Sub(e.StartedAt).Milliseconds()
	e.DurationMs = &durationMs
	e.UpdatedAt = time.Now().UTC()
}
