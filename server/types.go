package server

import (
	"encoding/json"
	"time"

	"github.com/recurd/recurd/schedule"
)

// createJobRequest is the POST /api/jobs body.
type createJobRequest struct {
	Name         string          `json:"name"`
	Owner        string          `json:"owner"`
	HandlerName  string          `json:"handler_name"`
	Payload      json.RawMessage `json:"payload"`
	ScheduleType string          `json:"schedule_type"`
	ScheduleTime *time.Time      `json:"schedule_time"`
	IntervalDays int             `json:"interval_days"`
	WeeklyDays   []string        `json:"weekly_days"`
	Timezone     string          `json:"timezone"`
	MaxRuns      *int            `json:"max_runs"`
}

// updateJobRequest is the PATCH /api/jobs/{id} body. Pointer fields
// distinguish "not sent" from zero values.
type updateJobRequest struct {
	Name         *string          `json:"name"`
	Payload      *json.RawMessage `json:"payload"`
	ScheduleType *string          `json:"schedule_type"`
	ScheduleTime *time.Time       `json:"schedule_time"`
	IntervalDays *int             `json:"interval_days"`
	WeeklyDays   *[]string        `json:"weekly_days"`
	Timezone     *string          `json:"timezone"`
	MaxRuns      *int             `json:"max_runs"`
	IsActive     *bool            `json:"is_active"`
	Status       *string          `json:"status"`
}

// jobResponse is the wire form of a job.
type jobResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Owner        string          `json:"owner"`
	HandlerName  string          `json:"handler_name"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ScheduleType string          `json:"schedule_type,omitempty"`
	ScheduleTime *time.Time      `json:"schedule_time,omitempty"`
	IntervalDays int             `json:"interval_days,omitempty"`
	WeeklyDays   []string        `json:"weekly_days,omitempty"`
	Timezone     string          `json:"timezone"`
	NextRunTime  *time.Time      `json:"next_run_time"`
	MaxRuns      *int            `json:"max_runs,omitempty"`
	RunCount     int             `json:"run_count"`
	RetryCount   int             `json:"retry_count"`
	LastRunAt    *time.Time      `json:"last_run_at,omitempty"`
	IsActive     bool            `json:"is_active"`
	Status       string          `json:"status"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toJobResponse(j *schedule.Job) jobResponse {
	return jobResponse{
		ID:           j.ID,
		Name:         j.Name,
		Owner:        j.Owner,
		HandlerName:  j.HandlerName,
		Payload:      j.Payload,
		ScheduleType: string(j.ScheduleType),
		ScheduleTime: j.ScheduleTime,
		IntervalDays: j.IntervalDays,
		WeeklyDays:   j.WeeklyDays,
		Timezone:     j.Timezone,
		NextRunTime:  j.NextRunTime,
		MaxRuns:      j.MaxRuns,
		RunCount:     j.RunCount,
		RetryCount:   j.RetryCount,
		LastRunAt:    j.LastRunAt,
		IsActive:     j.IsActive,
		Status:       j.Status,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func toJobResponses(jobs []*schedule.Job) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	return out
}

// executionResponse is the wire form of an execution record.
type executionResponse struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
	ResultSummary *string    `json:"result_summary,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

func toExecutionResponses(execs []*schedule.Execution) []executionResponse {
	out := make([]executionResponse, 0, len(execs))
	for _, e := range execs {
		out = append(out, executionResponse{
			ID:            e.ID,
			JobID:         e.JobID,
			Status:        e.Status,
			StartedAt:     e.StartedAt,
			CompletedAt:   e.CompletedAt,
			DurationMs:    e.DurationMs,
			ResultSummary: e.ResultSummary,
			ErrorMessage:  e.ErrorMessage,
		})
	}
	return out
}
