// Package schedule provides recurring job scheduling: next-run computation,
// job persistence, due-job execution, and stuck-job recovery.
package schedule

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recurd/recurd/errors"
)

// ScheduleType identifies the recurrence pattern of a job.
type ScheduleType string

const (
	ScheduleOnce   ScheduleType = "once"   // Single run at the anchor time
	ScheduleDaily  ScheduleType = "daily"  // Every day at the anchor's wall-clock time
	ScheduleWeekly ScheduleType = "weekly" // Selected weekdays at the anchor's wall-clock time
	ScheduleCustom ScheduleType = "custom" // Every N days at the anchor's wall-clock time
)

// Valid reports whether the schedule type is one of the recognized patterns.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleOnce, ScheduleDaily, ScheduleWeekly, ScheduleCustom:
		return true
	}
	return false
}

// Status constants for job lifecycle
const (
	StatusPending   = "pending"   // Waiting for its next run time
	StatusRunning   = "running"   // Currently executing
	StatusCompleted = "completed" // Last run finished successfully
	StatusFailed    = "failed"    // Last run failed, or retries exhausted
	StatusCancelled = "cancelled" // Cancelled by user
)

// ValidStatus reports whether s is a recognized job status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job represents a scheduled job and its current lifecycle state.
type Job struct {
	ID           string
	Name         string
	Owner        string
	HandlerName  string          // Handler to invoke (e.g. "report.generate")
	Payload      json.RawMessage // Handler-specific JSON payload
	ScheduleType ScheduleType    // Empty for unscheduled (manual-only) jobs
	ScheduleTime *time.Time      // Anchor: date for once, wall-clock time-of-day for recurring
	IntervalDays int             // custom: run every N days
	WeeklyDays   []string        // weekly: lowercase day names ("monday".."sunday")
	Timezone     string          // IANA zone the wall-clock math happens in
	NextRunTime  *time.Time      // NULL when inactive or unscheduled
	MaxRuns      *int            // NULL = unlimited
	RunCount     int
	RetryCount   int // Incremented each time the sweeper rescues this job
	LastRunAt    *time.Time
	IsActive     bool
	Status       string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewJob creates a pending, active job with a fresh ID.
func NewJob(name, owner, handlerName string, payload json.RawMessage) *Job {
	now := time.Now().UTC()
	if owner == "" {
		owner = "system"
	}
	return &Job{
		ID:          uuid.New().String(),
		Name:        name,
		Owner:       owner,
		HandlerName: handlerName,
		Payload:     payload,
		Timezone:    "UTC",
		IsActive:    true,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Scheduled reports whether the job has a recurrence pattern at all.
func (j *Job) Scheduled() bool {
	return j.ScheduleType != ""
}

// Options returns the calculator options for this job's schedule.
func (j *Job) Options() Options {
	return Options{
		IntervalDays: j.IntervalDays,
		WeeklyDays:   j.WeeklyDays,
		Timezone:     j.Timezone,
	}
}

// Deactivate marks the job inactive and clears its next run time.
// The two fields always change together so no row is ever left
// inactive with a scheduled run still pending.
func (j *Job) Deactivate() {
	j.IsActive = false
	j.NextRunTime = nil
}

// ExhaustedRuns reports whether the job has reached its run ceiling.
func (j *Job) ExhaustedRuns() bool {
	return j.MaxRuns != nil && j.RunCount >= *j.MaxRuns
}

// weekdayTokens maps the accepted lowercase day names to time.Weekday.
var weekdayTokens = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekdays converts day-name tokens to a weekday set.
// Tokens are case-insensitive; duplicates collapse. An empty or
// unrecognized list is an invalid schedule.
func ParseWeekdays(days []string) (map[time.Weekday]bool, error) {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		wd, ok := weekdayTokens[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return nil, errors.NewInvalidScheduleError("unrecognized day name: %q", d)
		}
		set[wd] = true
	}
	if len(set) == 0 {
		return nil, errors.NewInvalidScheduleError("weekly schedule requires at least one day")
	}
	return set, nil
}
