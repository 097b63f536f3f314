package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/recurd/recurd/errors"
	"github.com/recurd/recurd/schedule"
)

// handleJobs handles /api/jobs
// GET: list jobs, POST: create a job
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleCreateJob(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	status := r.URL.Query().Get("status")
	limit := parseLimit(r, 100)

	if status != "" && !schedule.ValidStatus(status) {
		writeError(w, http.StatusBadRequest, "Invalid status filter: "+status)
		return
	}

	jobs, err := s.store.ListJobs(owner, status, limit)
	if err != nil {
		s.logger.Errorw("Failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  toJobResponses(jobs),
		"count": len(jobs),
	})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.HandlerName == "" {
		writeError(w, http.StatusBadRequest, "handler_name is required")
		return
	}
	if !s.registry.Has(req.HandlerName) {
		writeError(w, http.StatusBadRequest, "Unknown handler: "+req.HandlerName)
		return
	}

	job := schedule.NewJob(req.Name, req.Owner, req.HandlerName, req.Payload)
	job.ScheduleType = schedule.ScheduleType(req.ScheduleType)
	job.ScheduleTime = req.ScheduleTime
	job.IntervalDays = req.IntervalDays
	job.WeeklyDays = req.WeeklyDays
	job.MaxRuns = req.MaxRuns
	if req.Timezone != "" {
		job.Timezone = req.Timezone
	}

	if job.Scheduled() {
		if err := schedule.ValidateSchedule(job.ScheduleType, job.ScheduleTime, job.Options()); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next, err := schedule.ComputeNextRunTime(job.ScheduleType, *job.ScheduleTime, time.Now(), job.Options())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		job.NextRunTime = &next
	}

	if err := s.store.CreateJob(job); err != nil {
		s.logger.Errorw("Failed to create job", "name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	s.logger.Infow("Created job",
		"job_id", shortID(job.ID),
		"name", job.Name,
		"schedule_type", job.ScheduleType,
		"next_run_time", job.NextRunTime)
	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

// handleJob handles /api/jobs/{id}
// GET: fetch, PATCH: update, DELETE: remove
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetJob(w, r, id)
	case http.MethodPatch:
		s.handleUpdateJob(w, r, id)
	case http.MethodDelete:
		s.handleDeleteJob(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, _ *http.Request, id string) {
	job, err := s.store.GetJob(id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "Job not found: "+id)
			return
		}
		s.logger.Errorw("Failed to get job", "job_id", shortID(id), "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request, id string) {
	var req updateJobRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	job, err := s.store.GetJob(id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "Job not found: "+id)
			return
		}
		s.logger.Errorw("Failed to load job for update", "job_id", shortID(id), "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update job")
		return
	}

	// Cancellation is terminal and handled on its own.
	if req.Status != nil {
		if *req.Status != schedule.StatusCancelled {
			writeError(w, http.StatusBadRequest, "status can only be set to cancelled")
			return
		}
		if err := s.store.CancelJob(id); err != nil {
			s.logger.Errorw("Failed to cancel job", "job_id", shortID(id), "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to cancel job")
			return
		}
		s.logger.Infow("Cancelled job", "job_id", shortID(id))
		s.handleGetJob(w, r, id)
		return
	}

	scheduleChanged := applyJobUpdate(job, &req)

	if job.IsActive && job.Scheduled() && (scheduleChanged || req.IsActive != nil) {
		if err := schedule.ValidateSchedule(job.ScheduleType, job.ScheduleTime, job.Options()); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next, err := schedule.ComputeNextRunTime(job.ScheduleType, *job.ScheduleTime, time.Now(), job.Options())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		job.NextRunTime = &next
	}
	if !job.IsActive || !job.Scheduled() {
		// Keep the invariant: no next run for inactive or unscheduled jobs.
		job.NextRunTime = nil
	}

	if err := s.store.UpdateSchedule(job); err != nil {
		s.logger.Errorw("Failed to update job", "job_id", shortID(id), "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update job")
		return
	}

	s.logger.Infow("Updated job",
		"job_id", shortID(id),
		"is_active", job.IsActive,
		"next_run_time", job.NextRunTime)
	s.handleGetJob(w, r, id)
}

// applyJobUpdate copies the provided fields onto the job and reports
// whether any schedule-affecting field changed.
func applyJobUpdate(job *schedule.Job, req *updateJobRequest) bool {
	if req.Name != nil {
		job.Name = *req.Name
	}
	if req.Payload != nil {
		job.Payload = *req.Payload
	}
	changed := false
	if req.ScheduleType != nil {
		job.ScheduleType = schedule.ScheduleType(*req.ScheduleType)
		changed = true
	}
	if req.ScheduleTime != nil {
		job.ScheduleTime = req.ScheduleTime
		changed = true
	}
	if req.IntervalDays != nil {
		job.IntervalDays = *req.IntervalDays
		changed = true
	}
	if req.WeeklyDays != nil {
		job.WeeklyDays = *req.WeeklyDays
		changed = true
	}
	if req.Timezone != nil {
		job.Timezone = *req.Timezone
		changed = true
	}
	if req.MaxRuns != nil {
		job.MaxRuns = req.MaxRuns
	}
	if req.IsActive != nil {
		job.IsActive = *req.IsActive
	}
	return changed
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, _ *http.Request, id string) {
	if err := s.store.DeleteJob(id); err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "Job not found: "+id)
			return
		}
		s.logger.Errorw("Failed to delete job", "job_id", shortID(id), "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}
	s.logger.Infow("Deleted job", "job_id", shortID(id))
	w.WriteHeader(http.StatusNoContent)
}

// handleJobExecutions handles GET /api/jobs/{id}/executions
func (s *Server) handleJobExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id := r.PathValue("id")

	// 404 for executions of a job that does not exist.
	if _, err := s.store.GetJob(id); err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "Job not found: "+id)
			return
		}
		s.logger.Errorw("Failed to load job", "job_id", shortID(id), "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list executions")
		return
	}

	execs, err := s.execStore.ListExecutions(id, parseLimit(r, 20))
	if err != nil {
		s.logger.Errorw("Failed to list executions", "job_id", shortID(id), "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list executions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": toExecutionResponses(execs),
		"count":      len(execs),
	})
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return def
	}
	return limit
}
