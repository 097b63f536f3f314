package server

import (
	"net/http"
	"time"

	"github.com/recurd/recurd/internal/version"
)

// handleSweeperRun handles POST /api/sweeper/run: trigger a sweep for
// stuck jobs immediately. Returns the sweep report, or a skipped
// marker when a sweep is already running or ran too recently.
func (s *Server) handleSweeperRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	report, err := s.sweeper.RunSweep(r.Context())
	if err != nil {
		s.logger.Errorw("Manual sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Sweep failed: "+err.Error())
		return
	}
	if report == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"skipped": true})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleSweeperStatus handles GET /api/sweeper/status.
func (s *Server) handleSweeperStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var lastSweepAt *time.Time
	if t := s.sweeper.LastSweepAt(); !t.IsZero() {
		lastSweepAt = &t
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_sweep_at":           lastSweepAt,
		"stuck_threshold_minutes": s.cfg.Sweeper.StuckThresholdMinutes,
		"sweep_interval_seconds":  s.cfg.Sweeper.SweepIntervalSeconds,
		"min_interval_seconds":    s.cfg.Sweeper.MinIntervalSeconds,
		"max_retries":             s.cfg.Sweeper.MaxRetries,
	})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Get().Version,
	})
}
