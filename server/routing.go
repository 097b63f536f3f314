package server

import "net/http"

// setupRoutes registers all HTTP handlers on the given mux.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/jobs", s.corsMiddleware(s.handleJobs))
	mux.HandleFunc("/api/jobs/{id}", s.corsMiddleware(s.handleJob))
	mux.HandleFunc("/api/jobs/{id}/executions", s.corsMiddleware(s.handleJobExecutions))
	mux.HandleFunc("/api/sweeper/run", s.corsMiddleware(s.handleSweeperRun))
	mux.HandleFunc("/api/sweeper/status", s.corsMiddleware(s.handleSweeperStatus))
	mux.HandleFunc("/health", s.handleHealth)
}

// corsMiddleware sets CORS headers for origins allowed by config and
// short-circuits preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
