// Package http exposes the read-only status endpoints of the bot.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"vidbot/internal/domain"
	"vidbot/internal/timeutil"
)

// LastRunner looks up the persisted last-run time of a scheduled job.
type LastRunner interface {
	LastRun(ctx context.Context, owner, action string) (time.Time, error)
}

// Server is the HTTP adapter for the status endpoints.
type Server struct {
	runs   LastRunner
	mux    *http.ServeMux
	server *http.Server
	log    zerolog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(runs LastRunner, addr string, logger zerolog.Logger) *Server {
	s := &Server{
		runs: runs,
		mux:  http.NewServeMux(),
		log:  logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /jobs/{owner}/{action}", s.handleGetJob)
}

// jobResponse is the JSON response for job endpoints.
type jobResponse struct {
	Owner     string `json:"owner"`
	Action    string `json:"action"`
	LastRunAt string `json:"last_run_at"`
	NeverRun  bool   `json:"never_run,omitempty"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	action := r.PathValue("action")

	lastRun, err := s.runs.LastRun(r.Context(), owner, action)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error().Err(err).Str("owner", owner).Str("action", action).Msg("job lookup failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, jobResponse{
		Owner:     owner,
		Action:    action,
		LastRunAt: timeutil.LocalToUTCString(timeutil.LayoutUTC, lastRun),
		NeverRun:  !lastRun.After(domain.Epoch),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
