// Package server exposes the import worker over HTTP: the job queue posts
// process requests, operators poll job records.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Processor is the part of the orchestrator the worker drives.
type Processor interface {
	Process(ctx context.Context, id string, mode service.Mode) error
	Job(ctx context.Context, id string) (*models.ImportJob, error)
}

// Server wraps the HTTP server with its dependencies and lifecycle.
type Server struct {
	proc   Processor
	logger *slog.Logger
	http   *http.Server
}

// New creates a worker server listening on addr.
func New(addr string, proc Processor, logger *slog.Logger) *Server {
	s := &Server{proc: proc, logger: logger}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routes with logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("GET /jobs/{id}", s.handleJob)
	return LoggingMiddleware(s.logger)(mux)
}

// Run serves until ctx is canceled, then shuts down gracefully. Requests in
// flight see their context canceled, so a running job stops at its next
// chunk boundary and stays resumable.
func (s *Server) Run(ctx context.Context) error {
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	s.http.BaseContext = func(net.Listener) context.Context { return baseCtx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("worker listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down worker...")
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("worker stopped")
	return nil
}

type processRequest struct {
	JobID string `json:"job_id"`
	Mode  string `json:"mode"`
}

type processResponse struct {
	JobID  string        `json:"job_id"`
	Status models.Status `json:"status,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, processResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	mode, err := service.ParseMode(req.Mode)
	if err != nil || req.JobID == "" {
		msg := "job_id is required"
		if err != nil {
			msg = err.Error()
		}
		writeJSON(w, http.StatusBadRequest, processResponse{JobID: req.JobID, Error: msg})
		return
	}

	err = s.proc.Process(r.Context(), req.JobID, mode)
	resp := processResponse{JobID: req.JobID}
	if job, jobErr := s.proc.Job(context.WithoutCancel(r.Context()), req.JobID); jobErr == nil {
		resp.Status = job.Status
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, statusFor(err), resp)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.proc.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, statusFor(err), processResponse{JobID: r.PathValue("id"), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// statusFor maps orchestrator errors onto HTTP statuses. A failed job is a
// 500 so the queue sees the failure; it does not retry on its own.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
