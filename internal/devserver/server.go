// Package devserver is a small reference backend for the tracker API. It
// persists tasks in SQLite and enforces the same capability and transition
// rules as the client engine, so the CLI can be exercised end to end
// without the production service.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/valter-silva-au/tasktrack/internal/core"
	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// Options configures a Server.
type Options struct {
	Logger *slog.Logger
	// StrictTerminal refuses any transition out of COMPLETED or CANCELLED.
	// The client table allows those, so this is how a server-side
	// rejection is produced on purpose.
	StrictTerminal bool
}

// Server serves the tracker's task endpoints under /api.
type Server struct {
	store          *Store
	logger         *slog.Logger
	strictTerminal bool
}

// NewServer creates a Server over store.
func NewServer(store *Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{store: store, logger: logger, strictTerminal: opts.StrictTerminal}
}

// Handler returns the HTTP handler with authentication applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tasks/v1/task/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /api/tasks/v1", s.handleUpdateTask)
	mux.HandleFunc("PUT /api/tasks/v1/state", s.handleUpdateState)
	mux.HandleFunc("GET /api/tasks/project/{id}", s.handleListProjectTasks)
	return s.logRequests(s.authenticate(mux))
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dev server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving on %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("dev server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

type principalKey struct{}

func principalFrom(ctx context.Context) models.Principal {
	p, _ := ctx.Value(principalKey{}).(models.Principal)
	return p
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.store.UserByToken(r.Context(), strings.TrimSpace(token))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if err != nil {
			s.internalError(w, err)
			return
		}
		p := models.Principal{ID: user.ID, Role: user.Role}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListProjectTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListProjectTasks(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	var req models.TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if !req.TargetState.Valid() {
		writeError(w, http.StatusBadRequest, "state is required")
		return
	}
	task, ok := s.loadTask(w, r, req.TaskID)
	if !ok {
		return
	}

	reason := strings.TrimSpace(req.Reason)
	if s.strictTerminal && (task.State == models.StateCompleted || task.State == models.StateCancelled) {
		writeError(w, http.StatusConflict, fmt.Sprintf("task %s is %s and can no longer change state", task.ID, task.State))
		return
	}

	caps := core.ResolveCapabilities(principalFrom(r.Context()), task)
	switch core.EvaluateTransition(caps, task.State, req.TargetState, reason != "") {
	case models.DecisionUnauthorized:
		writeError(w, http.StatusForbidden, core.ErrUnauthorized.Error())
		return
	case models.DecisionInvalidPrecondition:
		writeError(w, http.StatusConflict, core.ErrInvalidPrecondition.Error())
		return
	case models.DecisionNeedsReason:
		writeError(w, http.StatusBadRequest, core.ErrEmptyReason.Error())
		return
	}

	if !core.RequiresReason(req.TargetState) {
		reason = ""
	}
	if err := s.store.UpdateState(r.Context(), task.ID, req.TargetState, reason); err != nil {
		s.internalError(w, err)
		return
	}
	s.logger.Info("state changed", "task_id", task.ID, "from", task.State, "to", req.TargetState, "user", principalFrom(r.Context()).ID)

	updated, ok := s.loadTask(w, r, task.ID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req models.TaskEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	task, ok := s.loadTask(w, r, req.ID)
	if !ok {
		return
	}

	if !core.ResolveCapabilities(principalFrom(r.Context()), task).CanEditTask {
		writeError(w, http.StatusForbidden, core.ErrEditForbidden.Error())
		return
	}
	if msg := s.validateEdit(r.Context(), task, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.store.UpdateFields(r.Context(), req); err != nil {
		s.internalError(w, err)
		return
	}
	updated, ok := s.loadTask(w, r, task.ID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// validateEdit returns a user-facing message for an invalid edit, or "".
func (s *Server) validateEdit(ctx context.Context, task *models.Task, req *models.TaskEditRequest) string {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return "title must not be empty"
	}
	priority, err := models.ParsePriority(string(req.Priority))
	if err != nil {
		return fmt.Sprintf("invalid priority %q", req.Priority)
	}
	req.Priority = priority
	if req.Project.ID != "" && req.Project.ID != task.Project.ID {
		return "a task cannot be moved to another project"
	}
	if req.Assignee != nil && req.Assignee.ID != "" {
		exists, err := s.store.UserExists(ctx, req.Assignee.ID)
		if err != nil {
			s.logger.Error("checking assignee", "error", err)
			return "could not verify assignee"
		}
		if !exists {
			return fmt.Sprintf("unknown assignee %q", req.Assignee.ID)
		}
	}
	return ""
}

func (s *Server) loadTask(w http.ResponseWriter, r *http.Request, id string) (*models.Task, bool) {
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return nil, false
	}
	task, err := s.store.GetTask(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", id))
		return nil, false
	}
	if err != nil {
		s.internalError(w, err)
		return nil, false
	}
	return task, true
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("internal error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
