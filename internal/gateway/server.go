// Package gateway exposes the task lifecycle operations over HTTP for
// transports, front ends, and operators.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/nudge/internal/events"
	"github.com/dohr-michael/nudge/internal/reminder"
	"github.com/dohr-michael/nudge/internal/task"
)

// Server is the engine's HTTP gateway.
type Server struct {
	httpServer *http.Server
	service    *reminder.Service
	registry   *task.Registry
	bus        *events.Bus
}

// NewServer creates a gateway server.
func NewServer(service *reminder.Service, registry *task.Registry, bus *events.Bus, host string, port int) *Server {
	s := &Server{
		service:  service,
		registry: registry,
		bus:      bus,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)

	r.Get("/api/tasks", s.handleListTasks)
	r.Post("/api/tasks", s.handleCreateTask)
	r.Post("/api/tasks/{id}/done", s.handleDone)
	r.Post("/api/tasks/{id}/unblock", s.handleUnblock)
	r.Post("/api/reminders", s.handleCreateReminder)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.bus.History(limit))
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

type createTaskRequest struct {
	Selector string       `json:"selector"`
	Payload  task.Payload `json:"payload"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	id, err := s.service.CreateAssignedTask(r.Context(), req.Selector, req.Payload)
	switch {
	case errors.Is(err, reminder.ErrUnknownSelector):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"task_id": id})
	}
}

type createReminderRequest struct {
	Recipient   string `json:"recipient"`
	Description string `json:"description"`
	When        string `json:"when"`
}

func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	var req createReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	id, err := s.service.CreateSelfReminder(r.Context(), req.Recipient, req.Description, req.When)
	switch {
	case errors.Is(err, reminder.ErrEmptyDescription),
		errors.Is(err, reminder.ErrBadWhen),
		errors.Is(err, reminder.ErrPastWhen):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"task_id": id})
	}
}

type doneRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req doneRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	err := s.service.MarkDone(r.Context(), id, req.Actor)
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, reminder.ErrAlreadyInactive):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "result": "done"})
	}
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.service.Unblock(r.Context(), id)
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, reminder.ErrAlreadyInactive):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "result": "unblocked"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
