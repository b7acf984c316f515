// Package httpapi exposes the daemon's local HTTP facade: project and
// task endpoints plus an SSE stream of live events.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/denyherianto/delegate/internal/bus"
	"github.com/denyherianto/delegate/internal/mailbox"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/internal/workflow"
	"github.com/denyherianto/delegate/pkg/models"
)

// TeamBootstrapper lays down a new team's directory skeleton.
type TeamBootstrapper interface {
	EnsureTeam(team string) error
}

// Handler serves the local HTTP API.
type Handler struct {
	db     *store.DB
	engine *workflow.Engine
	mail   *mailbox.Mailbox
	bus    *bus.Bus
	teams  TeamBootstrapper
}

// NewHandler creates the handler and registers its routes. teams may be
// nil when no filesystem layout backs the store.
func NewHandler(db *store.DB, engine *workflow.Engine, mail *mailbox.Mailbox, b *bus.Bus, teams TeamBootstrapper) http.Handler {
	h := &Handler{db: db, engine: engine, mail: mail, bus: b, teams: teams}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /projects", h.CreateProject)
	mux.HandleFunc("GET /projects", h.ListProjects)
	mux.HandleFunc("GET /projects/{team}/tasks", h.ListTasks)
	mux.HandleFunc("POST /projects/{team}/tasks", h.CreateTask)
	mux.HandleFunc("GET /projects/{team}/tasks/{id}", h.GetTask)
	mux.HandleFunc("POST /projects/{team}/tasks/{id}/reject", h.RejectTask)
	mux.HandleFunc("POST /projects/{team}/messages", h.SendMessage)
	mux.HandleFunc("GET /events", h.StreamEvents)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}

// === Request/Response types ===

// CreateProjectRequest is the body for creating a project.
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// RejectTaskRequest carries the rejection reason.
type RejectTaskRequest struct {
	Reason string `json:"reason"`
}

// SendMessageRequest is the body for sending a message.
type SendMessageRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// === Handlers ===

// CreateProject registers a team. POST /projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	team, err := h.db.CreateTeam(req.Name)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTeamExists):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			// Name validation errors mention the lowercase constraint.
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	if h.teams != nil {
		if err := h.teams.EnsureTeam(team.Name); err != nil {
			h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("creating team directories: %v", err))
			return
		}
	}
	if h.bus != nil {
		h.bus.Broadcast(bus.EventTeamsRefresh, bus.Event{Team: team.Name})
	}
	h.writeJSON(w, http.StatusCreated, team)
}

// ListProjects lists every team. GET /projects
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	teams, err := h.db.ListTeams()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, teams)
}

// ListTasks lists a team's tasks, optionally filtered by ?status=.
// GET /projects/{team}/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	filter := store.TaskFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		s := models.TaskStatus(status)
		if !s.Valid() {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
			return
		}
		filter.Status = s
	}
	tasks, err := h.db.ListTasks(team, filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, tasks)
}

// CreateTask creates an unassigned task. POST /projects/{team}/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if _, err := h.db.GetTeam(team); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	task, err := h.db.CreateTask(team, req.Title, req.Description)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, task)
}

// GetTask returns one task. GET /projects/{team}/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "task id must be numeric")
		return
	}
	task, err := h.db.GetTask(team, id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

// RejectTask rejects a task in review or approval.
// POST /projects/{team}/tasks/{id}/reject
func (h *Handler) RejectTask(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "task id must be numeric")
		return
	}
	var req RejectTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		h.writeError(w, http.StatusBadRequest, "reason is required")
		return
	}
	task, err := h.engine.Reject(team, id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, workflow.ErrInvalidTransition):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

// SendMessage delivers a message within a team.
// POST /projects/{team}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Sender == "" || req.Recipient == "" {
		h.writeError(w, http.StatusBadRequest, "sender and recipient are required")
		return
	}
	if _, err := h.db.GetTeam(team); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	id, err := h.mail.Send(team, req.Sender, req.Recipient, req.Body)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// StreamEvents streams bus events via SSE. GET /events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events := h.bus.Subscribe(r.Context())

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("[httpapi] marshal event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// Health reports daemon liveness. GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// === Helpers ===

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpapi] encode response: %v", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}
