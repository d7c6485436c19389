package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go-taskapi/auth"
	"go-taskapi/model"
	"go-taskapi/store"

	"golang.org/x/time/rate"
)

// TaskRepository is the persistence the handlers need. Lookups that match no
// row return store.ErrNotFound.
type TaskRepository interface {
	ListTasks(ctx context.Context) ([]model.Task, error)
	GetTask(ctx context.Context, id int64) (model.Task, error)
	CreateTask(ctx context.Context, name string) (model.Task, error)
	UpdateTask(ctx context.Context, id int64, name, status string) (model.Task, error)
	DeleteTask(ctx context.Context, id int64) (model.Task, error)
	ListEvents(ctx context.Context, taskID int64) ([]model.TaskEvent, error)
}

// Publisher receives an event for every committed change.
type Publisher interface {
	Publish(ctx context.Context, ev model.TaskEvent) error
}

type Options struct {
	Tasks       TaskRepository
	Credentials auth.CredentialStore
	Tokens      Tokens
	// Events may be nil, in which case no events are published.
	Events     Publisher
	Logger     *slog.Logger
	LoginRate  rate.Limit
	LoginBurst int
}

type Server struct {
	tasks       TaskRepository
	credentials auth.CredentialStore
	tokens      Tokens
	events      Publisher
	log         *slog.Logger
	limiter     *loginLimiter
	now         func() time.Time
	adminOnly   auth.Roles
	readOrAdmin auth.Roles
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		tasks:       opts.Tasks,
		credentials: opts.Credentials,
		tokens:      opts.Tokens,
		events:      opts.Events,
		log:         log,
		limiter:     newLoginLimiter(opts.LoginRate, opts.LoginBurst),
		now:         time.Now,
		adminOnly:   auth.NewRoles(model.RoleAdmin),
		readOrAdmin: auth.NewRoles(model.RoleAdmin, model.RoleReadonly),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", s.login)
	mux.HandleFunc("GET /tasks", s.require(s.readOrAdmin, s.listTasks))
	mux.HandleFunc("GET /tasks/{id}", s.require(s.readOrAdmin, s.getTask))
	mux.HandleFunc("POST /tasks", s.require(s.adminOnly, s.createTask))
	mux.HandleFunc("PUT /tasks/{id}", s.require(s.adminOnly, s.updateTask))
	mux.HandleFunc("DELETE /tasks/{id}", s.require(s.adminOnly, s.deleteTask))
	mux.HandleFunc("GET /tasks/{id}/events", s.require(s.adminOnly, s.listEvents))
	return logRequests(s.log, mux)
}

func NewHTTPServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type createRequest struct {
	Name *string `json:"name"`
}

type updateRequest struct {
	Name   *string `json:"name"`
	Status *string `json:"status"`
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid task ID")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return false
	}
	return true
}

// respond maps a repository outcome onto a status code.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (s *Server) publish(ctx context.Context, action string, task model.Task, id model.Identity) {
	if s.events == nil {
		return
	}
	ev := model.TaskEvent{TaskID: task.ID, Action: action, Actor: id.Username, OccurredAt: s.now().UTC()}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WarnContext(ctx, "publish task event", "task_id", task.ID, "action", action, "error", err)
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, _ model.Identity) {
	tasks, err := s.tasks.ListTasks(r.Context())
	s.respond(w, r, tasks, err)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, _ model.Identity) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.tasks.GetTask(r.Context(), id)
	s.respond(w, r, task, err)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request, caller model.Identity) {
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == nil {
		writeError(w, http.StatusUnprocessableEntity, "Field required: name")
		return
	}
	task, err := s.tasks.CreateTask(r.Context(), *req.Name)
	if err == nil {
		s.publish(r.Context(), model.ActionCreated, task, caller)
	}
	s.respond(w, r, task, err)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, caller model.Identity) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == nil || req.Status == nil {
		writeError(w, http.StatusUnprocessableEntity, "Field required: name, status")
		return
	}
	task, err := s.tasks.UpdateTask(r.Context(), id, *req.Name, *req.Status)
	if err == nil {
		s.publish(r.Context(), model.ActionUpdated, task, caller)
	}
	s.respond(w, r, task, err)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, caller model.Identity) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.tasks.DeleteTask(r.Context(), id)
	if err == nil {
		s.publish(r.Context(), model.ActionDeleted, task, caller)
	}
	s.respond(w, r, task, err)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, _ model.Identity) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	events, err := s.tasks.ListEvents(r.Context(), id)
	s.respond(w, r, events, err)
}
