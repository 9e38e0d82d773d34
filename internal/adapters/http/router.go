package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/usecase"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/queue/nats"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/scheduler"
)

type StatusReader interface {
	GetStatus(ctx context.Context) (*usecase.Status, error)
}

type JobLister interface {
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)
}

type Schedule interface {
	Entries() []scheduler.EntryStatus
	Trigger(name string) error
}

// Deps collects what the admin surface reads from and controls. Any nil
// dependency disables its routes.
type Deps struct {
	Status     StatusReader
	Jobs       JobLister
	Controller ports.PipelineController
	Schedule   Schedule
	Metrics    http.Handler
	Ping       func(ctx context.Context) error
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	return &Router{deps: deps}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	if rt.deps.Metrics != nil {
		mux.Handle("/metrics", rt.deps.Metrics)
	}
	mux.HandleFunc("/v1/status", rt.status)
	mux.HandleFunc("/v1/jobs", rt.listJobs)
	mux.HandleFunc("/v1/control/", rt.control)
	mux.HandleFunc("/v1/schedule", rt.schedule)
	mux.HandleFunc("/v1/schedule/", rt.runScheduled)
	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Ping != nil {
		if err := rt.deps.Ping(r.Context()); err != nil {
			writeError(w, domain.WrapError(domain.ErrTemporary, "healthz", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) status(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if rt.deps.Status == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "status unavailable"})
		return
	}
	status, err := rt.deps.Status.GetStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) listJobs(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if rt.deps.Jobs == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "jobs unavailable"})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	jobs, err := rt.deps.Jobs.ListJobs(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// control accepts POST /v1/control/{pause|resume|cancel}.
func (rt *Router) control(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if rt.deps.Controller == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no pipeline attached"})
		return
	}
	command := strings.TrimPrefix(r.URL.Path, "/v1/control/")
	applied, err := nats.Dispatch(rt.deps.Controller, []byte(command))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"command": applied})
}

func (rt *Router) schedule(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if rt.deps.Schedule == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []scheduler.EntryStatus{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": rt.deps.Schedule.Entries()})
}

// runScheduled accepts POST /v1/schedule/{name}/run and returns before the
// task finishes.
func (rt *Router) runScheduled(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	name, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/v1/schedule/"), "/run")
	if !ok || name == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown route"})
		return
	}
	if rt.deps.Schedule == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no scheduler attached"})
		return
	}
	if err := rt.deps.Schedule.Trigger(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task": name})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
