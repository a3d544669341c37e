// Package httpapi serves the ops endpoints: liveness, readiness, per-team
// schedule diagnostics and participation reports.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"standupbot/internal/domain"
	"standupbot/internal/participation"
	"standupbot/internal/registry"
	logx "standupbot/pkg/logx"
)

const (
	defaultPreview = 3
	maxPreview     = 20
	defaultHistory = 10
	maxHistory     = 100
)

// Schedules exposes the registry's diagnostics view.
type Schedules interface {
	Describe(teamID string, preview int) (registry.Info, bool)
	Len() int
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Teams     domain.TeamStore
	Instances domain.InstanceStore
	Schedules Schedules
	Store     Pinger
	Log       logx.Logger
	// Pprof mounts the profiler under /debug.
	Pprof bool
}

type Handler struct {
	deps  Deps
	ready atomic.Bool
}

func NewHandler(deps Deps) *Handler {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Handler{deps: deps}
}

// SetReady flips /readyz. The app sets it once the bootstrap sweep is done.
func (h *Handler) SetReady(v bool) { h.ready.Store(v) }

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(15 * time.Second))

	if h.deps.Pprof {
		r.Mount("/debug", chimiddleware.Profiler())
	}

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Route("/teams/{id}", func(r chi.Router) {
		r.Get("/schedule", h.schedule)
		r.Get("/instances", h.instances)
		r.Get("/participation", h.aggregate)
		r.Get("/participation/{occ}", h.participation)
	})
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		respondError(w, r, http.StatusServiceUnavailable, "NOT_READY", "bootstrap in progress")
		return
	}
	if h.deps.Store != nil {
		if err := h.deps.Store.Ping(r.Context()); err != nil {
			h.deps.Log.Warn("readiness ping failed", logx.Err(err))
			respondError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "store unavailable")
			return
		}
	}
	teams := 0
	if h.deps.Schedules != nil {
		teams = h.deps.Schedules.Len()
	}
	respondJSON(w, r, http.StatusOK, map[string]any{"status": "ready", "scheduled_teams": teams})
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	preview := queryInt(r, "next", defaultPreview, maxPreview)
	info, ok := h.deps.Schedules.Describe(id, preview)
	if !ok {
		respondError(w, r, http.StatusNotFound, "NOT_SCHEDULED", "team has no active schedule")
		return
	}
	respondJSON(w, r, http.StatusOK, info)
}

func (h *Handler) instances(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	list, err := h.deps.Instances.ListForTeam(r.Context(), id, queryInt(r, "limit", defaultHistory, maxHistory))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Instance{}
	}
	respondJSON(w, r, http.StatusOK, map[string]any{"team_id": id, "instances": list})
}

func (h *Handler) participation(w http.ResponseWriter, r *http.Request) {
	id, occ := chi.URLParam(r, "id"), chi.URLParam(r, "occ")
	team, err := h.deps.Teams.Find(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	inst, err := h.deps.Instances.FindByOccurrence(r.Context(), id, occ)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	rep := participation.Status(team, &inst)
	respondJSON(w, r, http.StatusOK, reportResponse{Report: rep, RateText: rep.RateString()})
}

// aggregate reports the mean rate over the team's most recent instances.
func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	team, err := h.deps.Teams.Find(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	list, err := h.deps.Instances.ListForTeam(r.Context(), id, queryInt(r, "limit", defaultHistory, maxHistory))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"team_id":   id,
		"instances": len(list),
		"rate":      participation.Aggregate(team, list),
	})
}

type reportResponse struct {
	participation.Report
	RateText string `json:"rate_text"`
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrTeamNotFound):
		respondError(w, r, http.StatusNotFound, "TEAM_NOT_FOUND", "team not found")
	case errors.Is(err, domain.ErrMissingInstance):
		respondError(w, r, http.StatusNotFound, "INSTANCE_NOT_FOUND", "standup instance not found")
	default:
		h.deps.Log.Error("ops request failed", logx.String("path", r.URL.Path), logx.Err(err))
		respondError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func queryInt(r *http.Request, key string, def, limit int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, limit)
}
