package api

import (
	"encoding/json"
	"net/http"

	"github.com/moeview/moeview/internal/logger"
	"github.com/moeview/moeview/pkg/cache"
	"github.com/moeview/moeview/pkg/events"
	"github.com/moeview/moeview/pkg/fetch"
	"github.com/moeview/moeview/pkg/preload"
)

// Deps holds the engine components the stats endpoint reports on. Any
// field may be nil; its section is then omitted from the response.
type Deps struct {
	Cache *cache.TieredCache
	Coord *fetch.Coordinator
	Sched *preload.Scheduler
	Bus   *events.Bus
}

type busStats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
}

type statsResponse struct {
	Cache     *cache.Stats     `json:"cache,omitempty"`
	Occupancy *cache.Occupancy `json:"occupancy,omitempty"`
	Fetch     *fetch.Stats     `json:"fetch,omitempty"`
	Preload   *preload.Stats   `json:"preload,omitempty"`
	Events    *busStats        `json:"events,omitempty"`
}

type statsHandler struct {
	deps Deps
}

func (h *statsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse

	if h.deps.Cache != nil {
		cs := h.deps.Cache.Stats()
		occ := h.deps.Cache.Occupancy()
		resp.Cache = &cs
		resp.Occupancy = &occ
	}
	if h.deps.Coord != nil {
		fs := h.deps.Coord.Stats()
		resp.Fetch = &fs
	}
	if h.deps.Sched != nil {
		ps := h.deps.Sched.Stats()
		resp.Preload = &ps
	}
	if h.deps.Bus != nil {
		published, delivered := h.deps.Bus.Stats()
		resp.Events = &busStats{Published: published, Delivered: delivered}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode stats response", logger.KeyError, err)
	}
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
