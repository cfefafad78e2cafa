package counter

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/HerbHall/tally/internal/counter/mixture"
	"github.com/HerbHall/tally/pkg/plugin"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/snapshot", Handler: m.handleSnapshot},
		{Method: "GET", Path: "/categories", Handler: m.handleCategories},
		{Method: "GET", Path: "/deltas", Handler: m.handleListDeltas},
		{Method: "POST", Path: "/reset", Handler: m.handleReset},
	}
}

// handleSnapshot returns the current counter state.
//
//	@Summary		Counter snapshot
//	@Description	Returns baseline, categories and total weight as of the last sample.
//	@Tags			counter
//	@Produce		json
//	@Success		200 {object} counter.Snapshot
//	@Router			/counter/snapshot [get]
func (m *Module) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// handleCategories returns the known item categories.
//
//	@Summary		List categories
//	@Description	Returns per-item weight, count and deviation for every category, in id order.
//	@Tags			counter
//	@Produce		json
//	@Success		200 {array} mixture.View
//	@Router			/counter/categories [get]
func (m *Module) handleCategories(w http.ResponseWriter, _ *http.Request) {
	cats := m.Snapshot().Categories
	if cats == nil {
		cats = []mixture.View{}
	}
	writeJSON(w, http.StatusOK, cats)
}

// handleListDeltas returns journaled deltas, newest first.
//
//	@Summary		List deltas
//	@Description	Returns journaled weight steps. Scope to this run with session=current.
//	@Tags			counter
//	@Produce		json
//	@Param			limit query int false "Maximum results" default(50)
//	@Param			session query string false "Session id, or 'current'"
//	@Success		200 {array} counter.JournalEntry
//	@Failure		500 {object} plugin.Problem
//	@Failure		503 {object} plugin.Problem
//	@Router			/counter/deltas [get]
func (m *Module) handleListDeltas(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "delta journal is disabled")
		return
	}
	session := r.URL.Query().Get("session")
	if session == "current" {
		session = m.sessionID
	}
	entries, err := m.store.List(r.Context(), session, parseLimit(r, 50))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list deltas")
		return
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleReset clears the model, equivalent to re-taring the scale.
//
//	@Summary		Reset counter
//	@Description	Discards all categories and re-acquires the baseline.
//	@Tags			counter
//	@Produce		json
//	@Success		200 {object} counter.Snapshot
//	@Router			/counter/reset [post]
func (m *Module) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Reset(r.Context()))
}

// -- helpers --

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	plugin.WriteProblem(w, plugin.NewProblem(status, detail, r.URL.Path))
}

func parseLimit(r *http.Request, defaultLimit int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultLimit
}
