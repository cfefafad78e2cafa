package counter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HerbHall/tally/internal/counter/mixture"
	"github.com/HerbHall/tally/internal/testutil"
	"github.com/HerbHall/tally/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve mounts the module's routes the way the server does.
func serve(m *Module, method, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	for _, r := range m.Routes() {
		mux.HandleFunc(r.Method+" /api/v1/counter"+r.Path, r.Handler)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHandleSnapshot(t *testing.T) {
	tm := newTestModule(t, nil)
	processAll(t, tm.Module, testutil.NewRecording().Hold(4).Add(5, 4).Add(5, 4).Samples())

	rec := serve(tm.Module, "GET", "/api/v1/counter/snapshot")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "tracking", snap.Mode)
	require.Len(t, snap.Categories, 1)
	assert.Equal(t, 2.0, snap.Categories[0].Count)
	assert.InDelta(t, 10.0, snap.Total, 0.01)
}

func TestHandleCategories_Empty(t *testing.T) {
	tm := newTestModule(t, nil)

	rec := serve(tm.Module, "GET", "/api/v1/counter/categories")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleListDeltas(t *testing.T) {
	tm := newTestModule(t, nil)
	processAll(t, tm.Module, testutil.Walkthrough().Samples())

	tests := []struct {
		name      string
		target    string
		wantCount int
	}{
		{name: "default limit", target: "/api/v1/counter/deltas", wantCount: 5},
		{name: "explicit limit", target: "/api/v1/counter/deltas?limit=2", wantCount: 2},
		{name: "invalid limit falls back", target: "/api/v1/counter/deltas?limit=-3", wantCount: 5},
		{name: "current session", target: "/api/v1/counter/deltas?session=current", wantCount: 5},
		{name: "unknown session", target: "/api/v1/counter/deltas?session=nope", wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tm.Module, "GET", tt.target)
			require.Equal(t, http.StatusOK, rec.Code)

			var entries []JournalEntry
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
			assert.Len(t, entries, tt.wantCount)
			if len(entries) > 0 {
				assert.Equal(t, mixture.ActionReset, entries[0].Action)
			}
		})
	}
}

func TestHandleListDeltas_JournalDisabled(t *testing.T) {
	tm := newTestModule(t, map[string]any{"journal_enabled": false})

	rec := serve(tm.Module, "GET", "/api/v1/counter/deltas")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var p plugin.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, plugin.ProblemType(http.StatusServiceUnavailable), p.Type)
	assert.Equal(t, "https://tally.dev/problems/unavailable", p.Type)
	assert.Equal(t, "/api/v1/counter/deltas", p.Instance)
	assert.Equal(t, "delta journal is disabled", p.Detail)
}

func TestHandleReset(t *testing.T) {
	tm := newTestModule(t, nil)
	processAll(t, tm.Module, testutil.NewRecording().Hold(4).Add(5, 4).Samples())

	rec := serve(tm.Module, "POST", "/api/v1/counter/reset")

	require.Equal(t, http.StatusOK, rec.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Empty(t, snap.Categories)
	assert.Empty(t, tm.Snapshot().Categories)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(tm.Module, "GET", "/api/v1/counter/reset").Code)
}
