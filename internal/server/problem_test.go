package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemType(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusTooManyRequests, "https://tally.dev/problems/rate-limited"},
		{http.StatusMethodNotAllowed, "https://tally.dev/problems/read-only"},
		{http.StatusServiceUnavailable, "https://tally.dev/problems/unavailable"},
		{http.StatusTeapot, "about:blank"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProblemType(tt.status), "status %d", tt.status)
	}
}

func TestReadOnlyProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadOnly(rec, "/api/v1/counter/reset")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	var p Problem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, Problem{
		Type:     "https://tally.dev/problems/read-only",
		Title:    "Method Not Allowed",
		Status:   http.StatusMethodNotAllowed,
		Detail:   "server is read-only",
		Instance: "/api/v1/counter/reset",
	}, p)
}
