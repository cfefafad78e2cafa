package server

import (
	"net/http"

	"github.com/HerbHall/tally/pkg/plugin"
)

// Problem is the RFC 7807 body written by every route.
type Problem = plugin.Problem

// ProblemType returns the type URI for status, or about:blank.
func ProblemType(status int) string { return plugin.ProblemType(status) }

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) { plugin.WriteProblem(w, p) }

func writeStatus(w http.ResponseWriter, status int, detail, instance string) {
	plugin.WriteProblem(w, plugin.NewProblem(status, detail, instance))
}

// InternalError writes a 500 problem.
func InternalError(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusInternalServerError, detail, instance)
}

// RateLimited writes a 429 problem.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusTooManyRequests, detail, instance)
}

// ReadOnly rejects a mutating request with 405.
func ReadOnly(w http.ResponseWriter, instance string) {
	writeStatus(w, http.StatusMethodNotAllowed, "server is read-only", instance)
}
