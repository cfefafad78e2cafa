package plugin

import (
	"encoding/json"
	"net/http"
)

const problemBase = "https://tally.dev/problems/"

// Problem is an RFC 7807 body. The server and module routes share it.
type Problem struct {
	Type     string `json:"type" example:"https://tally.dev/problems/unavailable"`
	Title    string `json:"title" example:"Service Unavailable"`
	Status   int    `json:"status" example:"503"`
	Detail   string `json:"detail,omitempty" example:"delta journal is disabled"`
	Instance string `json:"instance,omitempty" example:"/api/v1/counter/deltas"`
}

var problemSlugs = map[int]string{
	http.StatusBadRequest:          "bad-request",
	http.StatusNotFound:            "not-found",
	http.StatusMethodNotAllowed:    "read-only",
	http.StatusTooManyRequests:     "rate-limited",
	http.StatusInternalServerError: "internal-error",
	http.StatusServiceUnavailable:  "unavailable",
}

// ProblemType returns the type URI for status, or about:blank.
func ProblemType(status int) string {
	if slug, ok := problemSlugs[status]; ok {
		return problemBase + slug
	}
	return "about:blank"
}

// NewProblem fills Type and Title from status.
func NewProblem(status int, detail, instance string) Problem {
	return Problem{
		Type:     ProblemType(status),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
