package server

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 problem details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps the statuses the bridge answers with to their type URI.
var problemTypes = map[int]string{
	http.StatusNotFound:            "/problems/not-found",
	http.StatusConflict:            "/problems/conflict",
	http.StatusTooManyRequests:     "/problems/rate-limited",
	http.StatusInternalServerError: "/problems/internal-error",
	http.StatusBadGateway:          "/problems/upstream",
}

// NewProblem builds a problem for status. Statuses without a registered
// type get "about:blank", as RFC 7807 prescribes.
func NewProblem(status int, detail, instance string) Problem {
	typ, ok := problemTypes[status]
	if !ok {
		typ = "about:blank"
	}
	return Problem{
		Type:     typ,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NotFound answers 404.
func NotFound(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(http.StatusNotFound, detail, instance))
}

// Conflict answers 409, used when a wake is already in flight.
func Conflict(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(http.StatusConflict, detail, instance))
}

// BadGateway answers 502 with the device service's failure message.
func BadGateway(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(http.StatusBadGateway, detail, instance))
}

// InternalError answers 500.
func InternalError(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(http.StatusInternalServerError, detail, instance))
}

// RateLimited answers 429.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(http.StatusTooManyRequests, detail, instance))
}
