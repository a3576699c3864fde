package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// ReadinessCheck is one named readiness probe: ok reports whether the
// dependency it covers is usable right now, and detail is a short
// human-readable status shown alongside it. Grounded on the teacher's
// pkg/api/health.go readyHandler, which builds an identical
// map[string]string of named sub-checks (there: "raft", "storage") before
// deciding overall readiness.
type ReadinessCheck struct {
	Name  string
	Probe func() (ok bool, detail string)
}

// Server exposes /healthz (process liveness — always 200 once the
// process is serving) and /readyz (aggregates a set of named
// ReadinessChecks, returning 503 if any fails) for the manager or worker
// binaries. Grounded on the teacher's pkg/api/health.go HealthServer:
// same mux-per-server construction and liveness/readiness split, adapted
// from Raft-leader/storage checks to this system's own dependencies
// (topology reachability, auth store usability, worker pull-loop
// liveness), supplied by the caller rather than hardcoded.
type Server struct {
	checks []ReadinessCheck
	mux    *http.ServeMux
}

// NewServer builds a Server with the given readiness checks. An empty
// checks slice makes /readyz always report ready.
func NewServer(checks ...ReadinessCheck) *Server {
	s := &Server{checks: checks}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthzHandler)
	mux.HandleFunc("GET /readyz", s.readyzHandler)
	s.mux = mux
	return s
}

// Handler returns the server's http.Handler, for mounting standalone or
// alongside another carrier's mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type livenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{Status: "healthy", Timestamp: time.Now()})
}

type readinessResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checks))
	ready := true
	for _, c := range s.checks {
		ok, detail := c.Probe()
		checks[c.Name] = detail
		if !ok {
			ready = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, readinessResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
