// Package apihealth serves the HTTP /health, /ready, and /metrics
// endpoints for a running Core.
//
// Grounded on the teacher's pkg/api.HealthServer: a *http.ServeMux
// wrapping a liveness check, a readiness check that inspects the
// wrapped subsystem, and the Prometheus handler mounted alongside.
package apihealth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/linkcore/pkg/metrics"
	"github.com/cuemby/linkcore/pkg/types"
)

// CoreHealth is the capability apihealth depends on; *core.Core
// satisfies it without apihealth importing pkg/core directly, avoiding
// an import cycle with anything core eventually wants to expose over
// HTTP.
type CoreHealth interface {
	Health() (types.HealthReport, error)
}

// Server is the HTTP health/metrics server.
type Server struct {
	core CoreHealth
	mux  *http.ServeMux
}

// New builds a Server exposing /health, /ready, and /metrics.
func New(core CoreHealth) *Server {
	mux := http.NewServeMux()
	s := &Server{core: core, mux: mux}
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", metrics.Handler())
	return s
}

// Handler returns the HTTP handler, for embedding in another server or
// for ListenAndServe directly.
func (s *Server) Handler() http.Handler { return s.mux }

// Run starts a blocking HTTP server on addr with the teacher's
// timeout profile.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// healthHandler is a pure liveness check: the process is up and able
// to answer HTTP, independent of link state.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
}

type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// readyHandler reports ready only once every configured link is
// Active, matching the contractual meaning of Core.Health.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	report, err := s.core.Health()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{
			Status:    "not ready",
			Timestamp: time.Now(),
			Checks:    checks,
			Message:   fmt.Sprintf("health query failed: %v", err),
		})
		return
	}

	for _, st := range report.Links {
		if st.State.Active() {
			checks[st.Link] = "active"
		} else {
			checks[st.Link] = string(st.State)
		}
	}

	status := "ready"
	code := http.StatusOK
	message := ""
	if !report.Healthy {
		status = "not ready"
		code = http.StatusServiceUnavailable
		message = "one or more links are not active"
	}

	writeJSON(w, code, readyResponse{Status: status, Timestamp: time.Now(), Checks: checks, Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
