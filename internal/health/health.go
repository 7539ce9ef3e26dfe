// Package health serves the gateway's liveness and readiness endpoints.
//
// /healthz reports process liveness and always answers 200: a process that
// can serve HTTP is alive. /readyz runs the registered dependency checks
// (database, session-lock backend) and answers 503 until every one passes,
// so the load balancer keeps traffic away from a gateway that could not
// complete a turn anyway. Each check reports its own status, error, and
// latency in the JSON body.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout caps each readiness check individually; a hung dependency
// must not hold the response open past the kubelet's own timeout.
const checkTimeout = 5 * time.Second

// Check is one named readiness dependency.
type Check struct {
	// Name keys the check in the JSON response ("database", "locks").
	Name string

	// Run checks the dependency, returning nil when it is usable. It must
	// respect context cancellation.
	Run func(ctx context.Context) error
}

// checkReport is the per-dependency slice of the readiness response.
type checkReport struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// report is the response body of both endpoints.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkReport `json:"checks,omitempty"`
}

// Handler answers /healthz and /readyz. The check list is fixed at
// construction; the handler is safe for concurrent use.
type Handler struct {
	checks []Check
}

// New builds a Handler over the given dependency checks.
func New(checks ...Check) *Handler {
	c := make([]Check, len(checks))
	copy(c, checks)
	return &Handler{checks: c}
}

// Healthz is the liveness endpoint. It never consults the checks.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every check concurrently and answers 200 only when all of
// them pass. Checks do not share a cancellation scope: one failing
// dependency must not abort the checks of the others, or the response
// would blame healthy backends for a single outage.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkReport, len(h.checks))
	var g errgroup.Group
	for i, c := range h.checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Run(ctx)
			cr := checkReport{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				cr.Status = "fail"
				cr.Error = err.Error()
			}
			results[i] = cr
			return err
		})
	}
	err := g.Wait()

	res := report{Status: "ok", Checks: make(map[string]checkReport, len(h.checks))}
	for i, c := range h.checks {
		res.Checks[c.Name] = results[i]
	}
	status := http.StatusOK
	if err != nil {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds both endpoints to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
