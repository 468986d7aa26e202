package server

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name labels the check in the /readyz response (e.g. "channel").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

type healthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health serves /healthz and /readyz.
type Health struct {
	checkers []Checker
}

// NewHealth returns a Health evaluating checkers on every /readyz request.
func NewHealth(checkers ...Checker) *Health {
	return &Health{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200 while the process serves HTTP.
func (h *Health) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok"})
}

// Readyz answers 200 when every checker passes and 503 otherwise. Checks run
// concurrently, each under [checkTimeout].
func (h *Health) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			outcomes[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := healthResult{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}
