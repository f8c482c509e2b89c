// Package health serves the liveness and readiness probes of the
// diagnostics endpoint.
//
// /healthz reports liveness: a process that can answer HTTP is alive.
// /readyz runs every registered [Checker] (store ping, engine probes) and
// returns 503 until all of them pass, so a supervisor can hold traffic
// while models are still loading.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness check. Engines and the store are
// local, so a check that takes longer than this is as good as down.
const probeTimeout = 3 * time.Second

// Checker probes one dependency by name. Check returns nil when the
// dependency can serve and must honor context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// checkReport is one checker's outcome in the /readyz body.
type checkReport struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// report is the JSON body served by both probes.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkReport `json:"checks,omitempty"`
}

// Handler evaluates readiness checkers on demand. The checker set is
// fixed at construction, which makes the handler safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers. Checkers run sequentially
// in the order given, each under its own [probeTimeout].
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz answers the liveness probe. Always 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	serveJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz answers the readiness probe: 200 when every checker passes,
// 503 with per-check detail otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{
		Status: "ok",
		Checks: make(map[string]checkReport, len(h.checkers)),
	}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		start := time.Now()
		err := c.Check(ctx)
		cancel()

		cr := checkReport{OK: err == nil, DurationMS: time.Since(start).Milliseconds()}
		if err != nil {
			cr.Error = err.Error()
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
		}
		rep.Checks[c.Name] = cr
	}

	serveJSON(w, code, rep)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func serveJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
