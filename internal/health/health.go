// Package health evaluates whether clipforge can do its work and serves the
// result over HTTP.
//
// The same [Checker] list backs the /readyz endpoint of a long build and the
// "clipforge doctor" command:
//
//   - /healthz: liveness probe; always 200 OK.
//   - /readyz: 200 only when every checker passes, 503 otherwise.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map with the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// checkTimeout bounds a single check.
const checkTimeout = 5 * time.Second

// Checker is a named check. Check returns nil when the dependency is usable.
type Checker struct {
	// Name labels the check in reports, e.g. "encoder" or "output".
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Prober is implemented by anything that can verify its own availability,
// such as the ffmpeg encoder.
type Prober interface {
	Check(ctx context.Context) error
}

// Encoder returns a checker named "encoder" that runs p.Check.
func Encoder(p Prober) Checker {
	return Checker{Name: "encoder", Check: p.Check}
}

// Writable returns a checker that creates dir if needed and verifies a file
// can be created inside it.
func Writable(name, dir string) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %q: %w", dir, err)
		}
		f, err := os.CreateTemp(dir, ".clipforge-probe-*")
		if err != nil {
			return fmt.Errorf("%q is not writable: %w", dir, err)
		}
		return errors.Join(f.Close(), os.Remove(f.Name()))
	}}
}

// Readable returns a checker that verifies path exists and can be opened.
func Readable(name, path string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		return f.Close()
	}}
}

// Result is the outcome of one check.
type Result struct {
	Name string
	Err  error
}

// Report is the outcome of every check, in registration order.
type Report []Result

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, res := range r {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// Err joins the failures, each prefixed with its check name.
func (r Report) Err() error {
	var errs []error
	for _, res := range r {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] over the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Evaluate runs every checker sequentially, each with a [checkTimeout]
// deadline derived from ctx.
func (h *Handler) Evaluate(ctx context.Context) Report {
	rep := make(Report, 0, len(h.checkers))
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		rep = append(rep, Result{Name: c.Name, Err: err})
	}
	return rep
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every checker passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	res := result{Status: "ok", Checks: make(map[string]string, len(rep))}
	for _, c := range rep {
		if c.Err != nil {
			res.Checks[c.Name] = "fail: " + c.Err.Error()
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	status := http.StatusOK
	if !rep.OK() {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
