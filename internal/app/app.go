// Package app wires the clipforge subsystems into a runnable build.
//
// The App struct owns the full lifecycle: New opens the catalog and creates
// the encoder and clip assembler, Run builds the requested sessions one after
// another, and Shutdown stops the ops endpoint and closes the catalog.
//
// For testing, inject doubles via functional options (WithEncoder,
// WithCatalog, WithMetrics). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/clipforge/internal/catalog"
	"github.com/MrWong99/clipforge/internal/clip"
	"github.com/MrWong99/clipforge/internal/config"
	"github.com/MrWong99/clipforge/internal/ffmpeg"
	"github.com/MrWong99/clipforge/internal/health"
	"github.com/MrWong99/clipforge/internal/observe"
)

var (
	// ErrNoSession is returned by Run when neither the caller nor the config
	// names a session.
	ErrNoSession = errors.New("app: no session given")

	// ErrSessionFailed is returned by Run when at least one session could not
	// be built.
	ErrSessionFailed = errors.New("app: session failed")
)

// Encoder is the external encoder: the clip operations plus an availability
// probe for health checks. [*ffmpeg.Encoder] implements it.
type Encoder interface {
	clip.Encoder
	health.Prober
}

var _ Encoder = (*ffmpeg.Encoder)(nil)

// App owns the clip assembler and everything it depends on.
type App struct {
	cfg *config.Config

	enc       Encoder
	catalog   catalog.Store
	metrics   *observe.Metrics
	assembler *clip.Assembler
	health    *health.Handler

	ops   *http.Server
	opsLn net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEncoder injects an encoder instead of creating an ffmpeg one.
func WithEncoder(e Encoder) Option {
	return func(a *App) { a.enc = e }
}

// WithCatalog injects a catalog instead of opening the configured one. The
// caller keeps ownership; Shutdown does not close it.
func WithCatalog(s catalog.Store) Option {
	return func(a *App) { a.catalog = s }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from a loaded and validated cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil || cfg.PathsBuilder() == nil {
		return nil, errors.New("app: config must be loaded and validated")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.enc == nil {
		a.enc = ffmpeg.New(
			ffmpeg.WithBinaries(cfg.Encoder.Binary, cfg.Encoder.ProbeBinary),
			ffmpeg.WithMetrics(a.metrics),
		)
	}

	// ── Catalog ──────────────────────────────────────────────────────────
	if a.catalog == nil {
		store, err := catalog.Open(ctx, cfg.Catalog)
		if err != nil {
			return nil, fmt.Errorf("app: open catalog: %w", err)
		}
		a.catalog = store
		a.closers = append(a.closers, store.Close)
	}

	// ── Assembler ────────────────────────────────────────────────────────
	asm, err := clip.New(cfg, a.enc,
		clip.WithCatalog(a.catalog),
		clip.WithMetrics(a.metrics),
	)
	if err != nil {
		_ = a.close()
		return nil, fmt.Errorf("app: init assembler: %w", err)
	}
	a.assembler = asm
	a.health = health.New(a.Checkers()...)
	return a, nil
}

// RunID returns the identifier recorded with every catalog entry of this run.
func (a *App) RunID() string { return a.assembler.RunID() }

// Checkers returns the readiness checks: the encoder binaries run, the
// artifact root is writable and the roster is readable.
func (a *App) Checkers() []health.Checker {
	paths := a.cfg.PathsBuilder()
	return []health.Checker{
		health.Encoder(a.enc),
		health.Writable("output", paths.SampleRoot()),
		health.Readable("roster", paths.SessionInfo()),
	}
}

// Health returns the handler backing /healthz and /readyz.
func (a *App) Health() *health.Handler { return a.health }

// Catalog returns the clip catalog.
func (a *App) Catalog() catalog.Store { return a.catalog }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run builds every session in order; an empty list means the configured
// default session. A session whose inputs cannot be read is logged and the
// next one is built; Run then returns an error wrapping [ErrSessionFailed].
// Segment failures only show up in the reports. When ctx ends Run stops
// after the current session and returns the context error.
func (a *App) Run(ctx context.Context, sessions []string) ([]*clip.Report, error) {
	if len(sessions) == 0 && a.cfg.Session != "" {
		sessions = []string{a.cfg.Session}
	}
	if len(sessions) == 0 {
		return nil, ErrNoSession
	}
	if err := a.startOps(); err != nil {
		return nil, err
	}

	slog.Info("build starting",
		"run_id", a.RunID(),
		"sessions", len(sessions),
		"device", a.cfg.Device,
		"target", a.cfg.TargetPID,
	)

	var (
		reports []*clip.Report
		failed  []string
	)
	for _, id := range sessions {
		rep, err := a.assembler.BuildSession(ctx, id)
		if rep != nil {
			reports = append(reports, rep)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return reports, fmt.Errorf("app: build interrupted at session %s: %w", id, ctxErr)
		}
		if err != nil {
			slog.Error("session failed", "run_id", a.RunID(), "session", id, "err", err)
			failed = append(failed, id)
		}
	}

	if len(failed) > 0 {
		return reports, fmt.Errorf("%w: %d of %d (%s)", ErrSessionFailed, len(failed), len(sessions), strings.Join(failed, ", "))
	}
	return reports, nil
}

// startOps serves /metrics, /healthz and /readyz when metrics.listen_addr is
// set. It is a no-op when already started.
func (a *App) startOps() error {
	addr := a.cfg.Metrics.ListenAddr
	if addr == "" || a.ops != nil {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)

	a.opsLn = ln
	a.ops = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.ops.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", "err", err)
		}
	}()
	slog.Info("ops endpoint listening", "addr", ln.Addr().String())
	return nil
}

// OpsAddr returns the address the ops endpoint listens on, or "" when it is
// not running.
func (a *App) OpsAddr() string {
	if a.opsLn == nil {
		return ""
	}
	return a.opsLn.Addr().String()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the ops endpoint and runs the closers in order. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Debug("shutting down", "closers", len(a.closers))

		if a.ops != nil {
			if err := a.ops.Shutdown(ctx); err != nil {
				slog.Warn("ops server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}

// close runs every closer, used when New fails halfway.
func (a *App) close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
