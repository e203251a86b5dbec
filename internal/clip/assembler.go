// Package clip assembles the stimulus clips of one session: for every entry
// of the target participant's manifest it writes the mixed audio excerpt, the
// waveform animation and their merge, then records the clip in the catalog.
//
// Segments are processed concurrently. Artifacts that already exist are kept
// unless overwrite is set, so an interrupted run can simply be repeated. A
// failing segment is logged and counted and the run moves on to the next.
package clip

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/clipforge/internal/animate"
	"github.com/MrWong99/clipforge/internal/catalog"
	"github.com/MrWong99/clipforge/internal/config"
	"github.com/MrWong99/clipforge/internal/observe"
	"github.com/MrWong99/clipforge/internal/resilience"
	"github.com/MrWong99/clipforge/internal/segment"
	"github.com/MrWong99/clipforge/internal/session"
)

// Option is a functional option for [New].
type Option func(*Assembler)

// WithCatalog records finished clips in s. Default: [catalog.Nop].
func WithCatalog(s catalog.Store) Option {
	return func(a *Assembler) { a.catalog = s }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// WithBreaker replaces the circuit breaker guarding encoder calls. Default: a
// breaker configured from the encoder section of the config.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(a *Assembler) { a.breaker = cb }
}

// WithRunID sets the run identifier stored with every catalog entry.
// Default: a random UUID.
func WithRunID(id string) Option {
	return func(a *Assembler) { a.runID = id }
}

// Assembler builds clips. One Assembler may run several sessions one after
// another; the encoder bound and the breaker are shared between them.
type Assembler struct {
	cfg      *config.Config
	paths    *config.Paths
	enc      *guardedEncoder
	animator *animate.Animator
	catalog  catalog.Store
	metrics  *observe.Metrics
	breaker  *resilience.CircuitBreaker
	runID    string
	workers  int
}

// New creates an Assembler for a validated cfg.
func New(cfg *config.Config, enc Encoder, opts ...Option) (*Assembler, error) {
	if cfg == nil || cfg.PathsBuilder() == nil {
		return nil, errors.New("clip: config must be loaded and validated")
	}
	if enc == nil {
		return nil, errors.New("clip: encoder is required")
	}
	if _, ok := cfg.Devices[cfg.Device]; !ok {
		return nil, fmt.Errorf("clip: device %q is not configured", cfg.Device)
	}

	a := &Assembler{
		cfg:     cfg,
		paths:   cfg.PathsBuilder(),
		catalog: catalog.Nop(),
		runID:   uuid.NewString(),
		workers: orNumCPU(cfg.Workers),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.breaker == nil {
		a.breaker = resilience.New(resilience.Config{
			Name:         "encoder",
			MaxFailures:  cfg.Encoder.MaxFailures,
			ResetTimeout: cfg.Encoder.ResetTimeout,
		})
	}
	a.enc = newGuardedEncoder(enc, orNumCPU(cfg.MaxEncoders), a.breaker)
	a.animator = animate.New(a.enc, cfg.Video.Width, cfg.Video.Height)
	return a, nil
}

func orNumCPU(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// RunID returns the identifier of this assembler's run.
func (a *Assembler) RunID() string { return a.runID }

// BuildSession opens the session's inputs and runs every segment of the
// configured target's manifest. Errors loading the roster, recordings,
// transcripts or manifest are returned and abort the session; segment
// failures are only reported.
func (a *Assembler) BuildSession(ctx context.Context, sessionID string) (*Report, error) {
	ctx, span := observe.StartSpan(ctx, "clip.session", trace.WithAttributes(
		attribute.String("session", sessionID),
		attribute.String("device", a.cfg.Device),
		attribute.String("target", a.cfg.TargetPID),
	))
	defer span.End()

	rep, err := a.buildSession(ctx, sessionID)
	observe.FailSpan(span, err)
	return rep, err
}

func (a *Assembler) buildSession(ctx context.Context, sessionID string) (*Report, error) {
	start := time.Now()
	store, err := session.Open(session.NewOptions(a.cfg, sessionID))
	if err != nil {
		return nil, fmt.Errorf("clip: session %s: %w", sessionID, err)
	}

	manifest, err := a.paths.Manifest(config.ManifestKey{Session: sessionID, Device: a.cfg.Device, PID: a.cfg.TargetPID})
	if err != nil {
		return nil, fmt.Errorf("clip: session %s: %w", sessionID, err)
	}
	ix, err := segment.Load(manifest)
	if err != nil {
		return nil, fmt.Errorf("clip: session %s: %w", sessionID, err)
	}
	if err := store.Preload(ctx); err != nil {
		return nil, fmt.Errorf("clip: session %s: %w", sessionID, err)
	}
	if err := store.PreloadTranscripts(ctx); err != nil {
		return nil, fmt.Errorf("clip: session %s: %w", sessionID, err)
	}
	a.metrics.RecordStage(ctx, observe.StageLoad, start)

	return a.Run(ctx, store, ix)
}

// Run processes every descriptor of ix against store, at most the configured
// number of workers at a time. The report always holds one result per
// descriptor. Run returns an error only when ctx ends before every segment
// was started or finished.
func (a *Assembler) Run(ctx context.Context, store *session.Store, ix *segment.Index) (*Report, error) {
	rep := &Report{
		RunID:    a.runID,
		Session:  store.Session(),
		Device:   store.Device(),
		Target:   store.Participants().Target,
		Segments: make([]SegmentResult, ix.Len()),
	}
	observe.Logger(ctx).Info("building clips", "run_id", a.runID,
		"session", rep.Session,
		"device", rep.Device,
		"target", rep.Target,
		"segments", ix.Len(),
		"workers", a.workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	started := 0
	for i, d := range ix.Descriptors {
		if gctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			rep.Segments[i] = a.segment(gctx, store, i, d)
			return nil
		})
	}
	_ = g.Wait()

	for i := started; i < len(rep.Segments); i++ {
		rep.Segments[i] = SegmentResult{Index: i, Err: ctx.Err()}
	}

	observe.Logger(ctx).Info("session finished", rep.Summary()...)
	if err := ctx.Err(); err != nil {
		return rep, fmt.Errorf("clip: run: %w", err)
	}
	return rep, nil
}

func (a *Assembler) segment(ctx context.Context, store *session.Store, i int, d segment.Descriptor) SegmentResult {
	ctx, span := observe.StartSpan(ctx, "clip.segment", trace.WithAttributes(
		attribute.String("session", store.Session()),
		attribute.Int("segment", i),
	))
	defer span.End()

	a.metrics.ActiveWorkers.Add(ctx, 1)
	defer a.metrics.ActiveWorkers.Add(ctx, -1)

	b := &build{
		a:     a,
		store: store,
		index: i,
		desc:  d,
		res:   SegmentResult{Index: i},
		log: observe.Logger(ctx).With(
			"session", store.Session(),
			"device", store.Device(),
			"target", store.Participants().Target,
			"segment", i,
		),
	}
	if err := b.run(ctx); err != nil {
		b.res.Err = err
		stage := b.res.Stage()
		b.log.Error("segment failed", "stage", stage, "err", err)
		a.metrics.RecordSegmentFailure(ctx, stage)
		observe.FailSpan(span, err)
	}
	return b.res
}
