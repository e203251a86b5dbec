package clip

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/clipforge/internal/ffmpeg"
	"github.com/MrWong99/clipforge/internal/resilience"
)

// Encoder is the subset of [ffmpeg.Encoder] the assembler drives.
type Encoder interface {
	EncodeFrames(ctx context.Context, path string, v ffmpeg.Video, src ffmpeg.FrameSource) error
	Merge(ctx context.Context, video, audio, out string) error
	Duration(ctx context.Context, path string) (float64, error)
}

// Compile-time interface check.
var _ Encoder = (*ffmpeg.Encoder)(nil)

// guardedEncoder bounds the number of concurrent encoder processes and routes
// every call through a circuit breaker, so a broken encoder stops being
// invoked after a few consecutive failures.
type guardedEncoder struct {
	enc     Encoder
	sem     *semaphore.Weighted
	breaker *resilience.CircuitBreaker
}

func newGuardedEncoder(enc Encoder, maxProcs int, breaker *resilience.CircuitBreaker) *guardedEncoder {
	return &guardedEncoder{
		enc:     enc,
		sem:     semaphore.NewWeighted(int64(max(maxProcs, 1))),
		breaker: breaker,
	}
}

func (g *guardedEncoder) do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("clip: wait for encoder slot: %w", err)
	}
	defer g.sem.Release(1)
	return g.breaker.Do(ctx, fn)
}

func (g *guardedEncoder) EncodeFrames(ctx context.Context, path string, v ffmpeg.Video, src ffmpeg.FrameSource) error {
	return g.do(ctx, func(ctx context.Context) error {
		return g.enc.EncodeFrames(ctx, path, v, src)
	})
}

func (g *guardedEncoder) Merge(ctx context.Context, video, audio, out string) error {
	return g.do(ctx, func(ctx context.Context) error {
		return g.enc.Merge(ctx, video, audio, out)
	})
}

// Duration bypasses the semaphore.
func (g *guardedEncoder) Duration(ctx context.Context, path string) (float64, error) {
	var d float64
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		d, err = g.enc.Duration(ctx, path)
		return err
	})
	return d, err
}
