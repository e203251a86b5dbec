package animate

import (
	"context"
	"log/slog"

	"github.com/MrWong99/clipforge/internal/ffmpeg"
	"github.com/MrWong99/clipforge/internal/fsutil"
)

// Encoder turns a frame stream into a video file.
type Encoder interface {
	EncodeFrames(ctx context.Context, path string, v ffmpeg.Video, src ffmpeg.FrameSource) error
}

// Animator renders plans to silent MP4 files.
type Animator struct {
	enc    Encoder
	width  int
	height int
}

// New creates an Animator producing width×height videos.
func New(enc Encoder, width, height int) *Animator {
	return &Animator{enc: enc, width: width, height: height}
}

// Render encodes plan at 1/FrameInterval fps into path. The directory is
// created as needed and path only appears once the encode has succeeded.
func (a *Animator) Render(ctx context.Context, plan *Plan, path string) error {
	r, err := NewRenderer(plan, a.width, a.height)
	if err != nil {
		return err
	}
	v := ffmpeg.Video{Width: a.width, Height: a.height, FPS: plan.FPS()}

	err = fsutil.WriteAtomic(path, func(tmp string) error {
		return a.enc.EncodeFrames(ctx, tmp, v, r)
	})
	if err != nil {
		return err
	}
	slog.Debug("animation written",
		"path", path,
		"frames", r.Len(),
		"fps", v.FPS,
		"duration", plan.Duration(),
	)
	return nil
}
