// Package ffmpeg drives the external ffmpeg and ffprobe tools: encoding raw
// frames to H.264, muxing a video stream with a WAV track, and probing
// container durations.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/clipforge/internal/observe"
)

// ErrEncodingFailure wraps every failure of an external tool.
var ErrEncodingFailure = errors.New("ffmpeg: encoding failure")

// maxOutputTail bounds the tool output kept in error messages.
const maxOutputTail = 2048

// Runner executes an external command and returns its standard output.
// stdin may be nil.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error)
}

// ExecRunner runs commands with os/exec. A failing command's error carries
// the tail of its standard error.
type ExecRunner struct{}

// Run implements [Runner].
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, tail(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputTail {
		s = "…" + s[len(s)-maxOutputTail:]
	}
	return s
}

// Video describes a raw frame stream.
type Video struct {
	Width  int
	Height int
	FPS    float64
}

// FrameSource produces the frames of one clip in order.
type FrameSource interface {
	// Len returns the number of frames.
	Len() int

	// Frame renders frame k. The returned image must be Width×Height with a
	// stride of 4·Width and is only read until the next call.
	Frame(k int) (*image.RGBA, error)
}

// Option customises an [Encoder].
type Option func(*Encoder)

// WithRunner replaces the command runner. Used by tests.
func WithRunner(r Runner) Option {
	return func(e *Encoder) { e.runner = r }
}

// WithBinaries sets the ffmpeg and ffprobe executables.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(e *Encoder) {
		if ffmpeg != "" {
			e.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			e.ffprobe = ffprobe
		}
	}
}

// WithMetrics records encoder invocations on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Encoder) { e.metrics = m }
}

// Encoder wraps ffmpeg and ffprobe. Safe for concurrent use.
type Encoder struct {
	runner  Runner
	ffmpeg  string
	ffprobe string
	metrics *observe.Metrics
}

// New creates an Encoder using the binaries found on PATH.
func New(opts ...Option) *Encoder {
	e := &Encoder{
		runner:  ExecRunner{},
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// EncodeFrames streams every frame of src as raw RGBA into ffmpeg and writes
// an H.264 MP4 without an audio track to path.
func (e *Encoder) EncodeFrames(ctx context.Context, path string, v Video, src FrameSource) error {
	if v.Width <= 0 || v.Height <= 0 || v.FPS <= 0 {
		return fmt.Errorf("%w: invalid video geometry %dx%d at %v fps", ErrEncodingFailure, v.Width, v.Height, v.FPS)
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", v.Width, v.Height),
		"-r", strconv.FormatFloat(v.FPS, 'f', -1, 64),
		"-i", "-",
		"-an",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		path,
	}

	pr, pw := io.Pipe()
	written := make(chan error, 1)
	go func() {
		err := writeFrames(pw, v, src)
		pw.CloseWithError(err)
		written <- err
	}()

	_, runErr := e.run(ctx, e.ffmpeg, args, pr)
	// Unblock the writer if ffmpeg exited before consuming every frame.
	pr.CloseWithError(io.ErrClosedPipe)
	writeErr := <-written

	switch {
	case writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe):
		return fmt.Errorf("%w: render frames for %q: %w", ErrEncodingFailure, path, writeErr)
	case runErr != nil:
		return runErr
	}
	return nil
}

func writeFrames(w io.Writer, v Video, src FrameSource) error {
	rowBytes := 4 * v.Width
	for k := range src.Len() {
		img, err := src.Frame(k)
		if err != nil {
			return fmt.Errorf("frame %d: %w", k, err)
		}
		b := img.Bounds()
		if b.Dx() != v.Width || b.Dy() != v.Height {
			return fmt.Errorf("frame %d is %dx%d, want %dx%d", k, b.Dx(), b.Dy(), v.Width, v.Height)
		}
		if img.Stride == rowBytes {
			if _, err := w.Write(img.Pix[:rowBytes*v.Height]); err != nil {
				return err
			}
			continue
		}
		for y := range v.Height {
			off := y * img.Stride
			if _, err := w.Write(img.Pix[off : off+rowBytes]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Merge muxes the video stream of video (copied) with audio (encoded AAC)
// into out.
func (e *Encoder) Merge(ctx context.Context, video, audio, out string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		out,
	}
	_, err := e.run(ctx, e.ffmpeg, args, nil)
	return err
}

// Duration returns the container duration of path in seconds.
func (e *Encoder) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	out, err := e.run(ctx, e.ffprobe, args, nil)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe duration of %q: %w", ErrEncodingFailure, path, err)
	}
	return d, nil
}

// Check verifies that ffmpeg and ffprobe can be executed.
func (e *Encoder) Check(ctx context.Context) error {
	var errs []error
	for _, bin := range []string{e.ffmpeg, e.ffprobe} {
		if _, err := e.run(ctx, bin, []string{"-version"}, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Encoder) run(ctx context.Context, bin string, args []string, stdin io.Reader) ([]byte, error) {
	start := time.Now()
	out, err := e.runner.Run(ctx, bin, args, stdin)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.RecordEncoderRun(ctx, toolName(bin), status)
	}
	slog.Debug("encoder run",
		"tool", bin,
		"args", strings.Join(args, " "),
		"status", status,
		"duration", time.Since(start),
	)
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("%w: %w", ErrEncodingFailure, ctx.Err())
		}
		return out, fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	}
	return out, nil
}

// toolName strips any directory from bin for metric attributes.
func toolName(bin string) string {
	if i := strings.LastIndexAny(bin, `/\`); i >= 0 {
		return bin[i+1:]
	}
	return bin
}
