// Package audio provides the sample-level primitives of the clip pipeline:
// time-window extraction, mixing, loudness normalisation, channel reduction,
// resampling and WAV file I/O.
//
// All functions treat their inputs as read-only and return freshly allocated
// slices, so a [Track] loaded once per session can be shared by every segment
// worker without copying.
package audio

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrWindowOutOfBounds is returned by [ExtractWindow] when the requested
	// window does not overlap the track at all.
	ErrWindowOutOfBounds = errors.New("audio: window out of bounds")

	// ErrShapeMismatch is returned by [Mix] when the inputs differ in length or
	// sample rate.
	ErrShapeMismatch = errors.New("audio: shape mismatch")

	// ErrDegenerateSignal is returned by [NormalizeRMS] for a zero-energy input.
	ErrDegenerateSignal = errors.New("audio: degenerate signal")

	// ErrChannelMismatch is returned when a channel reduction references a
	// channel the recording does not have.
	ErrChannelMismatch = errors.New("audio: channel mismatch")
)

// Track is a mono waveform at a known sample rate. Samples are nominally in
// [-1, 1].
type Track struct {
	Samples    []float64
	SampleRate int
}

// Len returns the number of samples in the track.
func (t Track) Len() int { return len(t.Samples) }

// Duration returns the track length in seconds.
func (t Track) Duration() float64 {
	if t.SampleRate <= 0 {
		return 0
	}
	return float64(len(t.Samples)) / float64(t.SampleRate)
}

// ExtractWindow returns the samples of track in [start, end) seconds, taking
// every decimation-th sample. The window is clamped to the track; the result
// holds round((end-start)*rate/decimation) samples of the clamped window,
// starting at the sample nearest to start. A window that does not overlap the
// track fails with [ErrWindowOutOfBounds].
//
// The returned track's SampleRate is track.SampleRate/decimation.
func ExtractWindow(track Track, start, end float64, decimation int) (Track, error) {
	if decimation < 1 {
		decimation = 1
	}
	if track.SampleRate <= 0 {
		return Track{}, fmt.Errorf("audio: extract window: invalid sample rate %d", track.SampleRate)
	}

	rate := float64(track.SampleRate)
	from, to := max(start, 0), min(end, track.Duration())
	lo := int(math.Round(from * rate))
	if to <= from || lo >= len(track.Samples) {
		return Track{}, fmt.Errorf("%w: [%.3fs, %.3fs) against %.3fs track",
			ErrWindowOutOfBounds, start, end, track.Duration())
	}

	n := int(math.Round((to - from) * rate / float64(decimation)))
	// Never read past the last sample.
	n = min(n, (len(track.Samples)-lo+decimation-1)/decimation)
	out := make([]float64, n)
	for i := range n {
		out[i] = track.Samples[lo+i*decimation]
	}
	return Track{Samples: out, SampleRate: track.SampleRate / decimation}, nil
}

// Mix sums tracks sample by sample. All tracks must share length and sample
// rate.
func Mix(tracks ...Track) (Track, error) {
	if len(tracks) == 0 {
		return Track{}, fmt.Errorf("%w: nothing to mix", ErrShapeMismatch)
	}
	first := tracks[0]
	for i, t := range tracks[1:] {
		if t.Len() != first.Len() || t.SampleRate != first.SampleRate {
			return Track{}, fmt.Errorf("%w: track %d has %d samples at %d Hz, want %d at %d Hz",
				ErrShapeMismatch, i+1, t.Len(), t.SampleRate, first.Len(), first.SampleRate)
		}
	}

	out := make([]float64, first.Len())
	for _, t := range tracks {
		for i, s := range t.Samples {
			out[i] += s
		}
	}
	return Track{Samples: out, SampleRate: first.SampleRate}, nil
}

// RMS returns the root-mean-square level of samples, or 0 for an empty slice.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// NormalizeRMS returns a copy of track scaled so that its RMS equals target.
func NormalizeRMS(track Track, target float64) (Track, error) {
	in := RMS(track.Samples)
	if in == 0 {
		return Track{}, fmt.Errorf("%w: rms is zero over %d samples", ErrDegenerateSignal, track.Len())
	}
	gain := target / in
	out := make([]float64, track.Len())
	for i, s := range track.Samples {
		out[i] = s * gain
	}
	return Track{Samples: out, SampleRate: track.SampleRate}, nil
}

// PeakNormalize returns a copy of samples scaled so the largest absolute value
// equals scale, then shifted by centre. A silent input becomes a flat line at
// centre.
func PeakNormalize(samples []float64, centre, scale float64) []float64 {
	var peak float64
	for _, s := range samples {
		peak = max(peak, math.Abs(s))
	}
	out := make([]float64, len(samples))
	for i, s := range samples {
		if peak > 0 {
			out[i] = s / peak * scale
		}
		out[i] += centre
	}
	return out
}

// AlignWindow clamps [start, end) to [0, duration] and trims the end so the
// window spans a whole multiple of quantum samples at rate. It returns the
// aligned bounds in seconds. When less than one quantum fits, it fails with
// [ErrWindowOutOfBounds].
func AlignWindow(start, end, duration float64, rate, quantum int) (float64, float64, error) {
	if quantum < 1 {
		quantum = 1
	}
	r := float64(rate)
	lo := max(int(math.Round(start*r)), 0)
	hi := min(int(math.Round(end*r)), int(math.Round(duration*r)))
	n := (hi - lo) / quantum * quantum
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w: [%.3fs, %.3fs) against %.3fs track",
			ErrWindowOutOfBounds, start, end, duration)
	}
	return float64(lo) / r, float64(lo+n) / r, nil
}

// LCM returns the least common multiple of two positive integers.
func LCM(a, b int) int {
	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}
	return a / x * b
}
