package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Recording is a decoded, possibly multi-channel audio file. Channels are
// de-interleaved; every channel has the same length.
type Recording struct {
	Channels   [][]float64
	SampleRate int
}

// NumChannels returns the channel count of the recording.
func (r *Recording) NumChannels() int { return len(r.Channels) }

// Reduction turns a multi-channel recording into a mono waveform.
type Reduction struct {
	// Mode is one of "mono", "select" or "sum".
	Mode string

	// Channels lists the zero-based channel indices used by "select" (first
	// entry) and "sum" (all entries). An empty list with "sum" sums every
	// channel.
	Channels []int
}

// Reduce applies red to rec and returns a mono [Track]. "mono" requires a
// single-channel recording.
func Reduce(rec *Recording, red Reduction) (Track, error) {
	switch red.Mode {
	case "", "mono":
		if rec.NumChannels() != 1 {
			return Track{}, fmt.Errorf("%w: expected mono recording, got %d channels",
				ErrChannelMismatch, rec.NumChannels())
		}
		return Track{Samples: rec.Channels[0], SampleRate: rec.SampleRate}, nil
	case "select":
		if len(red.Channels) == 0 {
			return Track{}, fmt.Errorf("%w: select needs a channel index", ErrChannelMismatch)
		}
		samples, err := SelectChannel(rec, red.Channels[0])
		if err != nil {
			return Track{}, err
		}
		return Track{Samples: samples, SampleRate: rec.SampleRate}, nil
	case "sum":
		samples, err := SumChannels(rec, red.Channels...)
		if err != nil {
			return Track{}, err
		}
		return Track{Samples: samples, SampleRate: rec.SampleRate}, nil
	default:
		return Track{}, fmt.Errorf("audio: unknown channel reduction %q", red.Mode)
	}
}

// SelectChannel returns the samples of channel ch.
func SelectChannel(rec *Recording, ch int) ([]float64, error) {
	if ch < 0 || ch >= rec.NumChannels() {
		return nil, fmt.Errorf("%w: channel %d requested from %d-channel recording",
			ErrChannelMismatch, ch, rec.NumChannels())
	}
	return rec.Channels[ch], nil
}

// SumChannels sums the listed channels into one. With no channels listed all
// channels are summed.
func SumChannels(rec *Recording, channels ...int) ([]float64, error) {
	if len(channels) == 0 {
		channels = make([]int, rec.NumChannels())
		for i := range channels {
			channels[i] = i
		}
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: recording has no channels", ErrChannelMismatch)
	}
	for _, ch := range channels {
		if ch < 0 || ch >= rec.NumChannels() {
			return nil, fmt.Errorf("%w: channel %d requested from %d-channel recording",
				ErrChannelMismatch, ch, rec.NumChannels())
		}
	}

	out := make([]float64, len(rec.Channels[channels[0]]))
	for _, ch := range channels {
		for i, s := range rec.Channels[ch] {
			out[i] += s
		}
	}
	return out, nil
}

// Resampler converts tracks to a fixed working rate. It logs a warning on the
// first rate mismatch so that misconfigured inputs are visible without
// flooding the log. Safe for concurrent use.
type Resampler struct {
	Target         int
	warnedMismatch sync.Once
}

// Convert returns track at the target rate. A track already at the target
// rate is returned unchanged.
func (r *Resampler) Convert(track Track) Track {
	if track.SampleRate == r.Target {
		return track
	}
	r.warnedMismatch.Do(func() {
		slog.Warn("audio rate mismatch: resampling",
			"from", track.SampleRate,
			"to", r.Target,
		)
	})
	return Track{Samples: Resample(track.Samples, track.SampleRate, r.Target), SampleRate: r.Target}
}

// Resample converts samples from srcRate to dstRate using linear
// interpolation. If the rates match or either is non-positive the input is
// returned unchanged.
func Resample(samples []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float64, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
