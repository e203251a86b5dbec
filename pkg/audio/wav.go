package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// outputBitDepth is the bit depth of every WAV file written by [WriteWAV].
const outputBitDepth = 16

// ReadWAV decodes the PCM WAV file at path into a [Recording] with samples
// scaled to [-1, 1]. Open errors are wrapped, so callers can test for
// [os.ErrNotExist].
func ReadWAV(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("audio: %q is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode %q: %w", path, err)
	}

	numCh := buf.Format.NumChannels
	if numCh <= 0 {
		return nil, fmt.Errorf("audio: %q reports %d channels", path, numCh)
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}
	scale := math.Pow(2, float64(bitDepth-1))

	frames := len(buf.Data) / numCh
	rec := &Recording{
		Channels:   make([][]float64, numCh),
		SampleRate: buf.Format.SampleRate,
	}
	for ch := range numCh {
		rec.Channels[ch] = make([]float64, frames)
	}
	for i := range frames {
		for ch := range numCh {
			rec.Channels[ch][i] = float64(buf.Data[i*numCh+ch]) / scale
		}
	}
	return rec, nil
}

// WriteWAV encodes track as 16-bit mono PCM at path. Samples outside [-1, 1]
// are clipped.
func WriteWAV(path string, track Track) error {
	return WriteRecording(path, &Recording{Channels: [][]float64{track.Samples}, SampleRate: track.SampleRate})
}

// WriteRecording encodes rec as interleaved 16-bit PCM at path. Every channel
// must have the same length.
func WriteRecording(path string, rec *Recording) error {
	numCh := rec.NumChannels()
	if numCh == 0 {
		return fmt.Errorf("audio: %q: %w: no channels", path, ErrChannelMismatch)
	}
	frames := len(rec.Channels[0])
	for ch, samples := range rec.Channels {
		if len(samples) != frames {
			return fmt.Errorf("audio: %q: %w: channel %d has %d samples, want %d",
				path, ErrShapeMismatch, ch, len(samples), frames)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}

	enc := wav.NewEncoder(f, rec.SampleRate, outputBitDepth, numCh, 1)
	data := make([]int, frames*numCh)
	peak := math.Pow(2, outputBitDepth-1) - 1
	for ch, samples := range rec.Channels {
		for i, s := range samples {
			data[i*numCh+ch] = int(math.Round(math.Max(-1, math.Min(1, s)) * peak))
		}
	}
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: numCh, SampleRate: rec.SampleRate},
		SourceBitDepth: outputBitDepth,
	}

	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("audio: encode %q: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("audio: finalise %q: %w", path, err)
	}
	return f.Close()
}
