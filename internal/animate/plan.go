// Package animate turns a clip's two waveform lanes into a scrolling plot
// animation: the target speaker on the upper lane, the summed partners on the
// lower lane, transcript labels at each utterance's midpoint and a marker
// where the utterance to transcribe begins.
//
// [NewPlan] computes everything that does not depend on pixels; it is pure
// and cheap to test. [Renderer] rasterises a plan frame by frame and
// [Animator] streams the frames to an encoder.
package animate

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/clipforge/internal/segment"
	"github.com/MrWong99/clipforge/pkg/audio"
)

// Lane geometry in plot units.
const (
	TargetCentre  = 2.0
	PartnerCentre = 0.0
	WaveHeight    = 0.8
)

// DefaultPrompt replaces the target segment's transcript.
const DefaultPrompt = "Transcribe Here"

// eps absorbs float error when converting times to sample indices.
const eps = 1e-9

// Label is a transcript annotation in plot coordinates.
type Label struct {
	// X is seconds from the window start; Y is in lane units.
	X, Y float64
	Text string

	// Target marks labels spoken by the target participant.
	Target bool
}

// PlanInput holds the display-rate lanes of one clip and its transcript.
type PlanInput struct {
	// Target and Partner are the decimated window of the target participant
	// and the sum of the partner participants. They must have equal length.
	Target  []float64
	Partner []float64

	// DisplayRate is the sample rate of both lanes.
	DisplayRate int

	// FrameInterval is the time between frames in seconds.
	FrameInterval float64

	// WindowStart is the session time of the first lane sample.
	WindowStart float64

	TargetSegment segment.Segment
	Prior         []segment.Segment

	// Prompt replaces the target segment's text. Default: [DefaultPrompt].
	Prompt string
}

// Plan is the resolution-independent description of one animation.
type Plan struct {
	// Target and Partner are the normalised lanes. The partner lane is zero
	// from the target offset on.
	Target  []float64
	Partner []float64

	DisplayRate   int
	FrameInterval float64

	// TargetOffset is the marker position: seconds from the window start to
	// the start of the target segment.
	TargetOffset float64

	Labels []Label
}

// NewPlan normalises the lanes, silences the partner lane from the target
// offset on and places the labels. The input slices are not modified.
func NewPlan(in PlanInput) (*Plan, error) {
	if len(in.Target) != len(in.Partner) {
		return nil, fmt.Errorf("animate: %w: target lane has %d samples, partner lane %d",
			audio.ErrShapeMismatch, len(in.Target), len(in.Partner))
	}
	if len(in.Target) == 0 {
		return nil, fmt.Errorf("animate: %w: empty lanes", audio.ErrWindowOutOfBounds)
	}
	if in.DisplayRate <= 0 || in.FrameInterval <= 0 {
		return nil, errors.New("animate: display rate and frame interval must be positive")
	}
	prompt := in.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	p := &Plan{
		Target:        audio.PeakNormalize(in.Target, TargetCentre, WaveHeight),
		Partner:       audio.PeakNormalize(in.Partner, PartnerCentre, WaveHeight),
		DisplayRate:   in.DisplayRate,
		FrameInterval: in.FrameInterval,
		TargetOffset:  math.Max(0, in.TargetSegment.StartTime-in.WindowStart),
	}

	cut := int(math.Ceil(p.TargetOffset*float64(in.DisplayRate) - eps))
	for i := max(cut, 0); i < len(p.Partner); i++ {
		p.Partner[i] = 0
	}

	target := in.TargetSegment
	target.Text = prompt
	for _, s := range append(append([]segment.Segment(nil), in.Prior...), target) {
		isTarget := s.PID == in.TargetSegment.PID
		y := WaveHeight
		if isTarget {
			y = TargetCentre + WaveHeight
		}
		p.Labels = append(p.Labels, Label{
			X:      s.Midpoint() - in.WindowStart,
			Y:      y,
			Text:   s.Text,
			Target: isTarget,
		})
	}
	return p, nil
}

// Len returns the number of samples per lane.
func (p *Plan) Len() int { return len(p.Target) }

// Duration returns the lane length in seconds.
func (p *Plan) Duration() float64 { return float64(p.Len()) / float64(p.DisplayRate) }

// FPS returns the frame rate.
func (p *Plan) FPS() float64 { return 1 / p.FrameInterval }

// FrameCount returns ceil(Duration / FrameInterval).
func (p *Plan) FrameCount() int {
	return int(math.Ceil(p.Duration()/p.FrameInterval - eps))
}

// RevealLen returns how many samples frame k shows: every sample whose time
// is at most (k+1)·FrameInterval, clamped to the lane length. The last frame
// shows the full lane.
func (p *Plan) RevealLen(k int) int {
	if k < 0 {
		return 0
	}
	if k >= p.FrameCount()-1 {
		return p.Len()
	}
	n := int(math.Floor(float64(k+1)*p.FrameInterval*float64(p.DisplayRate)+eps)) + 1
	return min(n, p.Len())
}

// Reveal returns the visible prefix of both lanes at frame k. The slices
// alias the plan and must not be modified.
func (p *Plan) Reveal(k int) (target, partner []float64) {
	n := p.RevealLen(k)
	return p.Target[:n], p.Partner[:n]
}
