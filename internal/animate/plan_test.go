package animate_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/clipforge/internal/animate"
	"github.com/MrWong99/clipforge/internal/segment"
	"github.com/MrWong99/clipforge/pkg/audio"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func sine(n int, rate, hz, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*hz*float64(i)/rate)
	}
	return out
}

// clipInput is a 7 s window at 500 Hz starting at session time 3 s, target
// segment [8, 10).
func clipInput() animate.PlanInput {
	return animate.PlanInput{
		Target:        sine(3500, 500, 3, 0.4),
		Partner:       sine(3500, 500, 5, 0.1),
		DisplayRate:   500,
		FrameInterval: 0.01,
		WindowStart:   3,
		TargetSegment: segment.Segment{StartTime: 8, EndTime: 10, PID: "P01", Text: "the answer"},
		Prior: []segment.Segment{
			{StartTime: 4, EndTime: 5.5, PID: "P02", Text: "hello there"},
			{StartTime: 6, EndTime: 7.5, PID: "P01", Text: "hi"},
		},
	}
}

func mustPlan(t *testing.T, in animate.PlanInput) *animate.Plan {
	t.Helper()
	p, err := animate.NewPlan(in)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return p
}

// ── lanes ───────────────────────────────────────────────────────────────────

func TestNewPlan_LaneNormalisation(t *testing.T) {
	t.Parallel()
	p := mustPlan(t, clipInput())

	var lo, hi float64 = math.Inf(1), math.Inf(-1)
	for _, v := range p.Target {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if math.Abs(hi-2.8) > 1e-3 || math.Abs(lo-1.2) > 1e-3 {
		t.Errorf("target lane range = [%v, %v], want [1.2, 2.8]", lo, hi)
	}

	var peak float64
	for _, v := range p.Partner {
		peak = math.Max(peak, math.Abs(v))
	}
	if math.Abs(peak-0.8) > 1e-9 {
		t.Errorf("partner peak = %v, want 0.8", peak)
	}
}

func TestNewPlan_PartnerSilencedFromTargetOffset(t *testing.T) {
	t.Parallel()
	p := mustPlan(t, clipInput())

	if p.TargetOffset != 5 {
		t.Fatalf("target offset = %v, want 5", p.TargetOffset)
	}
	cut := 5 * 500
	for i := cut; i < len(p.Partner); i++ {
		if p.Partner[i] != 0 {
			t.Fatalf("partner[%d] = %v, want exactly 0", i, p.Partner[i])
		}
	}
	nonZero := false
	for _, v := range p.Partner[:cut] {
		if v != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Error("partner lane silenced before the target offset")
	}
}

func TestNewPlan_OffsetFollowsWindow(t *testing.T) {
	t.Parallel()

	// Window clamped at session start: target at 2 s with 5 s context.
	in := clipInput()
	in.WindowStart = 0
	in.TargetSegment = segment.Segment{StartTime: 2, EndTime: 9, PID: "P01"}
	p := mustPlan(t, in)
	if p.TargetOffset != 2 {
		t.Errorf("target offset = %v, want 2", p.TargetOffset)
	}
	if p.Partner[999] == 0 && p.Partner[998] == 0 && p.Partner[997] == 0 {
		t.Error("partner lane silenced before 2 s")
	}
	if p.Partner[1000] != 0 {
		t.Errorf("partner[1000] = %v, want 0", p.Partner[1000])
	}
}

func TestNewPlan_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := clipInput()
	before := in.Partner[3000]
	mustPlan(t, in)
	if in.Partner[3000] != before {
		t.Error("input partner lane modified")
	}
	if in.TargetSegment.Text != "the answer" {
		t.Error("input target text modified")
	}
}

func TestNewPlan_SilentLanes(t *testing.T) {
	t.Parallel()
	in := clipInput()
	in.Partner = make([]float64, len(in.Target))
	p := mustPlan(t, in)
	for _, v := range p.Partner {
		if v != animate.PartnerCentre {
			t.Fatalf("silent partner lane value %v, want flat at centre", v)
		}
	}
}

func TestNewPlan_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*animate.PlanInput)
		want   error
	}{
		{"length mismatch", func(in *animate.PlanInput) { in.Partner = in.Partner[:10] }, audio.ErrShapeMismatch},
		{"empty", func(in *animate.PlanInput) { in.Target, in.Partner = nil, nil }, audio.ErrWindowOutOfBounds},
		{"zero rate", func(in *animate.PlanInput) { in.DisplayRate = 0 }, nil},
		{"zero interval", func(in *animate.PlanInput) { in.FrameInterval = 0 }, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := clipInput()
			tc.mutate(&in)
			_, err := animate.NewPlan(in)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

// ── labels ──────────────────────────────────────────────────────────────────

func TestNewPlan_Labels(t *testing.T) {
	t.Parallel()
	p := mustPlan(t, clipInput())

	want := []animate.Label{
		{X: 1.75, Y: 0.8, Text: "hello there", Target: false},
		{X: 3.75, Y: 2.8, Text: "hi", Target: true},
		{X: 6, Y: 2.8, Text: "Transcribe Here", Target: true},
	}
	if len(p.Labels) != len(want) {
		t.Fatalf("labels = %+v", p.Labels)
	}
	for i, w := range want {
		g := p.Labels[i]
		if math.Abs(g.X-w.X) > 1e-9 || math.Abs(g.Y-w.Y) > 1e-9 || g.Text != w.Text || g.Target != w.Target {
			t.Errorf("label %d = %+v, want %+v", i, g, w)
		}
	}
}

func TestNewPlan_CustomPrompt(t *testing.T) {
	t.Parallel()
	in := clipInput()
	in.Prompt = "Type what comes next"
	p := mustPlan(t, in)
	if got := p.Labels[len(p.Labels)-1].Text; got != "Type what comes next" {
		t.Errorf("prompt = %q", got)
	}
}

// ── frames ──────────────────────────────────────────────────────────────────

func TestPlan_FrameCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples int
		want    int
	}{
		{"2 s excerpt", 1000, 200},
		{"7 s excerpt", 3500, 700},
		{"partial last frame", 1002, 201},
		{"single sample", 1, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := clipInput()
			in.Target, in.Partner = sine(tc.samples, 500, 3, 1), sine(tc.samples, 500, 4, 1)
			p := mustPlan(t, in)
			if got := p.FrameCount(); got != tc.want {
				t.Errorf("frames = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPlan_Reveal(t *testing.T) {
	t.Parallel()
	p := mustPlan(t, clipInput())

	// Five display samples per frame, inclusive of the sample at the frame time.
	if got := p.RevealLen(0); got != 6 {
		t.Errorf("frame 0 reveals %d, want 6", got)
	}
	if got := p.RevealLen(99); got != 501 {
		t.Errorf("frame 99 reveals %d, want 501", got)
	}

	prev := 0
	for k := range p.FrameCount() {
		n := p.RevealLen(k)
		if n < prev {
			t.Fatalf("frame %d reveals %d < %d", k, n, prev)
		}
		prev = n
	}

	last := p.FrameCount() - 1
	target, partner := p.Reveal(last)
	if len(target) != p.Len() || len(partner) != p.Len() {
		t.Errorf("last frame reveals %d/%d, want %d", len(target), len(partner), p.Len())
	}
	if p.RevealLen(-1) != 0 {
		t.Error("negative frame should reveal nothing")
	}
}

func TestPlan_DurationMatchesFrames(t *testing.T) {
	t.Parallel()
	p := mustPlan(t, clipInput())
	got := float64(p.FrameCount()) * p.FrameInterval
	if math.Abs(got-p.Duration()) > 1e-9 {
		t.Errorf("frames × interval = %v, duration = %v", got, p.Duration())
	}
	if p.FPS() != 100 {
		t.Errorf("fps = %v, want 100", p.FPS())
	}
}
