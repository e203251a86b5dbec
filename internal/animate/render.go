package animate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Plot y range in lane units: partner lane around 0, target lane around 2,
// with headroom for the labels above the target lane.
const (
	yMin = -1.2
	yMax = 3.6
)

// Margins in pixels around the plot area.
const (
	marginLeft   = 70
	marginRight  = 15
	marginTop    = 10
	marginBottom = 42
)

const fontSize = 12

var (
	targetColor  = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	partnerColor = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
	markerColor  = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	axisColor    = color.Black
)

// parsedFont is shared; faces built from it are not.
var parsedFont = sync.OnceValues(func() (*truetype.Font, error) {
	return truetype.Parse(goregular.TTF)
})

func newFace() (font.Face, error) {
	f, err := parsedFont()
	if err != nil {
		return nil, fmt.Errorf("animate: parse font: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: fontSize}), nil
}

// Renderer rasterises the frames of one plan. The static parts (axes, faint
// full waveforms, marker and labels) are drawn once; each frame copies them
// and strokes the two revealed lines on top. Not safe for concurrent use;
// create one per clip.
type Renderer struct {
	plan   *Plan
	width  int
	height int

	background *image.RGBA
	frame      *image.RGBA
	dc         *gg.Context
}

// NewRenderer prepares the background of plan at width×height pixels.
func NewRenderer(plan *Plan, width, height int) (*Renderer, error) {
	if width <= marginLeft+marginRight || height <= marginTop+marginBottom {
		return nil, fmt.Errorf("animate: frame size %dx%d too small", width, height)
	}
	face, err := newFace()
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		plan:       plan,
		width:      width,
		height:     height,
		background: image.NewRGBA(image.Rect(0, 0, width, height)),
		frame:      image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	r.drawBackground(face)

	r.dc = gg.NewContextForRGBA(r.frame)
	r.dc.SetLineWidth(1.5)
	return r, nil
}

// Len returns the number of frames.
func (r *Renderer) Len() int { return r.plan.FrameCount() }

// Frame renders frame k. The returned image is reused by the next call.
func (r *Renderer) Frame(k int) (*image.RGBA, error) {
	if k < 0 || k >= r.Len() {
		return nil, fmt.Errorf("animate: frame %d out of range [0, %d)", k, r.Len())
	}
	copy(r.frame.Pix, r.background.Pix)
	target, partner := r.plan.Reveal(k)
	r.polyline(r.dc, target, targetColor)
	r.polyline(r.dc, partner, partnerColor)
	return r.frame, nil
}

// px maps plot coordinates (seconds, lane units) to pixels.
func (r *Renderer) px(t, y float64) (float64, float64) {
	plotW := float64(r.width - marginLeft - marginRight)
	plotH := float64(r.height - marginTop - marginBottom)
	x := marginLeft + t/r.plan.Duration()*plotW
	return x, marginTop + (yMax-y)/(yMax-yMin)*plotH
}

func (r *Renderer) polyline(dc *gg.Context, samples []float64, c color.Color) {
	if len(samples) < 2 {
		return
	}
	rate := float64(r.plan.DisplayRate)
	dc.NewSubPath()
	for i, s := range samples {
		x, y := r.px(float64(i)/rate, s)
		dc.LineTo(x, y)
	}
	dc.SetColor(c)
	dc.Stroke()
}

func (r *Renderer) drawBackground(face font.Face) {
	draw.Draw(r.background, r.background.Bounds(), image.White, image.Point{}, draw.Src)
	dc := gg.NewContextForRGBA(r.background)
	dc.SetFontFace(face)

	// Faint full waveforms.
	dc.SetLineWidth(1)
	r.polyline(dc, r.plan.Target, faded(targetColor))
	r.polyline(dc, r.plan.Partner, faded(partnerColor))

	// Marker at the start of the target segment.
	x0, y0 := r.px(r.plan.TargetOffset, -1)
	x1, y1 := r.px(r.plan.TargetOffset, 3)
	dc.SetColor(markerColor)
	dc.SetLineWidth(1.5)
	dc.DrawLine(x0, y0, x1, y1)
	dc.Stroke()

	// Axes.
	left, bottom := r.px(0, yMin)
	right, top := r.px(r.plan.Duration(), yMax)
	dc.SetColor(axisColor)
	dc.SetLineWidth(1)
	dc.DrawRectangle(left, top, right-left, bottom-top)
	dc.Stroke()

	// Lane names on the y axis.
	for _, lane := range []struct {
		name string
		y    float64
	}{{"Partner", PartnerCentre}, {"Target", TargetCentre}} {
		_, y := r.px(0, lane.y)
		dc.DrawLine(left-4, y, left, y)
		dc.Stroke()
		dc.DrawStringAnchored(lane.name, left-8, y, 1, 0.35)
	}

	// Time ticks.
	step := tickStep(r.plan.Duration())
	for t := 0.0; t <= r.plan.Duration()+eps; t += step {
		x, _ := r.px(t, yMin)
		dc.DrawLine(x, bottom, x, bottom+4)
		dc.Stroke()
		dc.DrawStringAnchored(strconv.FormatFloat(t, 'g', 4, 64), x, bottom+6, 0.5, 1)
	}
	dc.DrawStringAnchored("Time/s", (left+right)/2, float64(r.height)-4, 0.5, 0)

	// Transcript labels, bottom-centred on their anchor.
	for _, l := range r.plan.Labels {
		if l.Text == "" {
			continue
		}
		x, y := r.px(l.X, l.Y)
		dc.DrawStringAnchored(l.Text, x, y, 0.5, 0)
	}
}

func faded(c color.RGBA) color.RGBA {
	// Half-transparent colour over white, premultiplied.
	return color.RGBA{R: c.R / 2, G: c.G / 2, B: c.B / 2, A: 0x80}
}

// tickStep picks a readable tick spacing for a time axis of d seconds.
func tickStep(d float64) float64 {
	for _, s := range []float64{0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 30, 60} {
		if d/s <= 10 {
			return s
		}
	}
	return math.Ceil(d/10/60) * 60
}
