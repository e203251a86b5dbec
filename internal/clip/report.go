package clip

import (
	"errors"
	"fmt"

	"github.com/MrWong99/clipforge/internal/config"
	"github.com/MrWong99/clipforge/internal/observe"
)

// StageError records the pipeline stage at which a segment was abandoned.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("clip: %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// Artifact is the outcome of one artifact of one segment.
type Artifact struct {
	Kind config.ArtifactKind
	Path string

	// Outcome is one of observe.OutcomeWritten, OutcomeSkipped or OutcomeFailed.
	Outcome string
}

// SegmentResult is the outcome of one manifest entry.
type SegmentResult struct {
	Index int

	// WindowStart and WindowEnd are the aligned clip bounds in session time.
	// Both are zero when the window could not be computed.
	WindowStart float64
	WindowEnd   float64

	Artifacts []Artifact

	// Err is nil for a finished segment. A *StageError names the failing
	// stage; unstarted segments of a cancelled run carry the context error.
	Err error
}

// Stage returns the failing stage, or "" for a finished segment.
func (r SegmentResult) Stage() string {
	var se *StageError
	if errors.As(r.Err, &se) {
		return se.Stage
	}
	return ""
}

// Report summarises one session run.
type Report struct {
	RunID   string
	Session string
	Device  string
	Target  string

	// Segments holds one result per manifest entry, in manifest order.
	Segments []SegmentResult
}

// Failed returns the segments that did not finish.
func (r *Report) Failed() []SegmentResult {
	var out []SegmentResult
	for _, s := range r.Segments {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Count returns how many artifacts of kind ended with outcome. An empty kind
// matches every kind.
func (r *Report) Count(kind config.ArtifactKind, outcome string) int {
	n := 0
	for _, s := range r.Segments {
		for _, a := range s.Artifacts {
			if (kind == "" || a.Kind == kind) && a.Outcome == outcome {
				n++
			}
		}
	}
	return n
}

// Summary returns slog attributes describing the report.
func (r *Report) Summary() []any {
	return []any{
		"run_id", r.RunID,
		"session", r.Session,
		"device", r.Device,
		"target", r.Target,
		"segments", len(r.Segments),
		"failed", len(r.Failed()),
		"written", r.Count("", observe.OutcomeWritten),
		"skipped", r.Count("", observe.OutcomeSkipped),
	}
}
