package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/MrWong99/clipforge/internal/config"
	"github.com/MrWong99/clipforge/internal/segment"
)

// boundsTolerance is how far apart (in seconds) a manifest segment and a
// transcript segment may be while still considered the same utterance.
const boundsTolerance = 1e-3

// Transcript returns pid's ordered transcript segments. Segments without a pid
// are attributed to pid.
func (s *Store) Transcript(ctx context.Context, pid string) ([]segment.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	entry, ok := s.transcripts[pid]
	if !ok {
		entry = &lazy[[]segment.Segment]{}
		s.transcripts[pid] = entry
	}
	s.mu.Unlock()
	return entry.get(func() ([]segment.Segment, error) { return s.loadTranscript(pid) })
}

// PreloadTranscripts reads the transcript of every participant. A missing
// transcript is fatal for the session.
func (s *Store) PreloadTranscripts(ctx context.Context) error {
	for _, pid := range s.cast.All() {
		if _, err := s.Transcript(ctx, pid); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadTranscript(pid string) ([]segment.Segment, error) {
	path, err := s.opts.Paths.Transcript(config.TranscriptKey{Session: s.opts.Session, PID: pid})
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: transcript %q", ErrResourceNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("session: read transcript %q: %w", path, err)
	}

	var segs []segment.Segment
	if err := json.Unmarshal(data, &segs); err != nil {
		return nil, fmt.Errorf("session: decode transcript %q: %w", path, err)
	}
	for i := range segs {
		if segs[i].PID == "" {
			segs[i].PID = pid
		}
	}
	return segs, nil
}

// FillText returns a copy of d in which every prior segment with empty text
// takes the text of the matching transcript segment (same speaker, same
// bounds). Priors with no match keep their empty text.
func (s *Store) FillText(ctx context.Context, d segment.Descriptor) (segment.Descriptor, error) {
	out := segment.Descriptor{Target: d.Target, Prior: make([]segment.Segment, len(d.Prior))}
	copy(out.Prior, d.Prior)

	for i, p := range out.Prior {
		if p.Text != "" {
			continue
		}
		segs, err := s.Transcript(ctx, p.PID)
		if err != nil {
			return segment.Descriptor{}, err
		}
		if match, ok := findSegment(segs, p); ok {
			out.Prior[i].Text = match.Text
		}
	}
	return out, nil
}

func findSegment(segs []segment.Segment, want segment.Segment) (segment.Segment, bool) {
	for _, s := range segs {
		if math.Abs(s.StartTime-want.StartTime) <= boundsTolerance &&
			math.Abs(s.EndTime-want.EndTime) <= boundsTolerance {
			return s, true
		}
	}
	return segment.Segment{}, false
}
