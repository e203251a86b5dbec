// Package segment resolves a target participant's manifest into the ordered
// list of segment descriptors the clip pipeline renders, one clip per
// descriptor.
package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrManifestNotFound is returned when the manifest file does not exist.
	ErrManifestNotFound = errors.New("segment: manifest not found")

	// ErrManifestMalformed is returned when the manifest cannot be decoded into
	// descriptors or a descriptor is structurally invalid.
	ErrManifestMalformed = errors.New("segment: manifest malformed")
)

// Segment is a contiguous span of speech attributed to one participant.
type Segment struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	PID       string  `json:"pid"`
	Text      string  `json:"text"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.EndTime - s.StartTime }

// Midpoint returns the temporal centre of the segment.
func (s Segment) Midpoint() float64 { return (s.StartTime + s.EndTime) / 2 }

// Descriptor is one manifest entry: the utterance the viewer must transcribe
// and the earlier utterances shown as context.
type Descriptor struct {
	Target Segment   `json:"target_segment"`
	Prior  []Segment `json:"prior_segments"`
}

// Index is the ordered descriptor list of one manifest.
type Index struct {
	// Path is the manifest file the index was read from.
	Path        string
	Descriptors []Descriptor
}

// Len returns the number of descriptors.
func (ix *Index) Len() int { return len(ix.Descriptors) }

// Load reads the manifest at path. Descriptors are returned in file order,
// without filtering.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrManifestNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("segment: open %q: %w", path, err)
	}
	defer f.Close()

	descs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("segment: load %q: %w", path, err)
	}
	return &Index{Path: path, Descriptors: descs}, nil
}

// Decode parses a manifest from r and validates every descriptor.
func Decode(r io.Reader) ([]Descriptor, error) {
	var descs []Descriptor
	if err := json.NewDecoder(r).Decode(&descs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestMalformed, err)
	}
	if descs == nil {
		return nil, fmt.Errorf("%w: manifest is not a list", ErrManifestMalformed)
	}

	var errs []error
	for i, d := range descs {
		if err := validate(d); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
	}
	return descs, nil
}

func validate(d Descriptor) error {
	if err := validateSegment("target_segment", d.Target); err != nil {
		return err
	}
	for j, p := range d.Prior {
		if err := validateSegment(fmt.Sprintf("prior_segments[%d]", j), p); err != nil {
			return err
		}
		if p.EndTime > d.Target.EndTime {
			return fmt.Errorf("prior_segments[%d] ends at %.3f after the target ends at %.3f",
				j, p.EndTime, d.Target.EndTime)
		}
	}
	return nil
}

func validateSegment(name string, s Segment) error {
	switch {
	case s.PID == "":
		return fmt.Errorf("%s.pid is required", name)
	case s.StartTime < 0:
		return fmt.Errorf("%s.start_time %.3f is negative", name, s.StartTime)
	case s.EndTime <= s.StartTime:
		return fmt.Errorf("%s end_time %.3f is not after start_time %.3f", name, s.EndTime, s.StartTime)
	}
	return nil
}
