package config

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// ArtifactKind names one of the three artifacts produced per clip.
type ArtifactKind string

const (
	ArtifactAudio ArtifactKind = "audio"
	ArtifactVideo ArtifactKind = "video"
	ArtifactMix   ArtifactKind = "mix"
)

// Ext returns the file extension used for the artifact kind.
func (k ArtifactKind) Ext() string {
	if k == ArtifactAudio {
		return "wav"
	}
	return "mp4"
}

// RecordingKey identifies a participant recording on one device.
type RecordingKey struct {
	Session string
	Device  string
	PID     string
}

// TranscriptKey identifies a participant transcript.
type TranscriptKey struct {
	Session string
	PID     string
}

// ManifestKey identifies the manifest of one target participant.
type ManifestKey struct {
	Session string
	Device  string
	PID     string
}

// SampleKey identifies one clip artifact.
type SampleKey struct {
	Kind    ArtifactKind
	Session string
	Device  string
	PID     string
	Segment int
	Ext     string
}

// Paths renders file paths from the configured templates. Construct it with
// [NewPaths]; the zero value is not usable.
type Paths struct {
	sessionInfo string
	sampleText  string
	recording   *template.Template
	transcript  *template.Template
	manifest    *template.Template
	sample      *template.Template
}

// NewPaths parses every template in pc and dry-runs it against a sample key so
// that unknown fields are reported at load time rather than mid-run.
func NewPaths(pc PathsConfig) (*Paths, error) {
	var errs []error
	parse := func(name, text string, probe any) *template.Template {
		if text == "" {
			errs = append(errs, fmt.Errorf("paths.%s is required", name))
			return nil
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			errs = append(errs, fmt.Errorf("paths.%s: %w", name, err))
			return nil
		}
		if _, err := execute(tmpl, probe); err != nil {
			errs = append(errs, fmt.Errorf("paths.%s: %w", name, err))
			return nil
		}
		return tmpl
	}

	p := &Paths{sessionInfo: pc.SessionInfo, sampleText: pc.Sample}
	if pc.SessionInfo == "" {
		errs = append(errs, errors.New("paths.session_info is required"))
	}
	p.recording = parse("recording", pc.Recording, RecordingKey{Session: "s", Device: "d", PID: "p"})
	p.transcript = parse("transcript", pc.Transcript, TranscriptKey{Session: "s", PID: "p"})
	p.manifest = parse("manifest", pc.Manifest, ManifestKey{Session: "s", Device: "d", PID: "p"})
	p.sample = parse("sample", pc.Sample, SampleKey{Kind: ArtifactMix, Session: "s", Device: "d", PID: "p", Ext: "mp4"})

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// SessionInfo returns the roster CSV path.
func (p *Paths) SessionInfo() string { return p.sessionInfo }

// Recording returns the recording path for k.
func (p *Paths) Recording(k RecordingKey) (string, error) { return execute(p.recording, k) }

// Transcript returns the transcript path for k.
func (p *Paths) Transcript(k TranscriptKey) (string, error) { return execute(p.transcript, k) }

// Manifest returns the manifest path for k.
func (p *Paths) Manifest(k ManifestKey) (string, error) { return execute(p.manifest, k) }

// Sample returns the artifact path for k. An empty Ext is filled in from Kind.
func (p *Paths) Sample(k SampleKey) (string, error) {
	if k.Ext == "" {
		k.Ext = k.Kind.Ext()
	}
	return execute(p.sample, k)
}

// SampleRoot returns the directory every artifact path lies under: the
// directory part of the sample template up to its first action, or "." when
// the template starts with one.
func (p *Paths) SampleRoot() string {
	prefix, _, _ := strings.Cut(p.sampleText, "{{")
	if prefix == "" {
		return "."
	}
	return filepath.Dir(prefix)
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s path: %w", tmpl.Name(), err)
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("render %s path: template produced an empty path", tmpl.Name())
	}
	return buf.String(), nil
}
