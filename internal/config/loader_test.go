package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/clipforge/internal/config"
)

func mustPaths(t *testing.T, pc config.PathsConfig) *config.Paths {
	t.Helper()
	p, err := config.NewPaths(pc)
	if err != nil {
		t.Fatalf("NewPaths: %v", err)
	}
	return p
}

var testPaths = config.PathsConfig{
	SessionInfo: "data/sessions.csv",
	Recording:   "data/{{.Device}}/{{.Session}}/{{.PID}}.wav",
	Transcript:  "data/transcripts/{{.Session}}/{{.PID}}.json",
	Manifest:    "data/manifests/{{.Device}}/{{.Session}}/{{.PID}}.json",
	Sample:      "out/{{.Session}}/{{.Device}}/{{.PID}}/{{.Kind}}_{{.Segment}}.{{.Ext}}",
}

func TestPaths_Render(t *testing.T) {
	t.Parallel()
	p := mustPaths(t, testPaths)

	tests := []struct {
		name string
		got  func() (string, error)
		want string
	}{
		{"recording", func() (string, error) {
			return p.Recording(config.RecordingKey{Session: "S01", Device: "aria", PID: "P02"})
		}, "data/aria/S01/P02.wav"},
		{"transcript", func() (string, error) {
			return p.Transcript(config.TranscriptKey{Session: "S01", PID: "P02"})
		}, "data/transcripts/S01/P02.json"},
		{"manifest", func() (string, error) {
			return p.Manifest(config.ManifestKey{Session: "S01", Device: "ct", PID: "P02"})
		}, "data/manifests/ct/S01/P02.json"},
		{"audio sample", func() (string, error) {
			return p.Sample(config.SampleKey{Kind: config.ArtifactAudio, Session: "S01", Device: "aria", PID: "P02", Segment: 3})
		}, "out/S01/aria/P02/audio_3.wav"},
		{"mix sample", func() (string, error) {
			return p.Sample(config.SampleKey{Kind: config.ArtifactMix, Session: "S01", Device: "aria", PID: "P02", Segment: 0})
		}, "out/S01/aria/P02/mix_0.mp4"},
		{"explicit ext", func() (string, error) {
			return p.Sample(config.SampleKey{Kind: config.ArtifactVideo, Session: "S01", Device: "aria", PID: "P02", Segment: 1, Ext: "mkv"})
		}, "out/S01/aria/P02/video_1.mkv"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.got()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}

	if p.SessionInfo() != "data/sessions.csv" {
		t.Errorf("session info: got %q", p.SessionInfo())
	}
}

func TestNewPaths_UnknownField(t *testing.T) {
	t.Parallel()
	pc := testPaths
	pc.Transcript = "{{.Session}}/{{.Device}}/{{.PID}}.json"
	_, err := config.NewPaths(pc)
	if err == nil || !strings.Contains(err.Error(), "paths.transcript") {
		t.Fatalf("err = %v, want paths.transcript error", err)
	}
}

func TestNewPaths_ParseError(t *testing.T) {
	t.Parallel()
	pc := testPaths
	pc.Sample = "out/{{.Kind"
	_, err := config.NewPaths(pc)
	if err == nil || !strings.Contains(err.Error(), "paths.sample") {
		t.Fatalf("err = %v, want paths.sample error", err)
	}
}

func TestNewPaths_Missing(t *testing.T) {
	t.Parallel()
	_, err := config.NewPaths(config.PathsConfig{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"session_info", "recording", "transcript", "manifest", "sample"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestPaths_SampleRoot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sample string
		want   string
	}{
		{testPaths.Sample, "out"},
		{"clips/run1/{{.Session}}_{{.Kind}}_{{.Segment}}.{{.Ext}}", "clips/run1"},
		{"/abs/out/s_{{.Session}}/{{.Kind}}{{.Segment}}.{{.Ext}}", "/abs/out"},
		{"{{.Session}}/{{.Kind}}_{{.Segment}}.{{.Ext}}", "."},
	}
	for _, tc := range tests {
		pc := testPaths
		pc.Sample = tc.sample
		if got := mustPaths(t, pc).SampleRoot(); got != tc.want {
			t.Errorf("SampleRoot(%q) = %q, want %q", tc.sample, got, tc.want)
		}
	}
}

func TestArtifactKind_Ext(t *testing.T) {
	t.Parallel()
	if config.ArtifactAudio.Ext() != "wav" || config.ArtifactVideo.Ext() != "mp4" || config.ArtifactMix.Ext() != "mp4" {
		t.Error("unexpected artifact extensions")
	}
}
