package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/clipforge/internal/app"
	"github.com/MrWong99/clipforge/internal/ffmpeg"
	"github.com/MrWong99/clipforge/internal/observe"
	"github.com/MrWong99/clipforge/pkg/audio"
)

// ── helpers ──────────────────────────────────────────────────────────────────

type stubEncoder struct {
	checkErr error
	encodes  atomic.Int32
}

func (s *stubEncoder) EncodeFrames(_ context.Context, path string, _ ffmpeg.Video, _ ffmpeg.FrameSource) error {
	s.encodes.Add(1)
	return os.WriteFile(path, []byte("video"), 0o644)
}

func (s *stubEncoder) Merge(_ context.Context, _, _, out string) error {
	return os.WriteFile(out, []byte("mix"), 0o644)
}

func (s *stubEncoder) Duration(context.Context, string) (float64, error) { return 2, nil }

func (s *stubEncoder) Check(context.Context) error { return s.checkErr }

// workspace is a session S01 on disk plus a config file pointing at it.
type workspace struct {
	dir    string
	config string
}

func newWorkspace(t *testing.T, withManifest bool) *workspace {
	t.Helper()
	const rate = 16000
	ws := &workspace{dir: t.TempDir()}
	ws.write(t, "sessions.csv", "session,pos1,pos2,pos3,pos4,aria_pos\nS01,P01,P02,P03,P04,2\n")
	for i, pid := range []string{"P01", "P02", "P03", "P04"} {
		samples := make([]float64, 10*rate)
		for j := range samples {
			samples[j] = 0.2 * math.Sin(2*math.Pi*float64(110*(i+1))*float64(j)/rate)
		}
		if err := audio.WriteWAV(ws.path("S01_"+pid+".wav"), audio.Track{Samples: samples, SampleRate: rate}); err != nil {
			t.Fatal(err)
		}
		ws.write(t, "S01_"+pid+".json", `[]`)
	}
	if withManifest {
		ws.write(t, "manifest_S01.json", `[
			{"target_segment": {"start_time": 6.0, "end_time": 7.0, "pid": "P01"}, "prior_segments": []},
			{"target_segment": {"start_time": 8.0, "end_time": 10.0, "pid": "P01"}, "prior_segments": []}
		]`)
	}
	ws.config = ws.path("clipforge.yaml")
	ws.write(t, "clipforge.yaml", fmt.Sprintf(`
session: S01
device: aria
target_pid: P01
context_time: 1
video: {width: 160, height: 80}
devices:
  aria: {wearer_column: aria_pos}
paths:
  session_info: %q
  recording: %q
  transcript: %q
  manifest: %q
  sample: %q
catalog: {driver: json, path: %q}
`,
		ws.path("sessions.csv"),
		ws.path("{{.Session}}_{{.PID}}.wav"),
		ws.path("{{.Session}}_{{.PID}}.json"),
		ws.path("manifest_{{.Session}}.json"),
		ws.path("out/{{.Session}}/{{.Kind}}_{{.Segment}}.{{.Ext}}"),
		ws.path("out/catalog.json"),
	))
	return ws
}

func (ws *workspace) path(name string) string { return filepath.Join(ws.dir, name) }

func (ws *workspace) write(t *testing.T, name, body string) {
	t.Helper()
	if err := os.WriteFile(ws.path(name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// execute runs the command tree with args and returns its stdout.
func execute(t *testing.T, enc *stubEncoder, args ...string) (string, error) {
	t.Helper()
	return executeLogged(t, enc, io.Discard, args...)
}

// executeLogged is execute with the command's log output sent to logs.
func executeLogged(t *testing.T, enc *stubEncoder, logs io.Writer, args ...string) (string, error) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	root := NewRootCmd(&Dependencies{
		Version:    "test",
		Out:        &out,
		Err:        logs,
		AppOptions: []app.Option{app.WithEncoder(enc), app.WithMetrics(m)},
	})
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return out.String(), err
}

// ── root ─────────────────────────────────────────────────────────────────────

func TestRoot_MissingConfig(t *testing.T) {
	t.Parallel()
	_, err := execute(t, &stubEncoder{}, "build", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestRoot_BadLogLevel(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t, true)
	_, err := execute(t, &stubEncoder{}, "paths", "-c", ws.config, "--log-level", "loud")
	if err == nil || !strings.Contains(err.Error(), "--log-level") {
		t.Errorf("err = %v, want log level error", err)
	}
}

// ── build ────────────────────────────────────────────────────────────────────

func TestBuild_SecondRunSkips(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t, true)
	enc := &stubEncoder{}

	out, err := execute(t, enc, "build", "-c", ws.config)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(out, "SESSION") || !strings.Contains(out, "S01") {
		t.Errorf("output missing summary:\n%s", out)
	}
	fields := strings.Fields(strings.Split(out, "\n")[1])
	// SESSION DEVICE TARGET SEGMENTS FAILED WRITTEN SKIPPED
	if want := []string{"S01", "aria", "P01", "2", "0", "6", "0"}; strings.Join(fields, " ") != strings.Join(want, " ") {
		t.Errorf("summary row = %v, want %v", fields, want)
	}
	if got := enc.encodes.Load(); got != 2 {
		t.Errorf("encodes = %d, want 2", got)
	}

	out, err = execute(t, enc, "build", "-c", ws.config)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if fields := strings.Fields(strings.Split(out, "\n")[1]); fields[5] != "0" || fields[6] != "6" {
		t.Errorf("second run row = %v, want 0 written 6 skipped", fields)
	}
	if got := enc.encodes.Load(); got != 2 {
		t.Errorf("encodes after second run = %d, want 2", got)
	}

	if _, err := execute(t, enc, "build", "-c", ws.config, "--overwrite"); err != nil {
		t.Fatalf("overwrite build: %v", err)
	}
	if got := enc.encodes.Load(); got != 4 {
		t.Errorf("encodes after overwrite = %d, want 4", got)
	}
}

func TestBuild_OverwriteWarnsOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		inConfig bool
		flag     bool
		want     int
	}{
		{name: "flag", flag: true, want: 1},
		{name: "config", inConfig: true, want: 1},
		{name: "config and flag", inConfig: true, flag: true, want: 1},
		{name: "off", want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ws := newWorkspace(t, true)
			if tc.inConfig {
				body, err := os.ReadFile(ws.config)
				if err != nil {
					t.Fatal(err)
				}
				ws.write(t, "clipforge.yaml", string(body)+"overwrite: true\n")
			}
			args := []string{"build", "-c", ws.config}
			if tc.flag {
				args = append(args, "--overwrite")
			}

			var logs bytes.Buffer
			if _, err := executeLogged(t, &stubEncoder{}, &logs, args...); err != nil {
				t.Fatalf("build: %v", err)
			}
			if got := strings.Count(logs.String(), "overwrite is enabled"); got != tc.want {
				t.Errorf("overwrite warning logged %d times, want %d:\n%s", got, tc.want, logs.String())
			}
		})
	}
}

func TestBuild_UnknownSession(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t, true)
	_, err := execute(t, &stubEncoder{}, "build", "-c", ws.config, "--session", "S09")
	if !errors.Is(err, app.ErrSessionFailed) {
		t.Errorf("err = %v, want ErrSessionFailed", err)
	}
}

// ── doctor ───────────────────────────────────────────────────────────────────

func TestDoctor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkErr error
		wantErr  bool
		wantLine string
	}{
		{name: "all ok", wantLine: "ok    encoder"},
		{name: "encoder missing", checkErr: errors.New("exec: ffmpeg: not found"), wantErr: true, wantLine: "FAIL  encoder: exec: ffmpeg: not found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ws := newWorkspace(t, true)
			out, err := execute(t, &stubEncoder{checkErr: tc.checkErr}, "doctor", "-c", ws.config)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if !strings.Contains(out, tc.wantLine) {
				t.Errorf("output missing %q:\n%s", tc.wantLine, out)
			}
			for _, name := range []string{"output", "roster"} {
				if !strings.Contains(out, "ok    "+name) {
					t.Errorf("output missing ok for %s:\n%s", name, out)
				}
			}
		})
	}
}

// ── paths ────────────────────────────────────────────────────────────────────

func TestPaths(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t, true)
	out, err := execute(t, &stubEncoder{}, "paths", "-c", ws.config)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	for _, want := range []string{
		"P01 (target, slot 1)",
		"P02 (wearer, slot 2)",
		"P03 (partner, slot 3)",
		"2 entries",
		"[8.00, 10.00) 2.00s",
		ws.path("S01_P04.wav"),
		ws.path("out/S01/audio_0.wav"),
		ws.path("out/S01/mix_1.mp4"),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPaths_MissingManifest(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t, false)
	out, err := execute(t, &stubEncoder{}, "paths", "-c", ws.config)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	if !strings.Contains(out, "(missing)") || strings.Contains(out, "audio_0") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

// ── list ─────────────────────────────────────────────────────────────────────

func TestList(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t, true)
	enc := &stubEncoder{}

	out, err := execute(t, enc, "list", "-c", ws.config)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No clips found") {
		t.Errorf("empty catalog output:\n%s", out)
	}

	if _, err := execute(t, enc, "build", "-c", ws.config); err != nil {
		t.Fatalf("build: %v", err)
	}
	out, err = execute(t, enc, "list", "-c", ws.config)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"S01/aria/P01/0", "S01/aria/P01/1", "5.00-7.00", ws.path("out/S01/mix_1.mp4")} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
