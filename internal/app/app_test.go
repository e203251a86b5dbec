package app_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/clipforge/internal/app"
	"github.com/MrWong99/clipforge/internal/catalog"
	"github.com/MrWong99/clipforge/internal/config"
	"github.com/MrWong99/clipforge/internal/ffmpeg"
	"github.com/MrWong99/clipforge/internal/observe"
	"github.com/MrWong99/clipforge/pkg/audio"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const rate = 16000

// stubEncoder writes placeholder files instead of running ffmpeg.
type stubEncoder struct {
	checkErr error
	encodes  atomic.Int32
}

func (s *stubEncoder) EncodeFrames(_ context.Context, path string, _ ffmpeg.Video, src ffmpeg.FrameSource) error {
	if _, err := src.Frame(0); err != nil {
		return err
	}
	s.encodes.Add(1)
	return os.WriteFile(path, []byte("video"), 0o644)
}

func (s *stubEncoder) Merge(_ context.Context, _, _, out string) error {
	return os.WriteFile(out, []byte("mix"), 0o644)
}

func (s *stubEncoder) Duration(context.Context, string) (float64, error) { return 2, nil }

func (s *stubEncoder) Check(context.Context) error { return s.checkErr }

// writeSession lays out session id with four participants, 10 s each, and a
// one-entry manifest for P01.
func writeSession(t *testing.T, dir, id string) {
	t.Helper()
	for i, pid := range []string{"P01", "P02", "P03", "P04"} {
		samples := make([]float64, 10*rate)
		for j := range samples {
			samples[j] = 0.2 * math.Sin(2*math.Pi*float64(110*(i+1))*float64(j)/rate)
		}
		path := filepath.Join(dir, id+"_"+pid+".wav")
		if err := audio.WriteWAV(path, audio.Track{Samples: samples, SampleRate: rate}); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		writeFile(t, filepath.Join(dir, id+"_"+pid+".json"), `[{"start_time": 4.0, "end_time": 5.5, "text": "hello"}]`)
	}
	writeFile(t, filepath.Join(dir, "manifest_"+id+".json"), `[{
		"target_segment": {"start_time": 8.0, "end_time": 10.0, "pid": "P01"},
		"prior_segments": [{"start_time": 4.0, "end_time": 5.5, "pid": "P02"}]
	}]`)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// testConfig returns a config over dir whose roster lists S01 and S02. Only
// the sessions passed to writeSession have inputs on disk.
func testConfig(t *testing.T, dir, extra string) *config.Config {
	t.Helper()
	writeFile(t, filepath.Join(dir, "sessions.csv"),
		"session,pos1,pos2,pos3,pos4,aria_pos\nS01,P01,P02,P03,P04,2\nS02,P01,P02,P03,P04,2\n")
	yaml := fmt.Sprintf(`
session: S01
device: aria
target_pid: P01
context_time: 0
workers: 2
video: {width: 160, height: 80}
devices:
  aria: {wearer_column: aria_pos}
paths:
  session_info: %q
  recording: %q
  transcript: %q
  manifest: %q
  sample: %q
%s
`,
		filepath.Join(dir, "sessions.csv"),
		filepath.Join(dir, "{{.Session}}_{{.PID}}.wav"),
		filepath.Join(dir, "{{.Session}}_{{.PID}}.json"),
		filepath.Join(dir, "manifest_{{.Session}}.json"),
		filepath.Join(dir, "out", "{{.Session}}", "{{.Kind}}_{{.Segment}}.{{.Ext}}"),
		extra,
	)
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, enc app.Encoder, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithEncoder(enc), app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), nil); err == nil {
		t.Error("nil config: expected error")
	}

	dir := t.TempDir()
	cfg := testConfig(t, dir, "catalog: {driver: none}")
	cfg.Device = "ct"
	if _, err := app.New(context.Background(), cfg, app.WithEncoder(&stubEncoder{})); err == nil {
		t.Error("unknown device: expected error")
	}
}

func TestNew_BadCatalogPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "catalog.json"), "{not json")
	cfg := testConfig(t, dir, fmt.Sprintf("catalog: {driver: json, path: %q}", filepath.Join(dir, "catalog.json")))

	_, err := app.New(context.Background(), cfg, app.WithEncoder(&stubEncoder{}))
	if err == nil || !strings.Contains(err.Error(), "open catalog") {
		t.Errorf("err = %v, want open catalog error", err)
	}
}

// ── Run ──────────────────────────────────────────────────────────────────────

func TestRun_DefaultSessionRecordsCatalog(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSession(t, dir, "S01")
	catPath := filepath.Join(dir, "out", "catalog.json")
	cfg := testConfig(t, dir, fmt.Sprintf("catalog: {driver: json, path: %q}", catPath))

	enc := &stubEncoder{}
	a := newApp(t, cfg, enc)
	reports, err := a.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reports) != 1 || reports[0].Session != "S01" || len(reports[0].Failed()) != 0 {
		t.Fatalf("reports = %+v", reports)
	}
	if got := enc.encodes.Load(); got != 1 {
		t.Errorf("encodes = %d, want 1", got)
	}

	entries, err := a.Catalog().List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("catalog has %d entries, want 1", len(entries))
	}
	if entries[0].RunID != a.RunID() || entries[0].Session != "S01" || entries[0].Frames != 200 {
		t.Errorf("entry = %+v", entries[0])
	}

	// The catalog file survives the app.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	reopened, err := catalog.OpenJSON(catPath)
	if err != nil {
		t.Fatalf("OpenJSON: %v", err)
	}
	if got, _ := reopened.List(context.Background()); len(got) != 1 {
		t.Errorf("reopened catalog has %d entries, want 1", len(got))
	}
}

func TestRun_FailedSessionDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSession(t, dir, "S01")
	cfg := testConfig(t, dir, "catalog: {driver: none}")

	a := newApp(t, cfg, &stubEncoder{})
	reports, err := a.Run(context.Background(), []string{"S02", "S01"})
	if !errors.Is(err, app.ErrSessionFailed) {
		t.Fatalf("err = %v, want ErrSessionFailed", err)
	}
	if !strings.Contains(err.Error(), "S02") || strings.Contains(err.Error(), "S01") {
		t.Errorf("err = %q, want only S02 named", err)
	}
	if len(reports) != 1 || reports[0].Session != "S01" {
		t.Errorf("reports = %+v, want S01 only", reports)
	}
}

func TestRun_NoSession(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, t.TempDir(), "catalog: {driver: none}")
	cfg.Session = ""

	a := newApp(t, cfg, &stubEncoder{})
	if _, err := a.Run(context.Background(), nil); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSession(t, dir, "S01")
	cfg := testConfig(t, dir, "catalog: {driver: none}")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newApp(t, cfg, &stubEncoder{})
	if _, err := a.Run(ctx, []string{"S01", "S02"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// ── ops endpoint ─────────────────────────────────────────────────────────────

func TestRun_ServesOpsEndpoint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSession(t, dir, "S01")
	cfg := testConfig(t, dir, "catalog: {driver: none}\nmetrics: {listen_addr: \"127.0.0.1:0\"}")
	// /readyz probes the encoder binaries through the stub and the output root.

	a := newApp(t, cfg, &stubEncoder{})
	if a.OpsAddr() != "" {
		t.Fatal("ops endpoint running before Run")
	}
	if _, err := a.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	addr := a.OpsAddr()
	if addr == "" {
		t.Fatal("ops endpoint not started")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := client.Get("http://" + addr + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, resp.StatusCode)
		}
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := client.Get("http://" + addr + "/healthz"); err == nil {
		t.Error("ops endpoint still serving after Shutdown")
	}
}

func TestHealth_ReportsEncoderFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := testConfig(t, dir, "catalog: {driver: none}")

	a := newApp(t, cfg, &stubEncoder{checkErr: errors.New("ffmpeg: not found")})
	rep := a.Health().Evaluate(context.Background())
	if rep.OK() {
		t.Fatal("report OK with a failing encoder")
	}
	for _, res := range rep {
		switch res.Name {
		case "encoder":
			if res.Err == nil {
				t.Error("encoder check passed")
			}
		case "output", "roster":
			if res.Err != nil {
				t.Errorf("%s check: %v", res.Name, res.Err)
			}
		default:
			t.Errorf("unexpected check %q", res.Name)
		}
	}
}

// ── Shutdown ─────────────────────────────────────────────────────────────────

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, t.TempDir(), "catalog: {driver: none}")
	a := newApp(t, cfg, &stubEncoder{})
	for i := range 2 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown #%d: %v", i+1, err)
		}
	}
}
