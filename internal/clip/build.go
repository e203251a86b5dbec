package clip

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/clipforge/internal/animate"
	"github.com/MrWong99/clipforge/internal/catalog"
	"github.com/MrWong99/clipforge/internal/config"
	"github.com/MrWong99/clipforge/internal/fsutil"
	"github.com/MrWong99/clipforge/internal/observe"
	"github.com/MrWong99/clipforge/internal/segment"
	"github.com/MrWong99/clipforge/internal/session"
	"github.com/MrWong99/clipforge/pkg/audio"
)

// artifactOrder is the order in which a segment's artifacts are produced.
var artifactOrder = []config.ArtifactKind{config.ArtifactAudio, config.ArtifactVideo, config.ArtifactMix}

// build is the state of one segment while it moves through the stages.
type build struct {
	a     *Assembler
	store *session.Store
	index int
	desc  segment.Descriptor
	res   SegmentResult
	log   *slog.Logger

	paths  map[config.ArtifactKind]string
	frames int
}

// Window computes the clip bounds of d: from lead seconds before the
// target starts to the target's end, clamped to the track and trimmed to a
// whole number of video frames at the working rate. quantum is the sample
// count every window length must be a multiple of.
func Window(d segment.Descriptor, lead, duration float64, rate, quantum int) (start, end float64, err error) {
	return audio.AlignWindow(d.Target.StartTime-lead, d.Target.EndTime, duration, rate, quantum)
}

// Quantum returns the sample count of the smallest window that spans whole
// video frames and whole display samples.
func Quantum(rate int, frameInterval float64, decimation int) int {
	frame := int(math.Round(float64(rate) * frameInterval))
	return audio.LCM(max(frame, 1), max(decimation, 1))
}

func (b *build) run(ctx context.Context) error {
	if err := b.resolve(ctx); err != nil {
		b.fail(ctx, artifactOrder...)
		return stageErr(observe.StageLoad, err)
	}

	audioWritten, err := b.artifact(ctx, config.ArtifactAudio, observe.StageAudio, false, b.writeAudio)
	if err != nil {
		b.fail(ctx, config.ArtifactAudio, config.ArtifactVideo, config.ArtifactMix)
		return err
	}
	videoWritten, err := b.artifact(ctx, config.ArtifactVideo, observe.StageVideo, false, b.writeVideo)
	if err != nil {
		b.fail(ctx, config.ArtifactVideo, config.ArtifactMix)
		return err
	}
	// A mix older than either of its inputs is stale.
	mixWritten, err := b.artifact(ctx, config.ArtifactMix, observe.StageMerge, audioWritten || videoWritten, b.merge)
	if err != nil {
		b.fail(ctx, config.ArtifactMix)
		return err
	}

	if b.a.cfg.Encoder.VerifyDuration {
		b.verify(ctx)
	}
	return b.register(ctx, audioWritten || videoWritten || mixWritten)
}

// register catalogues the clip. An unchanged clip that is already catalogued is
// left alone so that a repeated run does not touch the index.
func (b *build) register(ctx context.Context, changed bool) error {
	start := time.Now()
	e := b.entry()
	if !changed {
		known, err := b.a.catalog.Has(ctx, e.Key)
		if err != nil {
			return stageErr(observe.StageCatalog, err)
		}
		if known {
			return nil
		}
	}
	if err := b.a.catalog.Record(ctx, e); err != nil {
		return stageErr(observe.StageCatalog, err)
	}
	b.a.metrics.RecordStage(ctx, observe.StageCatalog, start)
	return nil
}

// resolve renders the artifact paths and aligns the window.
func (b *build) resolve(ctx context.Context) error {
	b.paths = make(map[config.ArtifactKind]string, len(artifactOrder))
	for _, kind := range artifactOrder {
		p, err := b.a.paths.Sample(config.SampleKey{
			Kind:    kind,
			Session: b.store.Session(),
			Device:  b.store.Device(),
			PID:     b.store.Participants().Target,
			Segment: b.index,
		})
		if err != nil {
			return err
		}
		b.paths[kind] = p
	}

	target, err := b.store.Load(ctx, b.store.Participants().Target)
	if err != nil {
		return err
	}
	cfg := b.a.cfg
	rate := b.store.SampleRate()
	start, end, err := Window(b.desc, cfg.ContextTime, target.Duration(), rate,
		Quantum(rate, cfg.Video.FrameInterval, cfg.Audio.Decimation()))
	if err != nil {
		return err
	}
	b.res.WindowStart, b.res.WindowEnd = start, end
	b.frames = int(math.Round((end - start) / cfg.Video.FrameInterval))
	return nil
}

// artifact produces one artifact unless it already exists. force rebuilds an
// existing artifact even when overwrite is off. It reports whether the
// artifact was written.
func (b *build) artifact(ctx context.Context, kind config.ArtifactKind, stage string, force bool,
	write func(ctx context.Context, path string) error,
) (bool, error) {
	path := b.paths[kind]
	if !b.a.cfg.Overwrite && !force {
		exists, err := fsutil.Exists(path)
		if err != nil {
			return false, stageErr(stage, err)
		}
		if exists {
			b.log.Info("artifact exists, skipping", "kind", kind, "path", path)
			b.record(ctx, kind, observe.OutcomeSkipped)
			return false, nil
		}
	}

	ctx, span := observe.StartSpan(ctx, "clip."+stage)
	defer span.End()

	start := time.Now()
	if err := write(ctx, path); err != nil {
		observe.FailSpan(span, err)
		return false, stageErr(stage, err)
	}
	b.a.metrics.RecordStage(ctx, stage, start)
	b.record(ctx, kind, observe.OutcomeWritten)
	b.log.Debug("artifact written", "kind", kind, "path", path, "elapsed", time.Since(start))
	return true, nil
}

func (b *build) record(ctx context.Context, kind config.ArtifactKind, outcome string) {
	b.res.Artifacts = append(b.res.Artifacts, Artifact{Kind: kind, Path: b.paths[kind], Outcome: outcome})
	b.a.metrics.RecordArtifact(ctx, string(kind), outcome)
}

func (b *build) fail(ctx context.Context, kinds ...config.ArtifactKind) {
	for _, kind := range kinds {
		b.res.Artifacts = append(b.res.Artifacts, Artifact{Kind: kind, Path: b.paths[kind], Outcome: observe.OutcomeFailed})
		b.a.metrics.RecordArtifact(ctx, string(kind), observe.OutcomeFailed)
	}
}

// windows extracts [WindowStart, WindowEnd) of every pid's track.
func (b *build) windows(ctx context.Context, pids []string, decimation int) ([]audio.Track, error) {
	tracks, err := b.store.LoadAll(ctx, pids)
	if err != nil {
		return nil, err
	}
	out := make([]audio.Track, len(tracks))
	for i, t := range tracks {
		if out[i], err = audio.ExtractWindow(t, b.res.WindowStart, b.res.WindowEnd, decimation); err != nil {
			return nil, fmt.Errorf("%s: %w", pids[i], err)
		}
	}
	return out, nil
}

// writeAudio mixes every participant, normalises the loudness of the mix and
// writes it as WAV at the working rate.
func (b *build) writeAudio(ctx context.Context, path string) error {
	wins, err := b.windows(ctx, b.store.Participants().All(), 1)
	if err != nil {
		return err
	}
	mix, err := audio.Mix(wins...)
	if err != nil {
		return err
	}
	norm, err := audio.NormalizeRMS(mix, b.a.cfg.RMS)
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(path, func(tmp string) error {
		return audio.WriteWAV(tmp, norm)
	})
}

// writeVideo renders the target lane against the summed partner lane. The
// device wearer is heard in the audio but not drawn.
func (b *build) writeVideo(ctx context.Context, path string) error {
	cast := b.store.Participants()
	dec := b.a.cfg.Audio.Decimation()

	target, err := b.windows(ctx, []string{cast.Target}, dec)
	if err != nil {
		return err
	}
	partner := make([]float64, target[0].Len())
	if len(cast.Partners) > 0 {
		wins, err := b.windows(ctx, cast.Partners, dec)
		if err != nil {
			return err
		}
		sum, err := audio.Mix(wins...)
		if err != nil {
			return err
		}
		partner = sum.Samples
	}

	desc, err := b.store.FillText(ctx, b.desc)
	if err != nil {
		return err
	}
	plan, err := animate.NewPlan(animate.PlanInput{
		Target:        target[0].Samples,
		Partner:       partner,
		DisplayRate:   target[0].SampleRate,
		FrameInterval: b.a.cfg.Video.FrameInterval,
		WindowStart:   b.res.WindowStart,
		TargetSegment: desc.Target,
		Prior:         desc.Prior,
		Prompt:        b.a.cfg.Video.Prompt,
	})
	if err != nil {
		return err
	}
	return b.a.animator.Render(ctx, plan, path)
}

// merge muxes the video and audio artifacts into the mix artifact.
func (b *build) merge(ctx context.Context, path string) error {
	return fsutil.WriteAtomic(path, func(tmp string) error {
		return b.a.enc.Merge(ctx, b.paths[config.ArtifactVideo], b.paths[config.ArtifactAudio], tmp)
	})
}

// verify probes the mix and warns when its duration is more than one frame
// away from the window. Probe failures are logged, not fatal.
func (b *build) verify(ctx context.Context) {
	start := time.Now()
	defer b.a.metrics.RecordStage(ctx, observe.StageVerify, start)

	path := b.paths[config.ArtifactMix]
	got, err := b.a.enc.Duration(ctx, path)
	if err != nil {
		b.log.Warn("could not probe clip duration", "path", path, "err", err)
		return
	}
	want := b.res.WindowEnd - b.res.WindowStart
	if math.Abs(got-want) > b.a.cfg.Video.FrameInterval {
		b.log.Warn("clip duration drifts from its window",
			"path", path,
			"duration", got,
			"want", want,
		)
	}
}

func (b *build) entry() catalog.Entry {
	return catalog.Entry{
		Key: catalog.Key{
			Session:   b.store.Session(),
			Device:    b.store.Device(),
			TargetPID: b.store.Participants().Target,
			Segment:   b.index,
		},
		RunID:       b.a.runID,
		AudioPath:   b.paths[config.ArtifactAudio],
		VideoPath:   b.paths[config.ArtifactVideo],
		MixPath:     b.paths[config.ArtifactMix],
		WindowStart: b.res.WindowStart,
		WindowEnd:   b.res.WindowEnd,
		Duration:    b.res.WindowEnd - b.res.WindowStart,
		Frames:      b.frames,
	}
}
