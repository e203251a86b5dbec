package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/clipforge/internal/config"
	"github.com/MrWong99/clipforge/internal/segment"
	"github.com/MrWong99/clipforge/pkg/audio"
)

// Participants is the resolved cast of one clip run.
type Participants struct {
	// Target is the participant whose utterances are transcribed.
	Target string

	// Wearer is the participant wearing the recording device. Empty when the
	// device has no wearer column.
	Wearer string

	// Partners are every roster participant other than target and wearer, in
	// slot order. Their summed waveform forms the partner lane.
	Partners []string
}

// All returns every distinct participant: target, wearer, then partners.
func (p Participants) All() []string {
	out := []string{p.Target}
	if p.Wearer != "" && p.Wearer != p.Target {
		out = append(out, p.Wearer)
	}
	for _, pid := range p.Partners {
		if !slices.Contains(out, pid) {
			out = append(out, pid)
		}
	}
	return out
}

// Options configures a [Store].
type Options struct {
	Session string
	Device  string
	Target  string

	// DeviceConfig is the entry of config.Devices for Device.
	DeviceConfig config.DeviceConfig

	// SampleRate is the working rate every track is converted to.
	SampleRate int

	Paths *config.Paths
}

// NewOptions returns the options for sessionID under the device, target and
// rates of a validated cfg.
func NewOptions(cfg *config.Config, sessionID string) Options {
	return Options{
		Session:      sessionID,
		Device:       cfg.Device,
		Target:       cfg.TargetPID,
		DeviceConfig: cfg.Devices[cfg.Device],
		SampleRate:   cfg.Audio.SampleRate,
		Paths:        cfg.PathsBuilder(),
	}
}

// lazy holds a value computed at most once.
type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(fn func() (T, error)) (T, error) {
	l.once.Do(func() { l.val, l.err = fn() })
	return l.val, l.err
}

// Store gives read access to every participant's waveform and transcript in
// one session. Each file is decoded at most once even when several
// participants share it; tracks are cached per participant. Returned tracks
// and transcripts must be treated as read-only. Safe for concurrent use.
type Store struct {
	opts      Options
	roster    *Roster
	cast      Participants
	resampler *audio.Resampler

	mu          sync.Mutex
	files       map[string]*lazy[*audio.Recording]
	tracks      map[string]*lazy[audio.Track]
	transcripts map[string]*lazy[[]segment.Segment]
}

// Open reads the roster row of opts.Session and resolves the participants.
// Audio is decoded lazily by [Store.Load] or eagerly by [Store.Preload].
func Open(opts Options) (*Store, error) {
	if opts.Paths == nil {
		return nil, errors.New("session: paths are required")
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("session: sample rate %d must be positive", opts.SampleRate)
	}

	roster, err := LoadRoster(opts.Paths.SessionInfo(), opts.Session)
	if err != nil {
		return nil, err
	}
	if _, ok := roster.Slot(opts.Target); !ok {
		return nil, fmt.Errorf("%w: participant %q is not in the roster of session %q",
			ErrResourceNotFound, opts.Target, opts.Session)
	}
	wearer, err := roster.Wearer(opts.DeviceConfig.WearerColumn)
	if err != nil {
		return nil, err
	}

	cast := Participants{Target: opts.Target, Wearer: wearer}
	for _, pid := range roster.PIDs() {
		if pid != opts.Target && pid != wearer {
			cast.Partners = append(cast.Partners, pid)
		}
	}

	slog.Debug("session opened",
		"session", opts.Session,
		"device", opts.Device,
		"target", cast.Target,
		"wearer", cast.Wearer,
		"partners", cast.Partners,
	)

	return &Store{
		opts:        opts,
		roster:      roster,
		cast:        cast,
		resampler:   &audio.Resampler{Target: opts.SampleRate},
		files:       make(map[string]*lazy[*audio.Recording]),
		tracks:      make(map[string]*lazy[audio.Track]),
		transcripts: make(map[string]*lazy[[]segment.Segment]),
	}, nil
}

// Session returns the session id.
func (s *Store) Session() string { return s.opts.Session }

// Device returns the recording device key.
func (s *Store) Device() string { return s.opts.Device }

// Participants returns the resolved cast.
func (s *Store) Participants() Participants { return s.cast }

// Roster returns the session's roster row.
func (s *Store) Roster() *Roster { return s.roster }

// SampleRate returns the working rate of every returned track.
func (s *Store) SampleRate() int { return s.opts.SampleRate }

// Load returns pid's waveform at the working rate.
func (s *Store) Load(ctx context.Context, pid string) (audio.Track, error) {
	if err := ctx.Err(); err != nil {
		return audio.Track{}, err
	}
	s.mu.Lock()
	entry, ok := s.tracks[pid]
	if !ok {
		entry = &lazy[audio.Track]{}
		s.tracks[pid] = entry
	}
	s.mu.Unlock()
	return entry.get(func() (audio.Track, error) { return s.loadTrack(pid) })
}

// LoadAll returns the waveforms of pids in order.
func (s *Store) LoadAll(ctx context.Context, pids []string) ([]audio.Track, error) {
	out := make([]audio.Track, 0, len(pids))
	for _, pid := range pids {
		t, err := s.Load(ctx, pid)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Preload decodes every participant's track concurrently and checks that
// all tracks have the same length. A failure here is fatal for the session.
func (s *Store) Preload(ctx context.Context) error {
	pids := s.cast.All()
	lengths := make([]int, len(pids))

	g, gctx := errgroup.WithContext(ctx)
	for i, pid := range pids {
		g.Go(func() error {
			t, err := s.Load(gctx, pid)
			if err != nil {
				return err
			}
			lengths[i] = t.Len()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := 1; i < len(lengths); i++ {
		if lengths[i] != lengths[0] {
			return fmt.Errorf("%w: %s has %d samples, %s has %d",
				audio.ErrShapeMismatch, pids[0], lengths[0], pids[i], lengths[i])
		}
	}
	slog.Info("session audio loaded",
		"session", s.opts.Session,
		"participants", len(pids),
		"samples", lengths[0],
	)
	return nil
}

func (s *Store) loadTrack(pid string) (audio.Track, error) {
	path, err := s.opts.Paths.Recording(config.RecordingKey{
		Session: s.opts.Session,
		Device:  s.opts.Device,
		PID:     pid,
	})
	if err != nil {
		return audio.Track{}, err
	}
	rec, err := s.recording(path)
	if err != nil {
		return audio.Track{}, err
	}

	red, err := s.reduction(pid)
	if err != nil {
		return audio.Track{}, err
	}
	track, err := audio.Reduce(rec, red)
	if err != nil {
		return audio.Track{}, fmt.Errorf("session: %s %q: %w", pid, path, err)
	}
	return s.resampler.Convert(track), nil
}

func (s *Store) reduction(pid string) (audio.Reduction, error) {
	ch := s.opts.DeviceConfig.Channels
	if ch.Mode != config.ChannelSlot {
		return audio.Reduction{Mode: string(ch.Mode), Channels: ch.Index}, nil
	}
	slot, ok := s.roster.Slot(pid)
	if !ok {
		return audio.Reduction{}, fmt.Errorf("%w: participant %q has no roster slot", ErrResourceNotFound, pid)
	}
	return audio.Reduction{Mode: "select", Channels: []int{slot - 1}}, nil
}

func (s *Store) recording(path string) (*audio.Recording, error) {
	s.mu.Lock()
	entry, ok := s.files[path]
	if !ok {
		entry = &lazy[*audio.Recording]{}
		s.files[path] = entry
	}
	s.mu.Unlock()

	return entry.get(func() (*audio.Recording, error) {
		rec, err := audio.ReadWAV(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: recording %q", ErrResourceNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		slog.Debug("recording decoded", "path", path, "channels", rec.NumChannels(), "rate", rec.SampleRate)
		return rec, nil
	})
}
