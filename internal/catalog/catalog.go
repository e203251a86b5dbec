// Package catalog records finished clips so that downstream viewers can find
// them by key without scanning the output tree.
//
// Three drivers are available, selected by [config.CatalogConfig.Driver]:
//   - "json": one index file, rewritten atomically on every record ([JSONStore])
//   - "postgres": an upsert into the clips table ([PostgresStore])
//   - "none": records are dropped ([Nop])
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/clipforge/internal/config"
)

// ErrInvalidEntry is returned by Record when an entry has an incomplete key.
var ErrInvalidEntry = errors.New("catalog: invalid entry")

// Key identifies one clip.
type Key struct {
	Session   string `json:"session"`
	Device    string `json:"device"`
	TargetPID string `json:"target_pid"`
	Segment   int    `json:"segment"`
}

// String returns the key as "session/device/pid/segment".
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", k.Session, k.Device, k.TargetPID, k.Segment)
}

// Compare orders keys by session, device, pid and then numerically by segment.
func (k Key) Compare(o Key) int {
	return cmp.Or(
		cmp.Compare(k.Session, o.Session),
		cmp.Compare(k.Device, o.Device),
		cmp.Compare(k.TargetPID, o.TargetPID),
		cmp.Compare(k.Segment, o.Segment),
	)
}

// Entry describes one finished clip.
type Entry struct {
	Key

	// RunID identifies the pipeline run that last built the clip.
	RunID string `json:"run_id"`

	AudioPath string `json:"audio_path"`
	VideoPath string `json:"video_path"`
	MixPath   string `json:"mix_path"`

	// WindowStart and WindowEnd are the session times covered by the clip.
	WindowStart float64 `json:"window_start"`
	WindowEnd   float64 `json:"window_end"`

	// Duration is the clip length in seconds; Frames the number of video frames.
	Duration float64 `json:"duration"`
	Frames   int     `json:"frames"`

	// BuiltAt is filled with the current time when zero.
	BuiltAt time.Time `json:"built_at"`
}

func (e *Entry) prepare() error {
	var errs []error
	if e.Session == "" {
		errs = append(errs, errors.New("session is empty"))
	}
	if e.Device == "" {
		errs = append(errs, errors.New("device is empty"))
	}
	if e.TargetPID == "" {
		errs = append(errs, errors.New("target pid is empty"))
	}
	if e.Segment < 0 {
		errs = append(errs, fmt.Errorf("segment %d is negative", e.Segment))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	if e.BuiltAt.IsZero() {
		e.BuiltAt = time.Now().UTC()
	}
	return nil
}

// Store records clips. Implementations must be safe for concurrent use.
type Store interface {
	// Record inserts or replaces the entry with e's key.
	Record(ctx context.Context, e Entry) error

	// Has reports whether an entry with key k exists.
	Has(ctx context.Context, k Key) (bool, error)

	// List returns every entry ordered by key.
	List(ctx context.Context) ([]Entry, error)

	// Close releases the store's resources.
	Close() error
}

// Open returns the store selected by cfg.
func Open(ctx context.Context, cfg config.CatalogConfig) (Store, error) {
	switch cfg.Driver {
	case config.CatalogNone:
		return Nop(), nil
	case config.CatalogJSON, "":
		s, err := OpenJSON(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.CatalogPostgres:
		s, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("catalog: unknown driver %q", cfg.Driver)
	}
}

type nopStore struct{}

// Nop returns a store that drops every record.
func Nop() Store { return nopStore{} }

func (nopStore) Record(context.Context, Entry) error    { return nil }
func (nopStore) Has(context.Context, Key) (bool, error) { return false, nil }
func (nopStore) List(context.Context) ([]Entry, error)  { return nil, nil }
func (nopStore) Close() error                           { return nil }

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int { return a.Key.Compare(b.Key) })
}
