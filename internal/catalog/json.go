package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/MrWong99/clipforge/internal/fsutil"
)

// JSONStore keeps the catalog in a single JSON object keyed by [Key.String].
// Every Record rewrites the whole file through a temporary sibling, so
// readers never see a partially written index.
type JSONStore struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// Compile-time interface check.
var _ Store = (*JSONStore)(nil)

// OpenJSON loads the index at path. A missing file is an empty catalog; the
// file is created by the first Record.
func OpenJSON(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("catalog: json path is empty")
	}
	s := &JSONStore{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("catalog: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("catalog: decode %q: %w", path, err)
	}
	return s, nil
}

// Path returns the index file path.
func (s *JSONStore) Path() string { return s.path }

// Record implements [Store]. When the file cannot be written the in-memory
// index is left unchanged.
func (s *JSONStore) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("catalog: record: %w", err)
	}
	if err := e.prepare(); err != nil {
		return err
	}
	key := e.Key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.entries[key]
	s.entries[key] = e
	if err := s.flush(); err != nil {
		if had {
			s.entries[key] = prev
		} else {
			delete(s.entries, key)
		}
		return err
	}
	return nil
}

// Has implements [Store].
func (s *JSONStore) Has(_ context.Context, k Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[k.String()]
	return ok, nil
}

// List implements [Store].
func (s *JSONStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()

	sortEntries(out)
	return out, nil
}

// Close implements [Store]. It is a no-op; every Record is already durable.
func (s *JSONStore) Close() error { return nil }

// flush writes the index. Callers hold s.mu.
func (s *JSONStore) flush() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode: %w", err)
	}
	data = append(data, '\n')
	err = fsutil.WriteAtomic(s.path, func(tmp string) error {
		return os.WriteFile(tmp, data, 0o644)
	})
	if err != nil {
		return fmt.Errorf("catalog: write %q: %w", s.path, err)
	}
	return nil
}
