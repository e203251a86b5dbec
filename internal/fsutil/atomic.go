// Package fsutil holds the file helpers shared by every artifact writer.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Exists reports whether a regular file exists at path.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// WriteAtomic creates path's directory, lets write produce the content at a
// temporary sibling and renames it over path on success. The temporary name
// keeps path's extension so tools that infer the container from it still
// work. On failure the temporary file is removed and path is left untouched.
func WriteAtomic(path string, write func(tmp string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: create %q: %w", dir, err)
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	f, err := os.CreateTemp(dir, "."+base+".*.tmp"+ext)
	if err != nil {
		return fmt.Errorf("fsutil: temp file for %q: %w", path, err)
	}
	tmp := f.Name()
	// CreateTemp uses 0600; artifacts are shared with the viewer.
	if err := errors.Join(f.Chmod(0o644), f.Close()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fsutil: temp file for %q: %w", path, err)
	}

	if err := write(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fsutil: rename into %q: %w", path, err)
	}
	return nil
}
