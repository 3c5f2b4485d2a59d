package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TempPrefix marks in-flight writes; the watcher and the tree listing skip these names.
const TempPrefix = ".ctxstore-tmp-"

// FS implements Provider on the local file system.
type FS struct {
	root string
}

var _ Provider = (*FS)(nil)

// NewFS creates a provider rooted at an existing directory.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

// resolve maps a slash-separated relative path under the root. Absolute paths and paths
// that climb out of the root are rejected.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("storage: invalid path %q", rel)
	}
	abs := filepath.Join(f.root, filepath.FromSlash(rel))
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return abs, nil
}

// Read returns the bytes of the file at rel.
func (f *FS) Read(rel string) ([]byte, error) {
	abs, err := f.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", rel, err)
	}
	return data, nil
}

// Create writes content to a new file at rel. The content is staged in a temp file,
// fsynced, then linked into place, so readers never see a partial chunk and an existing
// file is never replaced. When rel already exists the error matches fs.ErrExist.
func (f *FS) Create(rel string, content []byte) error {
	abs, err := f.resolve(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}

	if err := os.Link(tmpName, abs); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("storage: create %s: %w", rel, fs.ErrExist)
		}
		// Some file systems have no hard links; fall back to check-then-rename.
		if _, statErr := os.Lstat(abs); statErr == nil {
			return fmt.Errorf("storage: create %s: %w", rel, fs.ErrExist)
		}
		if err := os.Rename(tmpName, abs); err != nil {
			return fmt.Errorf("storage: rename: %w", err)
		}
	}
	return nil
}
