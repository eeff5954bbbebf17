package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/starford/todosync/internal/checksum"
	"github.com/starford/todosync/internal/models"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root    string // absolute path to the workspace
	include []string
	exclude []string
}

// NewFS creates a new FS provider rooted at the given directory.
// include and exclude are doublestar patterns matched against slash-separated
// paths relative to root. An empty include list matches every file.
func NewFS(root string, include, exclude []string) (*FS, error) {
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
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("storage: invalid pattern %q", p)
		}
	}
	return &FS{root: abs, include: include, exclude: exclude}, nil
}

// Root returns the absolute workspace root.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves a relative path against the root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	// Ensure the resolved path is still under root.
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes workspace root: %s", rel)
	}
	return abs, nil
}

// Rel converts an absolute path below the root into a slash-separated
// relative path.
func (f *FS) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return "", fmt.Errorf("storage: rel: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path outside workspace: %s", abs)
	}
	return filepath.ToSlash(rel), nil
}

// Match reports whether rel is included and not excluded.
func (f *FS) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	if f.excluded(rel) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	for _, p := range f.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (f *FS) excluded(rel string) bool {
	for _, p := range f.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// ExcludedDir reports whether everything below the directory rel is excluded.
func (f *FS) ExcludedDir(rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	return f.excluded(filepath.ToSlash(rel) + "/x")
}

// List walks the workspace and returns metadata for every eligible file.
func (f *FS) List() ([]models.FileMeta, error) {
	var out []models.FileMeta
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := f.Rel(p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if f.ExcludedDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !f.Match(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, models.FileMeta{
			Path:     rel,
			Checksum: checksum.Sum(data),
			ModTime:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes and modification time of a workspace file.
func (f *FS) Read(path string) ([]byte, time.Time, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, info.ModTime(), nil
}

// Write atomically writes content: tmp file → fsync → rename.
// The existing file mode is preserved.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".todosync-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("storage: chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}
