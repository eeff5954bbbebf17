// Package storage defines the workspace file-system abstraction.
package storage

import (
	"time"

	"github.com/starford/todosync/internal/models"
)

// Provider is the interface for workspace file operations.
type Provider interface {
	// Root returns the absolute workspace root, or "" when none is known.
	Root() string
	// List returns metadata for every eligible file under the root.
	List() ([]models.FileMeta, error)
	// Rel converts an absolute path below the root to a relative one.
	Rel(abs string) (string, error)
	// ExcludedDir reports whether a directory (relative to root) is skipped entirely.
	ExcludedDir(rel string) bool
	// Match reports whether path (relative to root) is eligible for scanning.
	Match(path string) bool
	// Read returns the content and modification time of path (relative to root).
	Read(path string) ([]byte, time.Time, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
