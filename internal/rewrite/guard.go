package rewrite

import (
	"sync"

	"github.com/starford/todosync/internal/checksum"
)

// Guard marks files the process itself is writing so that the change
// notifications caused by those writes can be told apart from user edits.
type Guard struct {
	mu      sync.Mutex
	saving  map[string]int
	written map[string]string // path -> checksum of the last self-written content
}

// NewGuard returns an empty Guard.
func NewGuard() *Guard {
	return &Guard{
		saving:  make(map[string]int),
		written: make(map[string]string),
	}
}

// Do runs fn with path marked as saving. fn returns the content it wrote, or
// nil when it wrote nothing; on success that content is remembered for
// Suppress. The mark is cleared on every exit path, including panics.
func (g *Guard) Do(path string, fn func() ([]byte, error)) error {
	g.mu.Lock()
	g.saving[path]++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.saving[path]--; g.saving[path] <= 0 {
			delete(g.saving, path)
		}
		g.mu.Unlock()
	}()

	data, err := fn()
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	g.mu.Lock()
	g.written[path] = checksum.Sum(data)
	g.mu.Unlock()
	return nil
}

// Saving reports whether a write to path is in progress.
func (g *Guard) Saving(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saving[path] > 0
}

// Suppress reports whether a change event for path carrying data should be
// ignored: either a write is in progress or data is exactly what was last
// written by Do.
func (g *Guard) Suppress(path string, data []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saving[path] > 0 {
		return true
	}
	sum, ok := g.written[path]
	return ok && checksum.Equal(data, sum)
}

// Forget drops the remembered content for path.
func (g *Guard) Forget(path string) {
	g.mu.Lock()
	delete(g.written, path)
	g.mu.Unlock()
}
