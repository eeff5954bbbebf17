// Package testutil provides shared test helpers: temporary workspaces and
// ledgers, and an in-memory remote task store.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/starford/todosync/internal/apperr"
	"github.com/starford/todosync/internal/index"
	"github.com/starford/todosync/internal/models"
	"github.com/starford/todosync/internal/storage"
)

// TestDB creates a temporary SQLite ledger that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "todosync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestWorkspace creates a temporary workspace with a storage.Provider that
// includes Go files.
func TestWorkspace(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir, []string{"**/*.go"}, []string{"**/vendor/**"})
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// WriteFile writes content below root, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of a file below root.
func ReadFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// LinkBase prefixes the links handed out by FakeRemote.
const LinkBase = "https://notion.so/workspace/"

// FakeRemote is an in-memory task store recording every write.
type FakeRemote struct {
	mu sync.Mutex

	Records map[string]models.ToDo
	Now     func() time.Time

	QueryErr  error
	CreateErr error
	// FailText makes Create and Update fail for entities with that text.
	FailText map[string]error

	Created   []string
	Updated   []string
	Completed []string
	Queries   int

	next uint64
}

// NewFakeRemote returns an empty store whose first id is abc123def456.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		Records:  make(map[string]models.ToDo),
		Now:      time.Now,
		FailText: make(map[string]error),
		next:     0xabc123def456,
	}
}

// Query returns a copy of the records.
func (f *FakeRemote) Query(_ context.Context) (map[string]models.ToDo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries++
	if f.QueryErr != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrRemoteQuery, f.QueryErr)
	}
	out := make(map[string]models.ToDo, len(f.Records))
	for id, td := range f.Records {
		out[id] = td
	}
	return out, nil
}

// Create stores td under the next hex id.
func (f *FakeRemote) Create(_ context.Context, td models.ToDo) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", "", f.CreateErr
	}
	if err := f.FailText[td.Text]; err != nil {
		return "", "", fmt.Errorf("%w: %w", apperr.ErrRemoteWrite, err)
	}
	id := fmt.Sprintf("%x", f.next)
	f.next++

	td.ExternalID = id
	td.ExternalLink = LinkBase + id
	td.Status = models.StatusNotStarted
	td.LastChanged = f.Now()
	f.Records[id] = td
	f.Created = append(f.Created, id)
	return id, td.ExternalLink, nil
}

// Update overwrites the record's text, source and span.
func (f *FakeRemote) Update(_ context.Context, id string, td models.ToDo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		return nil
	}
	if err := f.FailText[td.Text]; err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrRemoteWrite, err)
	}
	r, ok := f.Records[id]
	if !ok {
		return fmt.Errorf("%w: %s: %w", apperr.ErrRemoteWrite, id, apperr.ErrNotFound)
	}
	r.Text = td.Text
	r.Source = td.Source
	r.Span = td.Span
	if td.Status != models.StatusNone {
		r.Status = td.Status
	}
	r.LastChanged = f.Now()
	f.Records[id] = r
	f.Updated = append(f.Updated, id)
	return nil
}

// MarkCompleted sets the record's status to Completed.
func (f *FakeRemote) MarkCompleted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Records[id]
	if !ok {
		return fmt.Errorf("%w: %s: %w", apperr.ErrRemoteWrite, id, apperr.ErrNotFound)
	}
	r.Status = models.StatusCompleted
	r.LastChanged = f.Now()
	f.Records[id] = r
	f.Completed = append(f.Completed, id)
	return nil
}

// Put inserts or replaces a record as if a user had edited it remotely.
func (f *FakeRemote) Put(td models.ToDo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if td.ExternalLink == "" {
		td.ExternalLink = LinkBase + td.ExternalID
	}
	f.Records[td.ExternalID] = td
}

// Get returns a record.
func (f *FakeRemote) Get(id string) (models.ToDo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	td, ok := f.Records[id]
	return td, ok
}

// Writes returns the total number of create, update and completion calls.
func (f *FakeRemote) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Created) + len(f.Updated) + len(f.Completed)
}

// IDs returns the record ids in sorted order.
func (f *FakeRemote) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.Records))
	for id := range f.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
