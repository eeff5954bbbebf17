package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/todosync/internal/models"
	"github.com/starford/todosync/internal/storage"
	"github.com/starford/todosync/internal/testutil"
)

const firstID = "abc123def456"

type env struct {
	root   string
	remote *testutil.FakeRemote
	orch   *Orchestrator

	mu      sync.Mutex
	results []*Result
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root, store := testutil.TestWorkspace(t)
	return newEnvWith(t, root, store)
}

func newEnvWith(t *testing.T, root string, store storage.Provider) *env {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	e := &env{root: root, remote: testutil.NewFakeRemote()}
	e.orch = New(store, e.remote, testutil.TestDB(t), logger, WithNotifier(func(res *Result) {
		e.mu.Lock()
		e.results = append(e.results, res)
		e.mu.Unlock()
	}))
	return e
}

func (e *env) notified() []*Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Result(nil), e.results...)
}

// agePast moves a remote record's last-edited time an hour into the past.
func (e *env) agePast(id string) {
	r, _ := e.remote.Get(id)
	r.LastChanged = time.Now().Add(-time.Hour)
	e.remote.Put(r)
}

func TestFullPass_CreatesAndEmbedsLink(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "main.go", "package main\n\n// TODO: fix bug\nfunc main() {}\n")

	res, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindFull, res.Kind)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.Report.Created)
	assert.Equal(t, 1, res.Rewritten)

	assert.Equal(t,
		"package main\n\n// TODO: fix bug (https://notion.so/workspace/abc123def456)\nfunc main() {}\n",
		testutil.ReadFile(t, e.root, "main.go"))

	rec, ok := e.remote.Get(firstID)
	require.True(t, ok)
	assert.Equal(t, "fix bug", rec.Text)
	assert.Equal(t, "main.go", rec.Source.RelativePath)
	assert.Equal(t, models.StatusNotStarted, rec.Status)

	td, err := e.orch.ledger.GetTodo(firstID)
	require.NoError(t, err)
	assert.Equal(t, "fix bug", td.Text)
	assert.Equal(t, testutil.LinkBase+firstID, td.ExternalLink)

	require.Len(t, e.notified(), 1)
	assert.Same(t, res, e.orch.Last())
}

func TestFullPass_SecondPassIsWriteFree(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "main.go", "// TODO: fix bug\n// TODO: and another\n")

	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	writes := e.remote.Writes()
	assert.Equal(t, 2, writes)
	after := testutil.ReadFile(t, e.root, "main.go")

	res, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, writes, e.remote.Writes())
	assert.Zero(t, res.Report.Writes())
	assert.Zero(t, res.Rewritten)
	assert.Equal(t, after, testutil.ReadFile(t, e.root, "main.go"))
}

func TestFullPass_CompletedRemoteBlanksComment(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "main.go", "package main\n\n// TODO: fix bug\nfunc main() {}\n")
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)

	r, _ := e.remote.Get(firstID)
	r.Status = models.StatusCompleted
	r.LastChanged = time.Now().Add(time.Hour)
	e.remote.Put(r)

	res, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Completed)
	assert.Equal(t, "package main\n\n\nfunc main() {}\n", testutil.ReadFile(t, e.root, "main.go"))

	list, total, err := e.orch.ledger.ListTodos(0, 0, "", "")
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)

	// A third pass has nothing left to do.
	res, err = e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Report.Writes())
	assert.Zero(t, res.Rewritten)
}

func TestFullPass_RemoteEditRoundTrip(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "a.go", "x := 1 // TODO: old words\n")
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)

	r, _ := e.remote.Get(firstID)
	r.Text = "new words"
	r.Status = models.StatusInProgress
	r.LastChanged = time.Now().Add(time.Hour)
	e.remote.Put(r)

	res, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Pulled)
	assert.Zero(t, res.Report.Writes())
	assert.Equal(t, "x := 1 // TODO: new words ("+testutil.LinkBase+firstID+")\n", testutil.ReadFile(t, e.root, "a.go"))

	td, err := e.orch.ledger.GetTodo(firstID)
	require.NoError(t, err)
	assert.Equal(t, "new words", td.Text)
	assert.Equal(t, models.StatusInProgress, td.Status)
}

func TestFullPass_LocalEditUpdatesRemote(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "a.go", "// TODO: draft\n")
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	e.agePast(firstID)

	content := strings.Replace(testutil.ReadFile(t, e.root, "a.go"), "draft", "final text", 1)
	testutil.WriteFile(t, e.root, "a.go", content)

	res, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Updated)
	assert.Equal(t, []string{firstID}, e.remote.Updated)
	r, _ := e.remote.Get(firstID)
	assert.Equal(t, "final text", r.Text)
}

func TestFilePass_ArchivesRemovedComment(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "a.go", "// TODO: keep me\n")
	testutil.WriteFile(t, e.root, "b.go", "// TODO: remove me\n")
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	require.Len(t, e.remote.Created, 2)

	bContent := testutil.ReadFile(t, e.root, "b.go")
	var removedID string
	for _, id := range e.remote.Created {
		if strings.Contains(bContent, id) {
			removedID = id
		}
	}
	require.NotEmpty(t, removedID)

	testutil.WriteFile(t, e.root, "b.go", "package b\n")
	res, err := e.orch.FilePass(context.Background(), "b.go")
	require.NoError(t, err)
	assert.Equal(t, KindFile, res.Kind)
	assert.Equal(t, "b.go", res.Path)
	assert.Equal(t, 1, res.Report.Archived)
	assert.Equal(t, []string{removedID}, e.remote.Completed)
}

func TestFilePass_MissingFile(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "gone.go", "// TODO: doomed\n")
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(e.root, "gone.go")))
	res, err := e.orch.FilePass(context.Background(), "gone.go")
	require.NoError(t, err)
	assert.Zero(t, res.Files)
	assert.Equal(t, []string{firstID}, e.remote.Completed)

	cs, err := e.orch.ledger.GetChecksum("gone.go")
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestFilePass_BeforeFullPassRunsFullPass(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "a.go", "// TODO: a\n")
	testutil.WriteFile(t, e.root, "b.go", "// TODO: b\n")

	res, err := e.orch.FilePass(context.Background(), "a.go")
	require.NoError(t, err)
	assert.Equal(t, KindFull, res.Kind)
	assert.Equal(t, 2, res.Report.Created)
}

func TestFullPass_QueryFailureAborts(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "a.go", "// TODO: a\n")
	e.remote.QueryErr = errors.New("unreachable")

	res, err := e.orch.FullPass(context.Background())
	require.Error(t, err)
	assert.Equal(t, err, res.Err)
	assert.Empty(t, e.remote.Created)
	assert.Equal(t, "// TODO: a\n", testutil.ReadFile(t, e.root, "a.go"))

	passes, err := e.orch.ledger.ListPasses(10)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Contains(t, passes[0].Error, "unreachable")
	require.Len(t, e.notified(), 1)
	assert.Error(t, e.notified()[0].Err)

	// The next pass retries.
	e.remote.QueryErr = nil
	res, err = e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Created)
}

func TestFullPass_FailedCreateRetriedNextPass(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "a.go", "// TODO: flaky\n")
	e.remote.FailText["flaky"] = errors.New("rate limited")

	res, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Report.Failures, 1)
	assert.Equal(t, "// TODO: flaky\n", testutil.ReadFile(t, e.root, "a.go"))

	delete(e.remote.FailText, "flaky")
	res, err = e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Created)
	assert.Contains(t, testutil.ReadFile(t, e.root, "a.go"), firstID)
}

func TestFullPass_ExcludedFilesIgnored(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "vendor/dep/x.go", "// TODO: not mine\n")
	testutil.WriteFile(t, e.root, "notes.txt", "// TODO: not source\n")

	res, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Files)
	assert.Empty(t, e.remote.Created)
}

// flakyStore fails the next Read of selected paths.
type flakyStore struct {
	*storage.FS

	mu   sync.Mutex
	fail map[string]error
}

func (f *flakyStore) failNext(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[path] = err
}

func (f *flakyStore) Read(path string) ([]byte, time.Time, error) {
	f.mu.Lock()
	err, ok := f.fail[path]
	delete(f.fail, path)
	f.mu.Unlock()
	if ok {
		return nil, time.Time{}, err
	}
	return f.FS.Read(path)
}

func newFlakyEnv(t *testing.T) (*env, *flakyStore) {
	t.Helper()
	root, store := testutil.TestWorkspace(t)
	flaky := &flakyStore{FS: store, fail: make(map[string]error)}
	return newEnvWith(t, root, flaky), flaky
}

func TestFullPass_UnreadableFileKeepsRecords(t *testing.T) {
	e, store := newFlakyEnv(t)
	testutil.WriteFile(t, e.root, "a.go", "// TODO: fix bug\n")
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	linked := "// TODO: fix bug (https://notion.so/workspace/" + firstID + ")\n"
	require.Equal(t, linked, testutil.ReadFile(t, e.root, "a.go"))

	store.failNext("a.go", fmt.Errorf("open a.go: %w", fs.ErrPermission))
	res, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Files)
	assert.Zero(t, res.Report.Archived)
	assert.Empty(t, e.remote.Completed)
	r, ok := e.remote.Get(firstID)
	require.True(t, ok)
	assert.NotEqual(t, models.StatusCompleted, r.Status)

	// Readable again: the comment keeps its link.
	_, err = e.orch.FullPass(context.Background())
	require.NoError(t, err)
	assert.Empty(t, e.remote.Completed)
	assert.Equal(t, linked, testutil.ReadFile(t, e.root, "a.go"))
}

func TestFullPass_HeldFileSurvivesLaterFilePass(t *testing.T) {
	e, store := newFlakyEnv(t)
	testutil.WriteFile(t, e.root, "a.go", "// TODO: a\n")
	testutil.WriteFile(t, e.root, "b.go", "// TODO: b\n")
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	require.Len(t, e.remote.Created, 2)

	store.failNext("a.go", fmt.Errorf("read a.go: %w", fs.ErrPermission))
	_, err = e.orch.FullPass(context.Background())
	require.NoError(t, err)

	testutil.WriteFile(t, e.root, "b.go", "// TODO: b\n// TODO: c\n")
	res, err := e.orch.FilePass(context.Background(), "b.go")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Created)
	assert.Zero(t, res.Report.Archived)
	assert.Empty(t, e.remote.Completed)
}

func TestFilePass_ReadErrorKeepsEntities(t *testing.T) {
	e, store := newFlakyEnv(t)
	testutil.WriteFile(t, e.root, "a.go", "// TODO: a\n")
	testutil.WriteFile(t, e.root, "b.go", "// TODO: b\n")
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)

	store.failNext("a.go", fmt.Errorf("read a.go: %w", fs.ErrPermission))
	res, err := e.orch.FilePass(context.Background(), "a.go")
	require.ErrorIs(t, err, fs.ErrPermission)
	assert.Equal(t, KindFile, res.Kind)

	res, err = e.orch.FilePass(context.Background(), "b.go")
	require.NoError(t, err)
	assert.Zero(t, res.Report.Archived)
	assert.Empty(t, e.remote.Completed)
}

func TestFullPass_RecordsNestedSource(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "pkg/util.go", "package pkg\n\n// TODO: tidy helpers\n")

	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)

	r, ok := e.remote.Get(firstID)
	require.True(t, ok)
	assert.Equal(t, "util.go", r.Source.Filename)
	assert.Equal(t, "pkg/util.go", r.Source.RelativePath)
}
