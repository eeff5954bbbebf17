package syncer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/todosync/internal/testutil"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatch(t *testing.T, e *env, cfg WatchConfig) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.orch.Watch(ctx, cfg)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func TestWatch_NewFileSynced(t *testing.T) {
	e := newEnv(t)
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	startWatch(t, e, WatchConfig{Debounce: 50 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(e.root, "new.go"), []byte("// TODO: watch me\n"), 0o644))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return strings.Contains(testutil.ReadFile(t, e.root, "new.go"), firstID)
	}, "link not embedded by watcher-driven pass")

	// The rewrite itself must not trigger further remote writes.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, e.remote.Writes())
}

func TestWatch_NewDirectoryWatched(t *testing.T) {
	e := newEnv(t)
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	startWatch(t, e, WatchConfig{Debounce: 50 * time.Millisecond})

	dir := filepath.Join(e.root, "pkg", "deep")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d.go"), []byte("// TODO: nested\n"), 0o644))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok := e.remote.Get(firstID)
		return ok
	}, "file in new directory not synced")
}

func TestWatch_UnchangedContentIgnored(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "same.go", "package same\n")
	_, err := e.orch.FullPass(context.Background())
	require.NoError(t, err)
	startWatch(t, e, WatchConfig{Debounce: 50 * time.Millisecond})

	// Rewriting identical bytes produces an event but no pass.
	testutil.WriteFile(t, e.root, "same.go", "package same\n")
	time.Sleep(400 * time.Millisecond)
	assert.Len(t, e.notified(), 1)
}

func TestWatch_PeriodicFullPass(t *testing.T) {
	e := newEnv(t)
	startWatch(t, e, WatchConfig{Debounce: time.Second, Interval: 100 * time.Millisecond})

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return len(e.notified()) >= 2
	}, "periodic passes did not run")
	for _, res := range e.notified() {
		assert.Equal(t, KindFull, res.Kind)
	}
}
