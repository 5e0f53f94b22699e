package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectFlushes(t *testing.T, root string, window time.Duration) (*Watcher, func() []Event) {
	t.Helper()

	var mu sync.Mutex
	var got []Event

	w, err := New(root, func(ctx context.Context, batch []Event) {
		mu.Lock()
		got = append(got, batch...)
		mu.Unlock()
	}, Options{DebounceWindow: window})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	return w, func() []Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Event, len(got))
		copy(out, got)
		return out
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWatcher_DetectsNewFile(t *testing.T) {
	root := t.TempDir()
	_, snapshot := collectFlushes(t, root, 50*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n"), 0o644))

	waitFor(t, 2*time.Second, func() bool { return len(snapshot()) > 0 })
	events := snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, "a.go", events[0].Path)
}

func TestWatcher_DetectsModifiedFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n"), 0o644))

	_, snapshot := collectFlushes(t, root, 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond) // let the initial watch settle

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n\nfunc f() {}\n"), 0o644))

	waitFor(t, 2*time.Second, func() bool {
		for _, e := range snapshot() {
			if e.Path == "a.go" {
				return true
			}
		}
		return false
	})
}

func TestWatcher_DetectsDeletedFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(target, []byte("package main\n"), 0o644))

	_, snapshot := collectFlushes(t, root, 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.Remove(target))

	waitFor(t, 2*time.Second, func() bool {
		for _, e := range snapshot() {
			if e.Path == "a.go" && e.Op == OpDelete {
				return true
			}
		}
		return false
	})
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	_, snapshot := collectFlushes(t, root, 50*time.Millisecond)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.go"), []byte("package pkg\n"), 0o644))

	waitFor(t, 2*time.Second, func() bool {
		for _, e := range snapshot() {
			if e.Path == "pkg/b.go" {
				return true
			}
		}
		return false
	})
}

func TestWatcher_ExcludesConfiguredDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0o755))

	var mu sync.Mutex
	var got []Event
	w, err := New(root, func(ctx context.Context, batch []Event) {
		mu.Lock()
		got = append(got, batch...)
		mu.Unlock()
	}, Options{DebounceWindow: 50 * time.Millisecond, ExcludeDirs: []string{"node_modules"}})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "lib.js"), []byte("x"), 0o644))
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, got)
}

func TestDebouncer_CoalescesCreateThenModifyIntoCreate(t *testing.T) {
	d := newDebouncer(30*time.Millisecond, nil)
	d.add(Event{Path: "a.go", Op: OpCreate})
	d.add(Event{Path: "a.go", Op: OpModify})

	select {
	case batch := <-d.Output():
		require.Len(t, batch, 1)
		assert.Equal(t, OpCreate, batch[0].Op)
	case <-time.After(time.Second):
		t.Fatal("no flush received")
	}
}

func TestDebouncer_CreateThenDeleteCancelsOut(t *testing.T) {
	d := newDebouncer(30*time.Millisecond, nil)
	d.add(Event{Path: "a.go", Op: OpCreate})
	d.add(Event{Path: "a.go", Op: OpDelete})

	select {
	case batch := <-d.Output():
		t.Fatalf("expected no flush, got %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncer_DeleteThenCreateBecomesModify(t *testing.T) {
	d := newDebouncer(30*time.Millisecond, nil)
	d.add(Event{Path: "a.go", Op: OpDelete})
	d.add(Event{Path: "a.go", Op: OpCreate})

	select {
	case batch := <-d.Output():
		require.Len(t, batch, 1)
		assert.Equal(t, OpModify, batch[0].Op)
	case <-time.After(time.Second):
		t.Fatal("no flush received")
	}
}
