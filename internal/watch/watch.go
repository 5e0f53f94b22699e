package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

// FlushFunc is called synchronously, once per debounced batch, from the
// watcher's single dispatch goroutine. It is expected to hand the batch to
// the orchestrator in watch mode; it must not be called concurrently with
// itself, and the Watcher guarantees that.
type FlushFunc func(ctx context.Context, batch []Event)

// Options configures a Watcher.
type Options struct {
	ExcludeDirs    []string
	DebounceWindow time.Duration
	Logger         *slog.Logger
}

// Watcher recursively watches a project root and dispatches debounced
// change batches to FlushFunc, one batch at a time (§4.10: "single-threaded
// cooperative" - there is exactly one goroutine driving both fsnotify
// consumption and flush dispatch).
type Watcher struct {
	root    string
	exclude map[string]bool
	fsw     *fsnotify.Watcher
	deb     *debouncer
	onFlush FlushFunc
	logger  *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Watcher rooted at root. It does not start watching until
// Start is called.
func New(root string, onFlush FlushFunc, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cidxerrors.IOError("watch: create fsnotify watcher", err)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	exclude := make(map[string]bool, len(opts.ExcludeDirs))
	for _, d := range opts.ExcludeDirs {
		exclude[d] = true
	}

	return &Watcher{
		root:    root,
		exclude: exclude,
		fsw:     fsw,
		deb:     newDebouncer(opts.DebounceWindow, opts.Logger),
		onFlush: onFlush,
		logger:  opts.Logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start adds every directory under root to the watch set and begins the
// dispatch loop. It returns once the initial directory walk completes; the
// loop itself runs in the background until Stop is called or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}

	go w.run(ctx)
	return nil
}

// Stop halts the dispatch loop and releases the underlying fsnotify watcher.
// Safe to call once; blocks until the loop has exited.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	w.deb.Stop()
	return w.fsw.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.exclude[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return cidxerrors.IOError("watch: add directory to watcher", err).WithDetail("path", path)
		}
		return nil
	})
}

// run is the single cooperative dispatch loop: it is the only goroutine
// that ever calls onFlush, and it never starts a new goroutine per event.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch: fsnotify error", slog.Any("err", err))

		case batch, ok := <-w.deb.Output():
			if !ok {
				return
			}
			w.onFlush(ctx, batch)
		}
	}
}

func (w *Watcher) handleFSEvent(fsEvent fsnotify.Event) {
	rel, err := filepath.Rel(w.root, fsEvent.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	info, statErr := os.Lstat(fsEvent.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case fsEvent.Op.Has(fsnotify.Create):
		if isDir {
			if !w.exclude[filepath.Base(rel)] {
				_ = w.fsw.Add(fsEvent.Name)
			}
			return
		}
		w.deb.add(Event{Path: rel, Op: OpCreate, Timestamp: time.Now()})

	case fsEvent.Op.Has(fsnotify.Write):
		if isDir {
			return
		}
		w.deb.add(Event{Path: rel, Op: OpModify, Timestamp: time.Now()})

	case fsEvent.Op.Has(fsnotify.Remove), fsEvent.Op.Has(fsnotify.Rename):
		// A rename surfaces as a remove of the old name followed by a
		// create of the new one; treat both as deletes, matching the
		// watcher's "rename = delete + create" convention.
		w.deb.add(Event{Path: rel, Op: OpDelete, IsDir: isDir, Timestamp: time.Now()})
	}
}
