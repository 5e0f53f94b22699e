package watch

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounceWindow is used when the config doesn't override it.
const DefaultDebounceWindow = 2 * time.Second

// debouncer coalesces rapid events for the same path within window, so a
// burst of saves from an editor or a build step produces one flush rather
// than one orchestrator run per write. Coalescing rules:
//
//	CREATE + MODIFY = CREATE (still a new file)
//	CREATE + DELETE = nothing (never really existed, from the watcher's view)
//	MODIFY + DELETE = DELETE
//	DELETE + CREATE = MODIFY (replaced)
type debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]pendingEntry
	timer   *time.Timer
	output  chan []Event
	logger  *slog.Logger
	stopped bool
}

type pendingEntry struct {
	event   Event
	firstOp Op
}

func newDebouncer(window time.Duration, logger *slog.Logger) *debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &debouncer{
		window:  window,
		pending: make(map[string]pendingEntry),
		output:  make(chan []Event, 10),
		logger:  logger,
	}
}

func (d *debouncer) add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[ev.Path]; ok {
		merged, keep := coalesce(existing.firstOp, ev)
		if !keep {
			delete(d.pending, ev.Path)
		} else {
			d.pending[ev.Path] = pendingEntry{event: merged, firstOp: existing.firstOp}
		}
	} else {
		d.pending[ev.Path] = pendingEntry{event: ev, firstOp: ev.Op}
	}

	d.scheduleFlush()
}

// coalesce merges a new event onto the first-seen op for that path. keep is
// false when the pair cancels out (CREATE then DELETE).
func coalesce(firstOp Op, next Event) (Event, bool) {
	switch firstOp {
	case OpCreate:
		switch next.Op {
		case OpModify:
			merged := next
			merged.Op = OpCreate
			return merged, true
		case OpDelete:
			return Event{}, false
		default:
			return next, true
		}
	case OpModify:
		return next, true
	case OpDelete:
		if next.Op == OpCreate {
			merged := next
			merged.Op = OpModify
			return merged, true
		}
		return next, true
	default:
		return next, true
	}
}

func (d *debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]Event, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]pendingEntry)

	select {
	case d.output <- events:
	default:
		d.logger.Warn("watch: debounce output full, dropping batch", slog.Int("batch_size", len(events)))
	}
}

func (d *debouncer) Output() <-chan []Event { return d.output }

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
