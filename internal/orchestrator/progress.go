package orchestrator

import (
	"sync"
	"time"
)

// Progress is emitted on every state transition during a run (§4.8),
// matching the daemon's on-wire progress record field names.
type Progress struct {
	CompletedFiles int     `json:"completed"`
	TotalFiles     int     `json:"total"`
	CurrentFile    string  `json:"current_path"`
	BytesProcessed int64   `json:"bytes_processed"`
	FilesPerSecond float64 `json:"rate_files_per_sec"`
	ActiveWorkers  int     `json:"active_workers"`
}

// ProgressFunc receives a Progress snapshot. Implementations must not block;
// slow consumers should buffer or drop.
type ProgressFunc func(Progress)

// rateWindow is the 30s rolling window used to compute files_per_second.
const rateWindow = 30 * time.Second

// rateTracker computes a rolling files-per-second rate over rateWindow.
type rateTracker struct {
	mu    sync.Mutex
	ticks []time.Time
}

func (r *rateTracker) recordCompletion(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, now)
	r.trim(now)
}

func (r *rateTracker) rate(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trim(now)
	if len(r.ticks) == 0 {
		return 0
	}
	elapsed := now.Sub(r.ticks[0]).Seconds()
	if elapsed <= 0 {
		return float64(len(r.ticks))
	}
	return float64(len(r.ticks)) / elapsed
}

func (r *rateTracker) trim(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(r.ticks) && r.ticks[i].Before(cutoff) {
		i++
	}
	r.ticks = r.ticks[i:]
}

// reporter tracks run-wide progress state and emits Progress snapshots.
type reporter struct {
	mu            sync.Mutex
	completed     int
	total         int
	bytesProcessed int64
	activeWorkers int
	rate          rateTracker
	fn            ProgressFunc
}

func newReporter(total int, fn ProgressFunc) *reporter {
	if fn == nil {
		fn = func(Progress) {}
	}
	return &reporter{total: total, fn: fn}
}

func (r *reporter) workerStarted(file string) {
	r.mu.Lock()
	r.activeWorkers++
	active := r.activeWorkers
	r.mu.Unlock()
	r.emit(file, active)
}

func (r *reporter) workerFinished(file string, bytes int64) {
	now := time.Now()
	r.mu.Lock()
	r.activeWorkers--
	r.completed++
	r.bytesProcessed += bytes
	active := r.activeWorkers
	r.mu.Unlock()
	r.rate.recordCompletion(now)
	r.emit(file, active)
}

func (r *reporter) emit(currentFile string, activeWorkers int) {
	r.mu.Lock()
	p := Progress{
		CompletedFiles: r.completed,
		TotalFiles:     r.total,
		CurrentFile:    currentFile,
		BytesProcessed: r.bytesProcessed,
		ActiveWorkers:  activeWorkers,
	}
	r.mu.Unlock()
	p.FilesPerSecond = r.rate.rate(time.Now())
	r.fn(p)
}
