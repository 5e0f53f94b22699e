package reconcile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

// manifestFileName is the per-collection file-state manifest, sitting
// alongside meta.json / projection.bin in the collection root. It is the
// reconciler's own bookkeeping, rebuildable from a full rescan: losing it
// just means every file compares as new on the next cycle.
const manifestFileName = "files.json"

// Manifest is the persisted path -> FileRecord map for one collection.
type Manifest struct {
	mu      sync.RWMutex
	path    string
	records map[string]FileRecord
}

// LoadManifest reads the manifest at root, or returns an empty one if it
// does not exist yet.
func LoadManifest(root string) (*Manifest, error) {
	path := filepath.Join(root, manifestFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{path: path, records: make(map[string]FileRecord)}, nil
		}
		return nil, cidxerrors.IOError("reconcile: read file manifest", err)
	}

	var records map[string]FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "reconcile: decode file manifest", err)
	}
	if records == nil {
		records = make(map[string]FileRecord)
	}
	return &Manifest{path: path, records: records}, nil
}

// NewEmptyManifest returns a manifest with no records, persisting to the
// same path LoadManifest would use under root. Used for a forced full
// reindex: every discovered file compares as new regardless of what is
// already on disk.
func NewEmptyManifest(root string) *Manifest {
	return &Manifest{path: filepath.Join(root, manifestFileName), records: make(map[string]FileRecord)}
}

// Get returns the record for path, if any.
func (m *Manifest) Get(path string) (FileRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[path]
	return r, ok
}

// All returns a snapshot of every path currently tracked.
func (m *Manifest) All() map[string]FileRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]FileRecord, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out
}

// Put records or replaces a file's state.
func (m *Manifest) Put(r FileRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.Path] = r
}

// Remove drops a path from the manifest.
func (m *Manifest) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, path)
}

// Save writes the manifest atomically (temp file + rename), matching the
// rest of the collection root's on-disk files.
func (m *Manifest) Save() error {
	m.mu.RLock()
	data, err := json.Marshal(m.records)
	m.mu.RUnlock()
	if err != nil {
		return cidxerrors.New(cidxerrors.CodeInternal, "reconcile: encode file manifest", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return cidxerrors.IOError("reconcile: create collection root", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return cidxerrors.IOError("reconcile: write file manifest", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return cidxerrors.IOError("reconcile: commit file manifest", err)
	}
	return nil
}
