// Package reconcile implements the file-state reconciler (C9): it compares
// the current file listing against the last-known state recorded in the
// collection's file manifest and produces the add/modify/delete lists the
// orchestrator drives, plus branch-visibility updates for files that are
// unchanged but newly visible on the current branch.
package reconcile

import "time"

// FileRecord is one file's last-known indexed state, keyed by path relative
// to the project root.
type FileRecord struct {
	Path     string    `json:"path"`
	ModTime  time.Time `json:"mod_time"`
	Size     int64     `json:"size"`
	Branches []string  `json:"branches"`
}

// hasBranch reports whether branch is already in the record's visibility set.
func (r FileRecord) hasBranch(branch string) bool {
	for _, b := range r.Branches {
		if b == branch {
			return true
		}
	}
	return false
}

// DiscoveredFile is one file found by Walk, before comparison against the
// manifest.
type DiscoveredFile struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Result is the reconciler's output (§4.9): three lists handed to the
// orchestrator, plus files whose content is unchanged but need their branch
// visibility set widened (no reprocessing, just a manifest update).
type Result struct {
	Adds          []FileRecord
	Modifies      []FileRecord
	Deletes       []string
	BranchUpdates []FileRecord
}
