package reconcile

import "time"

// DefaultTolerance is the mtime-comparison slack below which a file counts
// as unchanged (§4.9: "newer than stored by more than a tolerance, default
// 1 s, to absorb filesystem mtime granularity").
const DefaultTolerance = time.Second

// Reconcile compares discovered against the manifest and decides, per file,
// whether it is new, modified, deleted, or unchanged (§4.9's decision
// table). currentBranch stamps new/modified files' visibility and widens
// the visibility set of unchanged files not yet seen on this branch; an
// empty currentBranch (non-git project) disables branch bookkeeping.
//
// Watch mode never forces a reprocess: the mtime comparison is the only
// driver, here and in the caller, regardless of watchMode. Size is recorded
// but not compared.
func Reconcile(manifest *Manifest, discovered []DiscoveredFile, currentBranch string, tolerance time.Duration) Result {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	var result Result
	seen := make(map[string]bool, len(discovered))

	for _, f := range discovered {
		seen[f.Path] = true

		stored, ok := manifest.Get(f.Path)
		if !ok {
			result.Adds = append(result.Adds, newRecord(f, currentBranch))
			continue
		}

		if f.ModTime.Sub(stored.ModTime) > tolerance {
			result.Modifies = append(result.Modifies, newRecord(f, currentBranch))
			continue
		}

		if currentBranch != "" && !stored.hasBranch(currentBranch) {
			updated := stored
			updated.Branches = append(append([]string(nil), stored.Branches...), currentBranch)
			result.BranchUpdates = append(result.BranchUpdates, updated)
		}
		// else: in store, on disk, mtime within tolerance, branch already
		// visible -> skip entirely.
	}

	for path := range manifest.All() {
		if !seen[path] {
			result.Deletes = append(result.Deletes, path)
		}
	}

	return result
}

func newRecord(f DiscoveredFile, branch string) FileRecord {
	r := FileRecord{Path: f.Path, ModTime: f.ModTime, Size: f.Size}
	if branch != "" {
		r.Branches = []string{branch}
	}
	return r
}

// Apply commits a Result to the manifest: deletes are removed, adds and
// modifies are (re)recorded with their new state, and branch-only updates
// widen visibility without touching ModTime/Size. The caller is responsible
// for driving the Vector Store deletes/upserts first; Apply only updates
// the reconciler's own bookkeeping once that has succeeded.
func Apply(manifest *Manifest, result Result) {
	for _, path := range result.Deletes {
		manifest.Remove(path)
	}
	for _, r := range result.Adds {
		manifest.Put(r)
	}
	for _, r := range result.Modifies {
		manifest.Put(r)
	}
	for _, r := range result.BranchUpdates {
		manifest.Put(r)
	}
}
