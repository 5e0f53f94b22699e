package reconcile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManifestWith(t *testing.T, records ...FileRecord) *Manifest {
	t.Helper()
	m := &Manifest{path: filepath.Join(t.TempDir(), manifestFileName), records: make(map[string]FileRecord)}
	for _, r := range records {
		m.Put(r)
	}
	return m
}

func TestReconcile_NewFileIsAdd(t *testing.T) {
	m := newManifestWith(t)
	now := time.Now()

	result := Reconcile(m, []DiscoveredFile{{Path: "a.go", ModTime: now, Size: 10}}, "main", 0)

	require.Len(t, result.Adds, 1)
	assert.Equal(t, "a.go", result.Adds[0].Path)
	assert.Equal(t, []string{"main"}, result.Adds[0].Branches)
	assert.Empty(t, result.Modifies)
	assert.Empty(t, result.Deletes)
}

func TestReconcile_ModifiedMtimeBeyondToleranceIsModify(t *testing.T) {
	base := time.Now()
	m := newManifestWith(t, FileRecord{Path: "a.go", ModTime: base, Size: 10, Branches: []string{"main"}})

	result := Reconcile(m, []DiscoveredFile{{Path: "a.go", ModTime: base.Add(5 * time.Second), Size: 12}}, "main", 0)

	require.Len(t, result.Modifies, 1)
	assert.Equal(t, "a.go", result.Modifies[0].Path)
	assert.Empty(t, result.Adds)
}

func TestReconcile_WithinToleranceIsSkip(t *testing.T) {
	base := time.Now()
	m := newManifestWith(t, FileRecord{Path: "a.go", ModTime: base, Size: 10, Branches: []string{"main"}})

	result := Reconcile(m, []DiscoveredFile{{Path: "a.go", ModTime: base.Add(200 * time.Millisecond), Size: 10}}, "main", time.Second)

	assert.Empty(t, result.Adds)
	assert.Empty(t, result.Modifies)
	assert.Empty(t, result.Deletes)
	assert.Empty(t, result.BranchUpdates)
}

func TestReconcile_MissingFromDiskIsDelete(t *testing.T) {
	m := newManifestWith(t, FileRecord{Path: "gone.go", ModTime: time.Now(), Size: 5, Branches: []string{"main"}})

	result := Reconcile(m, nil, "main", 0)

	require.Len(t, result.Deletes, 1)
	assert.Equal(t, "gone.go", result.Deletes[0])
}

func TestReconcile_UnchangedFileGetsBranchVisibilityWidened(t *testing.T) {
	base := time.Now()
	m := newManifestWith(t, FileRecord{Path: "a.go", ModTime: base, Size: 10, Branches: []string{"main"}})

	result := Reconcile(m, []DiscoveredFile{{Path: "a.go", ModTime: base, Size: 10}}, "feature-x", time.Second)

	require.Len(t, result.BranchUpdates, 1)
	assert.ElementsMatch(t, []string{"main", "feature-x"}, result.BranchUpdates[0].Branches)
	assert.Empty(t, result.Modifies)
	assert.Empty(t, result.Adds)
}

func TestReconcile_EmptyBranchDisablesVisibilityBookkeeping(t *testing.T) {
	base := time.Now()
	m := newManifestWith(t, FileRecord{Path: "a.go", ModTime: base, Size: 10})

	result := Reconcile(m, []DiscoveredFile{{Path: "a.go", ModTime: base, Size: 10}}, "", time.Second)

	assert.Empty(t, result.BranchUpdates)
	assert.Empty(t, result.Adds)
	assert.Empty(t, result.Modifies)
}

func TestApply_UpdatesManifestFromResult(t *testing.T) {
	base := time.Now()
	m := newManifestWith(t, FileRecord{Path: "gone.go", ModTime: base})

	result := Result{
		Adds:    []FileRecord{{Path: "new.go", ModTime: base}},
		Deletes: []string{"gone.go"},
	}
	Apply(m, result)

	_, ok := m.Get("gone.go")
	assert.False(t, ok)
	_, ok = m.Get("new.go")
	assert.True(t, ok)
}

func TestManifest_SaveLoadRoundTrips(t *testing.T) {
	root := t.TempDir()
	m, err := LoadManifest(root)
	require.NoError(t, err)

	m.Put(FileRecord{Path: "a.go", ModTime: time.Now().Truncate(time.Second), Size: 42, Branches: []string{"main"}})
	require.NoError(t, m.Save())

	reloaded, err := LoadManifest(root)
	require.NoError(t, err)
	r, ok := reloaded.Get("a.go")
	require.True(t, ok)
	assert.Equal(t, int64(42), r.Size)
	assert.Equal(t, []string{"main"}, r.Branches)
}

func TestManifest_LoadMissingReturnsEmpty(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "nonexistent"))
	require.NoError(t, err)
	assert.Empty(t, m.All())
}

func TestWalk_RespectsExcludeDirsAndExtensions(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "lib.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("hi"), 0o644))

	files, err := Walk(root, WalkOptions{ExcludeDirs: []string{"node_modules"}, FileExtensions: []string{".go"}})
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, "a.go", files[0].Path)
}

func TestWalk_SkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"), make([]byte, 100), 0o644))

	files, err := Walk(root, WalkOptions{MaxFileSize: 10})
	require.NoError(t, err)
	assert.Empty(t, files)
}
