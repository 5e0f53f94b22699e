package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

func metaPath(root string) string { return filepath.Join(root, "meta.json") }

// loadMeta reads meta.json. A missing file returns ErrSchemaMismatch-free
// zero value with ok=false so the caller can decide whether to initialize a
// fresh collection or treat it as corruption (per the rebuild triggers of
// §4.5, a missing meta file maps to "missing or corrupt").
func loadMeta(root string) (Meta, bool, error) {
	data, err := os.ReadFile(metaPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, false, nil
		}
		return Meta{}, false, cidxerrors.IOError("store: read meta.json", err)
	}

	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, false, cidxerrors.CorruptionError(cidxerrors.CodeCorruptionPointStore, "store: corrupt meta.json", err)
	}
	return m, true, nil
}

// saveMeta writes meta.json via temp-file-then-rename.
func saveMeta(root string, m Meta) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return cidxerrors.IOError("store: create collection root", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return cidxerrors.InternalError("store: marshal meta.json", err)
	}

	tmp := metaPath(root) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return cidxerrors.IOError("store: write temp meta.json", err)
	}
	if err := os.Rename(tmp, metaPath(root)); err != nil {
		os.Remove(tmp)
		return cidxerrors.IOError("store: rename meta.json into place", err)
	}
	return nil
}
