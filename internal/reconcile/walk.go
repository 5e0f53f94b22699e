package reconcile

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

// WalkOptions narrows Walk's file discovery the way config.Config does.
type WalkOptions struct {
	ExcludeDirs    []string
	FileExtensions []string // nil means every extension
	MaxFileSize    int64    // 0 means no limit
}

// Walk discovers every indexable regular file under root, relative to root,
// skipping excluded directories and oversized or extension-mismatched
// files. Paths use forward slashes regardless of OS.
func Walk(root string, opts WalkOptions) ([]DiscoveredFile, error) {
	excluded := make(map[string]bool, len(opts.ExcludeDirs))
	for _, d := range opts.ExcludeDirs {
		excluded[d] = true
	}

	var out []DiscoveredFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if excluded[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		if !matchesExtension(rel, opts.FileExtensions) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
			return nil
		}

		out = append(out, DiscoveredFile{Path: rel, ModTime: info.ModTime(), Size: info.Size()})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cidxerrors.New(cidxerrors.CodeIOFileNotFound, "reconcile: walk project root", err).WithDetail("root", root)
		}
		return nil, cidxerrors.IOError("reconcile: walk project root", err)
	}

	return out, nil
}

func matchesExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, want := range extensions {
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}
