package query

import (
	"context"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

// QueryTemporal returns up to limit commits reachable from branch (most
// recent first), each with its changed files, for temporal search over
// commit history rather than current file content. Returns an error if the
// collection's project is not a git repository.
func (e *Engine) QueryTemporal(ctx context.Context, branch string, limit int) ([]TemporalResult, error) {
	if e.Git == nil {
		return nil, cidxerrors.New(cidxerrors.CodeBadInputPath, "query: temporal search requires a git repository", nil)
	}

	commits, err := e.Git.CommitsOnBranch(branch, limit)
	if err != nil {
		return nil, err
	}

	out := make([]TemporalResult, len(commits))
	for i, c := range commits {
		files := make([]string, len(c.Files))
		for j, f := range c.Files {
			files[j] = f.Path
		}
		out[i] = TemporalResult{
			Hash:      c.Hash,
			Message:   c.Message,
			Author:    c.Author,
			Timestamp: c.Timestamp,
			Files:     files,
		}
	}
	return out, nil
}
