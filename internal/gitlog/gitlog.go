// Package gitlog resolves the current branch for file-visibility stamping
// (C9) and iterates commit history for temporal indexing, grounded on
// go-git the way the pack's MCP git integration uses it.
package gitlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

// Repo wraps an opened repository for branch and commit queries.
type Repo struct {
	repo *git.Repository
	root string
}

// Open opens the git repository rooted at or above path. A non-git project
// is not an error at this layer; callers treat ErrNotARepo as "no branch
// visibility to track."
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			return nil, ErrNotARepo
		}
		return nil, cidxerrors.IOError("gitlog: open repository", err)
	}
	return &Repo{repo: repo, root: path}, nil
}

// ErrNotARepo signals path is not inside a git working tree.
var ErrNotARepo = fmt.Errorf("gitlog: not a git repository")

// CurrentBranch returns the short name of HEAD's branch, or "" for a
// detached HEAD.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", cidxerrors.IOError("gitlog: resolve HEAD", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// Commit is one entry in commit history, carrying enough detail for
// temporal chunking (commit_message and commit_diff chunk types).
type Commit struct {
	Hash      string
	Message   string
	Author    string
	Timestamp time.Time
	Branch    string
	Files     []FileDiff
}

// FileDiff is one file's change within a commit.
type FileDiff struct {
	Path  string
	Patch string
}

// CommitsOnBranch iterates up to limit commits reachable from branch (most
// recent first), including per-file diffs against each commit's first
// parent. limit <= 0 means no limit.
func (r *Repo) CommitsOnBranch(branch string, limit int) ([]Commit, error) {
	var ref *plumbing.Reference
	var err error
	if branch == "" {
		ref, err = r.repo.Head()
	} else {
		ref, err = r.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	}
	if err != nil {
		return nil, cidxerrors.IOError("gitlog: resolve branch reference", err)
	}

	iter, err := r.repo.Log(&git.LogOptions{From: ref.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, cidxerrors.IOError("gitlog: open commit log", err)
	}

	var commits []Commit
	count := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && count >= limit {
			return errStopIteration
		}
		count++

		commit := Commit{
			Hash:      c.Hash.String(),
			Message:   strings.TrimSpace(c.Message),
			Author:    c.Author.Name,
			Timestamp: c.Author.When,
			Branch:    branch,
		}

		if c.NumParents() > 0 {
			parent, perr := c.Parent(0)
			if perr == nil {
				if patch, derr := c.Patch(parent); derr == nil {
					for _, filePatch := range patch.FilePatches() {
						from, to := filePatch.Files()
						path := ""
						if to != nil {
							path = to.Path()
						} else if from != nil {
							path = from.Path()
						}
						commit.Files = append(commit.Files, FileDiff{Path: path, Patch: renderFilePatch(filePatch)})
					}
				}
			}
		}

		commits = append(commits, commit)
		return nil
	})
	if err != nil && err != errStopIteration {
		return nil, cidxerrors.IOError("gitlog: iterate commits", err)
	}

	return commits, nil
}

var errStopIteration = fmt.Errorf("gitlog: stop iteration")

func renderFilePatch(fp object.FilePatch) string {
	var b strings.Builder
	for _, chunk := range fp.Chunks() {
		b.WriteString(chunk.Content())
	}
	return b.String()
}
