package git

import (
	"context"
	"errors"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Status describes the checkout a debuggee was launched from.
type Status struct {
	Hash   string
	Branch string
	Dirty  bool
}

// Revision inspects the repository containing dir, walking up to find .git.
// A directory outside any repository yields a zero Status and no error.
func Revision(ctx context.Context, dir string, checkDirty bool) (Status, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Fresh repository without commits.
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	status := Status{Hash: head.Hash().String()}
	if head.Name().IsBranch() {
		status.Branch = head.Name().Short()
	}
	if checkDirty {
		wt, err := repo.Worktree()
		if err != nil {
			return status, err
		}
		st, err := wt.Status()
		if err != nil {
			return status, err
		}
		status.Dirty = !st.IsClean()
	}
	return status, nil
}

// String renders the status as hash, with a "+dirty" suffix when needed.
func (s Status) String() string {
	if s.Hash == "" {
		return ""
	}
	if s.Dirty {
		return s.Hash + "+dirty"
	}
	return s.Hash
}
