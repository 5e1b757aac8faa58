package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"
)

const remoteName = "origin"

// ErrFetch marks a failure to fetch from the remote. Callers treat it as a
// hard failure: nothing on the branch can be trusted without fresh refs.
var ErrFetch = errors.New("fetch failed")

// Identity is the author used for commits made in the workspace
type Identity struct {
	Name  string
	Email string
}

// Options configures a Workspace
type Options struct {
	Path      string
	RemoteURL string
	// TokenSource authenticates fetch and push. Nil means anonymous, which
	// is what local remotes in tests use.
	TokenSource oauth2.TokenSource
	Identity    Identity
}

// Workspace is the single local clone the engine works in. It is mutated in
// place by every branch operation, so only one issue may use it at a time.
type Workspace struct {
	Path string

	tokenSource oauth2.TokenSource
	identity    Identity
	repo        *git.Repository
}

// Open reuses the clone at opts.Path or clones opts.RemoteURL into it
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	w := &Workspace{
		Path:        opts.Path,
		tokenSource: opts.TokenSource,
		identity:    opts.Identity,
	}

	repo, err := git.PlainOpen(opts.Path)
	switch {
	case err == nil:
		clog.FromContext(ctx).Debugf("Reusing clone at %s", opts.Path)
		w.repo = repo
		return w, nil
	case !errors.Is(err, git.ErrRepositoryNotExists):
		return nil, fmt.Errorf("failed to open repository at %s: %w", opts.Path, err)
	}

	auth, err := w.auth()
	if err != nil {
		return nil, err
	}

	clog.FromContext(ctx).Infof("Cloning %s into %s", opts.RemoteURL, opts.Path)
	repo, err = git.PlainCloneContext(ctx, opts.Path, false, &git.CloneOptions{
		URL:        opts.RemoteURL,
		RemoteName: remoteName,
		Auth:       auth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	w.repo = repo
	return w, nil
}

// Repository exposes the underlying go-git repository
func (w *Workspace) Repository() *git.Repository {
	return w.repo
}

func (w *Workspace) auth() (transport.AuthMethod, error) {
	if w.tokenSource == nil {
		return nil, nil
	}
	token, err := w.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &githttp.BasicAuth{
		Username: "unused-when-using-access-tokens",
		Password: token.AccessToken,
	}, nil
}

// Fetch updates every remote-tracking branch, pruning deleted ones
func (w *Workspace) Fetch(ctx context.Context) error {
	auth, err := w.auth()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}

	err = w.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		Auth:       auth,
		Prune:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return nil
}

func (w *Workspace) remoteRef(branch string) (*plumbing.Reference, error) {
	return w.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
}

// RemoteBranchExists reports whether origin/<branch> is known after the last fetch
func (w *Workspace) RemoteBranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := w.remoteRef(branch)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to resolve origin/%s: %w", branch, err)
	}
	return true, nil
}

// CheckoutTracking points the local branch at origin/<branch>, configures it
// to track the remote and checks it out, discarding local modifications.
func (w *Workspace) CheckoutTracking(ctx context.Context, branch string) error {
	ref, err := w.remoteRef(branch)
	if err != nil {
		return fmt.Errorf("failed to resolve origin/%s: %w", branch, err)
	}
	return w.checkoutAt(branch, ref.Hash())
}

// CreateBranchFrom creates (or resets) branch at the tip of origin/<base>
// and checks it out.
func (w *Workspace) CreateBranchFrom(ctx context.Context, branch, base string) error {
	ref, err := w.remoteRef(base)
	if err != nil {
		return fmt.Errorf("failed to resolve origin/%s: %w", base, err)
	}
	return w.checkoutAt(branch, ref.Hash())
}

func (w *Workspace) checkoutAt(branch string, hash plumbing.Hash) error {
	refName := plumbing.NewBranchReferenceName(branch)
	if err := w.repo.Storer.SetReference(plumbing.NewHashReference(refName, hash)); err != nil {
		return fmt.Errorf("failed to set branch %s: %w", branch, err)
	}

	if err := w.setUpstream(branch); err != nil {
		return err
	}

	worktree, err := w.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: refName, Force: true}); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", branch, err)
	}
	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("failed to clean worktree: %w", err)
	}
	return nil
}

func (w *Workspace) setUpstream(branch string) error {
	if _, err := w.repo.Branch(branch); err == nil {
		return nil
	} else if !errors.Is(err, git.ErrBranchNotFound) {
		return fmt.Errorf("failed to read branch config: %w", err)
	}

	err := w.repo.CreateBranch(&gitconfig.Branch{
		Name:   branch,
		Remote: remoteName,
		Merge:  plumbing.NewBranchReferenceName(branch),
	})
	if err != nil {
		return fmt.Errorf("failed to configure upstream for %s: %w", branch, err)
	}
	return nil
}

// Rebase replays the current branch onto origin/<onto>. The git binary is
// used because go-git has no rebase.
func (w *Workspace) Rebase(ctx context.Context, onto string) error {
	if output, err := w.git(ctx, "rebase", remoteName+"/"+onto); err != nil {
		return fmt.Errorf("failed to rebase onto %s: %w: %s", onto, err, output)
	}
	return nil
}

// AbortRebase abandons an in-progress rebase
func (w *Workspace) AbortRebase(ctx context.Context) error {
	if output, err := w.git(ctx, "rebase", "--abort"); err != nil {
		return fmt.Errorf("failed to abort rebase: %w: %s", err, output)
	}
	return nil
}

func (w *Workspace) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.Path
	cmd.Env = append(os.Environ(),
		"GIT_COMMITTER_NAME="+w.identity.Name,
		"GIT_COMMITTER_EMAIL="+w.identity.Email,
		"GIT_EDITOR=true",
	)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// CurrentBranch returns the short name of the checked out branch
func (w *Workspace) CurrentBranch(ctx context.Context) (string, error) {
	head, err := w.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Name().Short(), nil
}

// Head returns the commit HEAD points at
func (w *Workspace) Head(ctx context.Context) (string, error) {
	head, err := w.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// RemoteHead returns the commit origin/<branch> points at
func (w *Workspace) RemoteHead(ctx context.Context, branch string) (string, error) {
	ref, err := w.remoteRef(branch)
	if err != nil {
		return "", fmt.Errorf("failed to resolve origin/%s: %w", branch, err)
	}
	return ref.Hash().String(), nil
}

// HasChanges checks if there are uncommitted changes
func (w *Workspace) HasChanges(ctx context.Context) (bool, error) {
	worktree, err := w.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("failed to check status: %w", err)
	}
	return !status.IsClean(), nil
}

// CommitAll stages every change and commits it. It reports false when the
// worktree was already clean.
func (w *Workspace) CommitAll(ctx context.Context, message string) (bool, error) {
	dirty, err := w.HasChanges(ctx)
	if err != nil || !dirty {
		return false, err
	}

	worktree, err := w.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w", err)
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  w.identity.Name,
			Email: w.identity.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

// HasCommitsAhead reports whether HEAD contains commits that origin/<base>
// does not.
func (w *Workspace) HasCommitsAhead(ctx context.Context, base string) (bool, error) {
	head, err := w.repo.Head()
	if err != nil {
		return false, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	baseRef, err := w.remoteRef(base)
	if err != nil {
		return false, fmt.Errorf("failed to resolve origin/%s: %w", base, err)
	}
	if head.Hash() == baseRef.Hash() {
		return false, nil
	}

	headCommit, err := w.repo.CommitObject(head.Hash())
	if err != nil {
		return false, fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	baseCommit, err := w.repo.CommitObject(baseRef.Hash())
	if err != nil {
		return false, fmt.Errorf("failed to load base commit: %w", err)
	}

	contained, err := headCommit.IsAncestor(baseCommit)
	if err != nil {
		return false, fmt.Errorf("failed to compare with %s: %w", base, err)
	}
	return !contained, nil
}

// Push force-pushes branch to origin and records origin as its upstream.
// Force is required because rebases and recreations rewrite the branch.
func (w *Workspace) Push(ctx context.Context, branch string) error {
	auth, err := w.auth()
	if err != nil {
		return err
	}

	ref := plumbing.NewBranchReferenceName(branch)
	refSpec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", ref, ref))
	clog.FromContext(ctx).Infof("Force pushing %s", refSpec)

	err = w.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
		Auth:       auth,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push %s: %w", branch, err)
	}

	if err := w.setUpstream(branch); err != nil {
		return err
	}

	// Keep the remote-tracking ref in step so the next RemoteBranchExists
	// sees the push without another fetch.
	head, err := w.repo.Reference(ref, true)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", branch, err)
	}
	tracking := plumbing.NewHashReference(plumbing.NewRemoteReferenceName(remoteName, branch), head.Hash())
	if err := w.repo.Storer.SetReference(tracking); err != nil {
		return fmt.Errorf("failed to update origin/%s: %w", branch, err)
	}
	return nil
}
