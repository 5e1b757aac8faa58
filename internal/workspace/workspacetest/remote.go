// Package workspacetest provides local git remotes for tests.
package workspacetest

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// RequireGit skips the test when the git binary is unavailable. Local
// transports and rebase both shell out to it.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not found in PATH")
	}
}

// Remote is a bare repository fed by a private seed clone
type Remote struct {
	t       testing.TB
	Dir     string
	seedDir string
	seed    *git.Repository
}

// NewRemote creates a bare remote whose main branch holds a single commit
// adding README.md.
func NewRemote(t testing.TB) *Remote {
	t.Helper()
	RequireGit(t)

	bareDir := t.TempDir()
	bare, err := git.PlainInit(bareDir, true)
	if err != nil {
		t.Fatalf("PlainInit bare: %v", err)
	}
	if err := bare.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		t.Fatalf("SetReference: %v", err)
	}

	seedDir := t.TempDir()
	seed, err := git.PlainInit(seedDir, false)
	if err != nil {
		t.Fatalf("PlainInit seed: %v", err)
	}
	if err := seed.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	if _, err := seed.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{bareDir}}); err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}

	r := &Remote{t: t, Dir: bareDir, seedDir: seedDir, seed: seed}
	r.commit("README.md", "hello\n", "initial")
	r.push("main")
	return r
}

// Commit writes path on branch (created from main when missing), commits
// and pushes it. It returns the new commit hash.
func (r *Remote) Commit(branch, path, content, message string) string {
	r.t.Helper()

	ref := plumbing.NewBranchReferenceName(branch)
	if _, err := r.seed.Reference(ref, false); err != nil {
		main, err := r.seed.Reference(plumbing.NewBranchReferenceName("main"), false)
		if err != nil {
			r.t.Fatalf("Reference main: %v", err)
		}
		if err := r.seed.Storer.SetReference(plumbing.NewHashReference(ref, main.Hash())); err != nil {
			r.t.Fatalf("SetReference: %v", err)
		}
	}

	wt, err := r.seed.Worktree()
	if err != nil {
		r.t.Fatalf("Worktree: %v", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref, Force: true}); err != nil {
		r.t.Fatalf("Checkout %s: %v", branch, err)
	}

	hash := r.commit(path, content, message)
	r.push(branch)
	return hash
}

// Head returns the commit branch points at on the remote
func (r *Remote) Head(branch string) string {
	r.t.Helper()

	repo, err := git.PlainOpen(r.Dir)
	if err != nil {
		r.t.Fatalf("PlainOpen: %v", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		r.t.Fatalf("Reference %s: %v", branch, err)
	}
	return ref.Hash().String()
}

// HasBranch reports whether branch exists on the remote
func (r *Remote) HasBranch(branch string) bool {
	r.t.Helper()

	repo, err := git.PlainOpen(r.Dir)
	if err != nil {
		r.t.Fatalf("PlainOpen: %v", err)
	}
	_, err = repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	return err == nil
}

func (r *Remote) commit(path, content, message string) string {
	r.t.Helper()

	full := filepath.Join(r.seedDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		r.t.Fatalf("WriteFile: %v", err)
	}

	wt, err := r.seed.Worktree()
	if err != nil {
		r.t.Fatalf("Worktree: %v", err)
	}
	if _, err := wt.Add(path); err != nil {
		r.t.Fatalf("Add: %v", err)
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		r.t.Fatalf("Commit: %v", err)
	}
	return hash.String()
}

func (r *Remote) push(branch string) {
	r.t.Helper()

	ref := plumbing.NewBranchReferenceName(branch)
	err := r.seed.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec("+" + ref.String() + ":" + ref.String())},
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		r.t.Fatalf("Push %s: %v", branch, err)
	}
}
