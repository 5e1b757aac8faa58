// Package branch keeps the per-issue working branch alive across attempts.
package branch

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
)

// Result describes how EnsureBranch prepared the branch
type Result string

const (
	// Rebased: the remote branch existed and was rebased onto the base
	Rebased Result = "checked-out-existing-rebased"
	// Recreated: the rebase conflicted, so the branch was reset to the base tip
	Recreated Result = "checked-out-existing-recreated"
	// Created: the remote branch did not exist and was created from the base tip
	Created Result = "created-fresh"
)

// VCS is the subset of version-control operations the manager needs. It
// operates on a single local working tree.
type VCS interface {
	Fetch(ctx context.Context) error
	RemoteBranchExists(ctx context.Context, branch string) (bool, error)
	CheckoutTracking(ctx context.Context, branch string) error
	Rebase(ctx context.Context, onto string) error
	AbortRebase(ctx context.Context) error
	CreateBranchFrom(ctx context.Context, branch, base string) error
}

// Recorder observes recovery actions. Implemented by the metrics package.
type Recorder interface {
	BranchPrepared(result Result)
}

// Manager ensures the working branch exists and is current
type Manager struct {
	vcs      VCS
	recorder Recorder
}

// NewManager creates a branch manager. recorder may be nil.
func NewManager(vcs VCS, recorder Recorder) *Manager {
	return &Manager{vcs: vcs, recorder: recorder}
}

// Name derives the working branch for an issue: <prefix>/issue-<id>
func Name(prefix string, issue int) string {
	return fmt.Sprintf("%s/issue-%d", prefix, issue)
}

// EnsureBranch fetches, then checks out branch rebased onto base. A rebase
// conflict is recovered by recreating the branch from the base tip. Only a
// failure to fetch, check out or create is returned as an error.
func (m *Manager) EnsureBranch(ctx context.Context, branch, base string) (Result, error) {
	log := clog.FromContext(ctx).With("branch", branch, "base", base)

	if err := m.vcs.Fetch(ctx); err != nil {
		return "", fmt.Errorf("failed to fetch: %w", err)
	}

	exists, err := m.vcs.RemoteBranchExists(ctx, branch)
	if err != nil {
		return "", err
	}

	if !exists {
		if err := m.vcs.CreateBranchFrom(ctx, branch, base); err != nil {
			return "", fmt.Errorf("failed to create branch: %w", err)
		}
		log.Infof("Created branch %s from %s", branch, base)
		return m.record(Created), nil
	}

	if err := m.vcs.CheckoutTracking(ctx, branch); err != nil {
		return "", fmt.Errorf("failed to checkout branch: %w", err)
	}

	rebaseErr := m.vcs.Rebase(ctx, base)
	if rebaseErr == nil {
		log.Infof("Rebased %s onto %s", branch, base)
		return m.record(Rebased), nil
	}

	log.Warnf("Rebase of %s onto %s failed, recreating branch from %s: %v", branch, base, base, rebaseErr)

	// Abort can fail when the rebase never started; the forced checkout
	// below restores the tree either way.
	if err := m.vcs.AbortRebase(ctx); err != nil {
		log.Warnf("Abort rebase: %v", err)
	}

	if err := m.vcs.CreateBranchFrom(ctx, branch, base); err != nil {
		return "", fmt.Errorf("failed to recreate branch after conflict: %w", err)
	}
	return m.record(Recreated), nil
}

func (m *Manager) record(result Result) Result {
	if m.recorder != nil {
		m.recorder.BranchPrepared(result)
	}
	return result
}
