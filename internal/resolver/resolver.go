// Package resolver infers from remote state whether an issue needs a coding
// attempt.
package resolver

import (
	"context"
	"fmt"

	"github.com/sallandpioneers/code-agent/internal/branch"
	"github.com/sallandpioneers/code-agent/internal/providers"
)

// Reason explains a resolution
type Reason string

const (
	ReasonTerminalPR       Reason = "pr-terminal"       // merged or closed; never touched again
	ReasonNoPR             Reason = "no-open-pr"        // no attempt produced a live PR
	ReasonAwaitingReview   Reason = "awaiting-review"   // open PR, no reviews yet
	ReasonChangesRequested Reason = "changes-requested" // latest review requests changes
	ReasonReviewed         Reason = "reviewed"          // latest review is not a change request
)

// Resolution is the outcome of resolving one issue
type Resolution struct {
	Issue     int
	Branch    string
	PR        *providers.PullRequest // open or terminal PR, nil when none
	NeedsWork bool
	Reason    Reason
}

// Resolver derives work state from PRs and reviews on the host
type Resolver struct {
	host   providers.Host
	prefix string
}

// New creates a resolver for branches named <prefix>/issue-<id>
func New(host providers.Host, prefix string) *Resolver {
	return &Resolver{host: host, prefix: prefix}
}

// NeedsWork reports whether the issue currently needs a coding attempt
func (r *Resolver) NeedsWork(ctx context.Context, issue int) (bool, error) {
	res, err := r.Resolve(ctx, issue)
	if err != nil {
		return false, err
	}
	return res.NeedsWork, nil
}

// Resolve computes the full resolution for an issue. More than one open PR
// on the branch is returned as providers.ErrAmbiguousPR.
func (r *Resolver) Resolve(ctx context.Context, issue int) (*Resolution, error) {
	res := &Resolution{Issue: issue, Branch: branch.Name(r.prefix, issue)}

	latest, err := r.host.FindAnyPR(ctx, res.Branch)
	if err != nil {
		return nil, fmt.Errorf("issue #%d: %w", issue, err)
	}
	if latest != nil && latest.IsTerminal() {
		res.PR = latest
		res.Reason = ReasonTerminalPR
		return res, nil
	}

	open, err := r.host.FindOpenPR(ctx, res.Branch)
	if err != nil {
		return nil, fmt.Errorf("issue #%d: %w", issue, err)
	}
	if open == nil {
		res.NeedsWork = true
		res.Reason = ReasonNoPR
		return res, nil
	}
	res.PR = open

	reviews, err := r.host.GetReviews(ctx, open.Number)
	if err != nil {
		return nil, fmt.Errorf("issue #%d: %w", issue, err)
	}
	if len(reviews) == 0 {
		res.Reason = ReasonAwaitingReview
		return res, nil
	}

	sorted := providers.SortReviews(reviews)
	if sorted[len(sorted)-1].Verdict == providers.VerdictChangesRequested {
		res.NeedsWork = true
		res.Reason = ReasonChangesRequested
		return res, nil
	}
	res.Reason = ReasonReviewed
	return res, nil
}
