package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/sallandpioneers/code-agent/internal/providers"
)

// Repo is the local clone as seen by the publishing step
type Repo interface {
	CommitAll(ctx context.Context, message string) (bool, error)
	HasCommitsAhead(ctx context.Context, base string) (bool, error)
	Push(ctx context.Context, branch string) error
}

// PRPhase commits, pushes and opens or updates the pull request for a branch
type PRPhase struct {
	host     providers.Host
	repo     Repo
	reviewer string
}

// NewPRPhase creates a new PR phase handler. reviewer is requested on new
// PRs; empty skips the request.
func NewPRPhase(host providers.Host, repo Repo, reviewer string) *PRPhase {
	return &PRPhase{
		host:     host,
		repo:     repo,
		reviewer: reviewer,
	}
}

// PRResult represents the result of publishing
type PRResult struct {
	PR      *providers.PullRequest // nil when there was nothing to publish
	Created bool
	Updated bool
}

// Publish makes the work on branch visible. It returns an empty result
// when the branch has no commits beyond base.
func (p *PRPhase) Publish(ctx context.Context, issue *providers.Issue, branch, base string, iteration int) (*PRResult, error) {
	log := clog.FromContext(ctx).With("issue", issue.Number, "branch", branch)

	commitMsg := fmt.Sprintf("Implement: %s\n\nCloses #%d", issue.Title, issue.Number)
	committed, err := p.repo.CommitAll(ctx, commitMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	if committed {
		log.Debug("Committed leftover changes")
	}

	ahead, err := p.repo.HasCommitsAhead(ctx, base)
	if err != nil {
		return nil, err
	}
	if !ahead {
		log.Warnf("Branch has no commits beyond %s, nothing to publish", base)
		return &PRResult{}, nil
	}

	if err := p.repo.Push(ctx, branch); err != nil {
		return nil, fmt.Errorf("failed to push: %w", err)
	}

	existing, err := p.host.FindOpenPR(ctx, branch)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := p.update(ctx, existing, iteration); err != nil {
			return nil, err
		}
		log.Infof("Updated PR #%d", existing.Number)
		return &PRResult{PR: existing, Updated: true}, nil
	}

	pr, err := p.host.CreatePR(ctx, providers.PRCreate{
		Title: fmt.Sprintf("Implement: %s", issue.Title),
		Body:  formatPRBody(issue),
		Head:  branch,
		Base:  base,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PR: %w", err)
	}
	log.Infof("Created PR #%d", pr.Number)

	// The PR exists either way; a missing review request is not worth failing the issue
	if p.reviewer != "" {
		if err := p.host.RequestReviewers(ctx, pr.Number, []string{p.reviewer}); err != nil {
			log.Warnf("Failed to request review on PR #%d: %v", pr.Number, err)
		}
	}

	return &PRResult{PR: pr, Created: true}, nil
}

// update announces new work on an open PR and asks everyone who requested
// changes to look again
func (p *PRPhase) update(ctx context.Context, pr *providers.PullRequest, iteration int) error {
	body := providers.AddBotMarker(fmt.Sprintf("Pushed changes addressing review feedback (iteration %d).", iteration))
	if _, err := p.host.CreateComment(ctx, pr.Number, body); err != nil {
		return fmt.Errorf("failed to comment on PR #%d: %w", pr.Number, err)
	}

	reviews, err := p.host.GetReviews(ctx, pr.Number)
	if err != nil {
		return err
	}
	reviewers := ChangeRequesters(reviews)
	if len(reviewers) == 0 {
		return nil
	}
	if err := p.host.RequestReviewers(ctx, pr.Number, reviewers); err != nil {
		clog.FromContext(ctx).Warnf("Failed to re-request review on PR #%d: %v", pr.Number, err)
	}
	return nil
}

// ChangeRequesters returns the authors whose latest review requested
// changes, sorted by login
func ChangeRequesters(reviews []*providers.Review) []string {
	latest := make(map[string]providers.Verdict)
	for _, r := range providers.SortReviews(reviews) {
		if r.Author == "" || r.Verdict == providers.VerdictCommented {
			continue
		}
		latest[r.Author] = r.Verdict
	}

	var authors []string
	for author, verdict := range latest {
		if verdict == providers.VerdictChangesRequested {
			authors = append(authors, author)
		}
	}
	sort.Strings(authors)
	return authors
}

func formatPRBody(issue *providers.Issue) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Closes #%d\n\n", issue.Number))
	sb.WriteString("---\n")
	sb.WriteString("*Automated implementation by code-agent*\n")
	return sb.String()
}
