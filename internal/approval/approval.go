// Package approval decides the automated review status of a pull request.
//
// Only reviews whose body contains the sentinel marker are authoritative.
// Reviews without it are ignored here even when they are newer; they still
// reach the coding agent through the feedback package.
package approval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sallandpioneers/code-agent/internal/providers"
)

// DefaultMarker identifies reviews written by the review agent
const DefaultMarker = "[AI-Reviewer]"

// Status is the automated review status of a PR
type Status string

const (
	StatusNone             Status = "none" // no marked review yet
	StatusApproved         Status = "approved"
	StatusChangesRequested Status = "changes_requested"
	StatusOther            Status = "other"
)

// Oracle reads review history from the host
type Oracle struct {
	host   providers.Host
	marker string
}

// NewOracle creates an oracle. An empty marker selects DefaultMarker.
func NewOracle(host providers.Host, marker string) *Oracle {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Oracle{host: host, marker: marker}
}

// Marker returns the sentinel this oracle recognizes
func (o *Oracle) Marker() string {
	return o.marker
}

// LatestMarked returns the most recent review carrying marker, or nil
func LatestMarked(reviews []*providers.Review, marker string) *providers.Review {
	sorted := providers.SortReviews(reviews)
	for i := len(sorted) - 1; i >= 0; i-- {
		if strings.Contains(sorted[i].Body, marker) {
			return sorted[i]
		}
	}
	return nil
}

// StatusOf maps a marked review to a status. nil means StatusNone.
func StatusOf(review *providers.Review) Status {
	if review == nil {
		return StatusNone
	}
	switch review.Verdict {
	case providers.VerdictApproved:
		return StatusApproved
	case providers.VerdictChangesRequested:
		return StatusChangesRequested
	default:
		return StatusOther
	}
}

// Latest returns the most recent marked review on pr, or nil
func (o *Oracle) Latest(ctx context.Context, pr int) (*providers.Review, error) {
	reviews, err := o.host.GetReviews(ctx, pr)
	if err != nil {
		return nil, err
	}
	return LatestMarked(reviews, o.marker), nil
}

// GetStatus returns the verdict of the latest marked review on pr
func (o *Oracle) GetStatus(ctx context.Context, pr int) (Status, error) {
	review, err := o.Latest(ctx, pr)
	if err != nil {
		return "", err
	}
	return StatusOf(review), nil
}

// IsApproved reports whether the latest marked review approved pr
func (o *Oracle) IsApproved(ctx context.Context, pr int) (bool, error) {
	status, err := o.GetStatus(ctx, pr)
	if err != nil {
		return false, err
	}
	return status == StatusApproved, nil
}

// GetReworkFeedback returns the body of the latest marked review when it
// requested changes. ok is false otherwise.
func (o *Oracle) GetReworkFeedback(ctx context.Context, pr int) (string, bool, error) {
	review, err := o.Latest(ctx, pr)
	if err != nil {
		return "", false, err
	}
	if StatusOf(review) != StatusChangesRequested {
		return "", false, nil
	}
	return review.Body, true, nil
}

// NeedsReview reports whether pr should be (re)reviewed: it is not a draft
// and either has no marked review or has a commit newer than the latest one.
func (o *Oracle) NeedsReview(ctx context.Context, pr *providers.PullRequest) (bool, error) {
	if pr.Draft || pr.State != providers.PRStateOpen {
		return false, nil
	}

	var (
		reviews []*providers.Review
		commits []*providers.Commit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		reviews, err = o.host.GetReviews(gctx, pr.Number)
		return err
	})
	g.Go(func() (err error) {
		commits, err = o.host.GetCommits(gctx, pr.Number)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, fmt.Errorf("failed to read PR #%d: %w", pr.Number, err)
	}

	latest := LatestMarked(reviews, o.marker)
	if latest == nil {
		return true, nil
	}
	for _, c := range commits {
		if c.AuthoredAt.After(latest.SubmittedAt) {
			return true, nil
		}
	}
	return false, nil
}
