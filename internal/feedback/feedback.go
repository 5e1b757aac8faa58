// Package feedback merges review verdicts and PR discussion into the work
// order handed to the next coding attempt.
package feedback

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"github.com/sallandpioneers/code-agent/internal/approval"
	"github.com/sallandpioneers/code-agent/internal/providers"
	"github.com/sallandpioneers/code-agent/internal/security"
)

// Source is where a feedback item came from
type Source string

const (
	SourceReview  Source = "review"  // change-request review body
	SourceInline  Source = "inline"  // code comment
	SourceComment Source = "comment" // general discussion
)

// Item is a single piece of PR feedback
type Item struct {
	Source Source
	Author string
	Path   string
	Line   int
	Body   string
	At     time.Time
}

// String formats the item the way the coding agent sees it
func (i Item) String() string {
	switch i.Source {
	case SourceReview:
		return fmt.Sprintf("[Review from %s]: %s", i.Author, i.Body)
	case SourceInline:
		if i.Line == 0 {
			return fmt.Sprintf("[Code comment from %s on %s]: %s", i.Author, i.Path, i.Body)
		}
		return fmt.Sprintf("[Code comment from %s on %s line %d]: %s", i.Author, i.Path, i.Line, i.Body)
	default:
		return fmt.Sprintf("[Comment from %s]: %s", i.Author, i.Body)
	}
}

// Feedback is the aggregated input for one coding attempt.
// Reviewer holds the latest marked change-request body, Comments everything
// else in chronological order. Repeated comments are kept as-is.
type Feedback struct {
	Reviewer string
	Comments []Item
}

// Empty reports whether there is nothing to address
func (f *Feedback) Empty() bool {
	return f == nil || (f.Reviewer == "" && len(f.Comments) == 0)
}

// Render returns the feedback section of a work order, or "" when empty
func (f *Feedback) Render() string {
	if f.Empty() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Feedback to address:\n")
	if f.Reviewer != "" {
		sb.WriteString("\n### AI Reviewer feedback:\n")
		sb.WriteString(f.Reviewer)
		sb.WriteString("\n")
	}
	if len(f.Comments) > 0 {
		sb.WriteString("\n### PR comments:\n")
		for _, item := range f.Comments {
			sb.WriteString(item.String())
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Aggregator builds Feedback from a PR on the host
type Aggregator struct {
	host    providers.Host
	oracle  *approval.Oracle
	allowed []string
}

// New creates an aggregator. allowedAuthors filters PR comments; an empty
// list accepts everyone. The AI reviewer section is never filtered. Comments
// carrying providers.BotMarker are always skipped.
func New(host providers.Host, oracle *approval.Oracle, allowedAuthors []string) *Aggregator {
	return &Aggregator{host: host, oracle: oracle, allowed: allowedAuthors}
}

// BuildFeedback collects feedback for issue from pr. It returns nil when pr
// is nil or nothing needs addressing.
func (a *Aggregator) BuildFeedback(ctx context.Context, issue int, pr *providers.PullRequest) (*Feedback, error) {
	if pr == nil {
		return nil, nil
	}
	log := clog.FromContext(ctx).With("issue", issue, "pr", pr.Number)

	var (
		reviews  []*providers.Review
		comments []*providers.Comment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		reviews, err = a.host.GetReviews(gctx, pr.Number)
		return err
	})
	g.Go(func() (err error) {
		comments, err = a.host.GetComments(gctx, pr.Number)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collecting feedback from PR #%d: %w", pr.Number, err)
	}

	fb := &Feedback{}
	if latest := approval.LatestMarked(reviews, a.oracle.Marker()); approval.StatusOf(latest) == approval.StatusChangesRequested {
		fb.Reviewer = latest.Body
	}

	for _, r := range providers.SortReviews(reviews) {
		if r.Verdict != providers.VerdictChangesRequested || strings.TrimSpace(r.Body) == "" {
			continue
		}
		if !security.IsAuthorized(ctx, a.allowed, r.Author) {
			continue
		}
		fb.Comments = append(fb.Comments, Item{Source: SourceReview, Author: r.Author, Body: r.Body, At: r.SubmittedAt})
	}
	for _, c := range comments {
		if providers.IsBotComment(c.Body) {
			continue
		}
		if !security.IsAuthorized(ctx, a.allowed, c.Author) {
			continue
		}
		item := Item{Source: SourceComment, Author: c.Author, Body: c.Body, At: c.CreatedAt}
		if c.Kind == providers.CommentInline {
			item.Source = SourceInline
			item.Path = c.Path
			item.Line = c.Line
		}
		fb.Comments = append(fb.Comments, item)
	}
	sort.SliceStable(fb.Comments, func(i, j int) bool {
		return fb.Comments[i].At.Before(fb.Comments[j].At)
	})

	if fb.Empty() {
		log.Debug("No feedback on PR")
		return nil, nil
	}
	log.Infof("Collected feedback: reviewer=%t, comments=%d", fb.Reviewer != "", len(fb.Comments))
	return fb, nil
}
