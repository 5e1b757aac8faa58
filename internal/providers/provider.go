package providers

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned by lookups by number when the object does not exist
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousPR is a data-integrity error: a branch has more than one open PR
	ErrAmbiguousPR = errors.New("multiple open pull requests for branch")
)

// Issue represents an issue on the code host
type Issue struct {
	Number    int
	Title     string
	Body      string
	Labels    []string
	State     string
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PRState is the lifecycle state of a pull request
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed" // closed without merge
	PRStateMerged PRState = "merged"
)

// PullRequest represents a pull request
type PullRequest struct {
	Number    int
	Title     string
	Body      string
	State     PRState
	Draft     bool
	HTMLURL   string
	HeadRef   string
	HeadSHA   string
	BaseRef   string
	Author    string
	CreatedAt time.Time
}

// IsTerminal reports whether the PR is merged or closed. No further work is
// attempted against the branch of a terminal PR.
func (p *PullRequest) IsTerminal() bool {
	return p.State == PRStateMerged || p.State == PRStateClosed
}

// Verdict is the outcome carried by a review
type Verdict string

const (
	VerdictApproved         Verdict = "APPROVED"
	VerdictChangesRequested Verdict = "CHANGES_REQUESTED"
	VerdictCommented        Verdict = "COMMENTED"
	VerdictDismissed        Verdict = "DISMISSED"
)

// Review is a submitted review on a PR
type Review struct {
	ID          int64
	Author      string
	Verdict     Verdict
	Body        string
	SubmittedAt time.Time
}

// SortReviews returns the reviews ordered by submission time, oldest first.
// Equal timestamps are ordered by ID.
func SortReviews(reviews []*Review) []*Review {
	sorted := make([]*Review, len(reviews))
	copy(sorted, reviews)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].SubmittedAt.Equal(sorted[j].SubmittedAt) {
			return sorted[i].SubmittedAt.Before(sorted[j].SubmittedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// CommentKind distinguishes discussion comments from code comments
type CommentKind string

const (
	CommentGeneral CommentKind = "general"
	CommentInline  CommentKind = "inline"
)

// Comment represents a comment on an issue or PR
type Comment struct {
	ID        int64
	Kind      CommentKind
	Body      string
	Author    string
	Path      string // inline only
	Line      int    // inline only
	CreatedAt time.Time
}

// Commit is a commit on a PR branch
type Commit struct {
	SHA        string
	AuthoredAt time.Time
}

// PRCreate contains fields for creating a PR
type PRCreate struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// Host is the code host API bound to a single repository.
//
// Finder operations (FindOpenPR, FindAnyPR) return nil with a nil error when
// nothing matches. Transport and permission failures are returned as errors
// and never retried.
type Host interface {
	// Issue operations
	GetIssue(ctx context.Context, number int) (*Issue, error)
	ListOpenIssues(ctx context.Context) ([]*Issue, error)

	// PR lookups
	FindOpenPR(ctx context.Context, branch string) (*PullRequest, error)
	FindAnyPR(ctx context.Context, branch string) (*PullRequest, error)
	GetPR(ctx context.Context, number int) (*PullRequest, error)
	ListOpenPRs(ctx context.Context) ([]*PullRequest, error)

	// PR contents
	GetReviews(ctx context.Context, pr int) ([]*Review, error)
	GetComments(ctx context.Context, pr int) ([]*Comment, error)
	GetCommits(ctx context.Context, pr int) ([]*Commit, error)
	GetDiff(ctx context.Context, pr int) (string, error)

	// Writes
	CreatePR(ctx context.Context, pr PRCreate) (*PullRequest, error)
	CreateReview(ctx context.Context, pr int, verdict Verdict, body string) error
	CreateComment(ctx context.Context, number int, body string) (int64, error)
	UpdateComment(ctx context.Context, commentID int64, body string) error
	RequestReviewers(ctx context.Context, pr int, reviewers []string) error

	// Repo returns the owner/name the host is bound to
	Repo() string
}

// CIStatus represents the status of a CI check
type CIStatus string

const (
	CIStatusPending CIStatus = "pending"
	CIStatusSuccess CIStatus = "success"
	CIStatusFailure CIStatus = "failure"
	CIStatusUnknown CIStatus = "unknown"
)

// CICheck represents a single CI check run
type CICheck struct {
	Name       string
	Status     CIStatus
	Conclusion string
	DetailsURL string
	Output     string // Summary output (may be truncated)
}

// CIResult represents the combined CI status for a PR
type CIResult struct {
	OverallStatus CIStatus
	Checks        []CICheck
}

// CIProvider is an optional interface for CI operations
// Use type assertion: if ci, ok := host.(CIProvider); ok { ... }
type CIProvider interface {
	GetCIStatus(ctx context.Context, pr int) (*CIResult, error)
}

// CombineCIStatus folds individual checks into an overall status. Any failure
// wins, then any pending check; no checks at all is unknown.
func CombineCIStatus(checks []CICheck) CIStatus {
	if len(checks) == 0 {
		return CIStatusUnknown
	}
	overall := CIStatusSuccess
	for _, c := range checks {
		switch c.Status {
		case CIStatusFailure:
			return CIStatusFailure
		case CIStatusPending:
			overall = CIStatusPending
		}
	}
	return overall
}
