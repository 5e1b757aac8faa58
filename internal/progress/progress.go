package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sallandpioneers/code-agent/internal/providers"
)

// Status messages with emojis
const (
	StatusPreparing        = "🌿 Preparing branch `%s`..."
	StatusCoding           = "🔨 Coding (iteration %d/%d)..."
	StatusNoPR             = "⚠️ No PR after iteration %d/%d, review skipped"
	StatusReviewing        = "🔍 Reviewing PR #%d (iteration %d/%d)..."
	StatusChangesRequested = "🔄 Changes requested on PR #%d (iteration %d/%d)"
	StatusApproved         = "✨ PR #%d approved after %d iteration(s)"
	StatusExhausted        = "❌ Iteration budget exhausted (%d/%d). Manual intervention required"
	StatusExhaustedWithPR  = "❌ Iteration budget exhausted (%d/%d). Manual intervention required on PR #%d"
	StatusClosed           = "🛑 PR #%d was %s, no further attempts"
	StatusFailed           = "❌ Failed: %s"
)

// Reporter handles posting and updating the status comment on an issue
type Reporter struct {
	host             providers.Host
	issueNumber      int
	statusCommentID  int64         // ID of the status comment (0 if not created)
	lastUpdate       time.Time     // Time of last update
	debounceInterval time.Duration // Minimum time between updates
	mu               sync.Mutex
	enabled          bool
}

// NewReporter creates a new progress reporter
func NewReporter(host providers.Host, issueNumber int, debounceInterval time.Duration, enabled bool) *Reporter {
	return &Reporter{
		host:             host,
		issueNumber:      issueNumber,
		debounceInterval: debounceInterval,
		enabled:          enabled,
	}
}

// Update posts or updates the status comment with debouncing
// Updates are skipped if less than debounceInterval has passed since the last update
func (r *Reporter) Update(ctx context.Context, status string) error {
	if r == nil || !r.enabled {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.lastUpdate) < r.debounceInterval && r.statusCommentID != 0 {
		return nil
	}

	return r.doUpdate(ctx, status)
}

// ForceUpdate posts or updates the status comment, bypassing debounce
func (r *Reporter) ForceUpdate(ctx context.Context, status string) error {
	if r == nil || !r.enabled {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.doUpdate(ctx, status)
}

// Finalize posts the final status update (always posted, no debounce)
func (r *Reporter) Finalize(ctx context.Context, status string) error {
	return r.ForceUpdate(ctx, status)
}

// doUpdate performs the actual update (must be called with lock held)
func (r *Reporter) doUpdate(ctx context.Context, status string) error {
	body := formatStatusComment(status)

	if r.statusCommentID == 0 {
		commentID, err := r.host.CreateComment(ctx, r.issueNumber, body)
		if err != nil {
			return fmt.Errorf("failed to create status comment: %w", err)
		}
		r.statusCommentID = commentID
	} else {
		if err := r.host.UpdateComment(ctx, r.statusCommentID, body); err != nil {
			return fmt.Errorf("failed to update status comment: %w", err)
		}
	}

	r.lastUpdate = time.Now()
	return nil
}

func formatStatusComment(status string) string {
	return providers.AddBotMarker(fmt.Sprintf("**Status:** %s", status))
}

// FormatPreparing formats the branch preparation status message
func FormatPreparing(branch string) string {
	return fmt.Sprintf(StatusPreparing, branch)
}

// FormatCoding formats the coding status message
func FormatCoding(iteration, total int) string {
	return fmt.Sprintf(StatusCoding, iteration, total)
}

// FormatNoPR formats the skipped-review status message
func FormatNoPR(iteration, total int) string {
	return fmt.Sprintf(StatusNoPR, iteration, total)
}

// FormatReviewing formats the review status message
func FormatReviewing(pr, iteration, total int) string {
	return fmt.Sprintf(StatusReviewing, pr, iteration, total)
}

// FormatChangesRequested formats the rework status message
func FormatChangesRequested(pr, iteration, total int) string {
	return fmt.Sprintf(StatusChangesRequested, pr, iteration, total)
}

// FormatApproved formats the success status message
func FormatApproved(pr, iterations int) string {
	return fmt.Sprintf(StatusApproved, pr, iterations)
}

// FormatExhausted formats the manual-intervention message. pr may be 0.
func FormatExhausted(iterations, total, pr int) string {
	if pr > 0 {
		return fmt.Sprintf(StatusExhaustedWithPR, iterations, total, pr)
	}
	return fmt.Sprintf(StatusExhausted, iterations, total)
}

// FormatClosed formats the message posted when the PR was merged or closed
// while the issue was being worked on
func FormatClosed(pr int, state string) string {
	return fmt.Sprintf(StatusClosed, pr, state)
}

// FormatFailed formats the failed status message with error
func FormatFailed(err error) string {
	return fmt.Sprintf(StatusFailed, err.Error())
}
