package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/waigani/diffparser"

	"github.com/sallandpioneers/code-agent/internal/claude"
	"github.com/sallandpioneers/code-agent/internal/providers"
)

// maxPromptDiff caps the raw diff embedded in the review prompt
const maxPromptDiff = 60000

var (
	decisionPattern  = regexp.MustCompile(`(?im)^[\s#*>_-]*decision\s*[*_]*\s*:?\s*[*_]*\s*(APPROVE|REQUEST_CHANGES|COMMENT)\b`)
	branchIssueRegex = regexp.MustCompile(`(?i)issue-(\d+)`)
	bodyIssueRegex   = regexp.MustCompile(`(?i)(?:fixes|closes|resolves)\s*#(\d+)`)
)

// ParseDecision extracts the last "Decision: X" line from review output.
// Output without a decision is a comment.
func ParseDecision(output string) providers.Verdict {
	matches := decisionPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return providers.VerdictCommented
	}
	switch strings.ToUpper(matches[len(matches)-1][1]) {
	case "APPROVE":
		return providers.VerdictApproved
	case "REQUEST_CHANGES":
		return providers.VerdictChangesRequested
	default:
		return providers.VerdictCommented
	}
}

// EnsureMarker makes body start with marker
func EnsureMarker(body, marker string) string {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, marker) {
		return body
	}
	return marker + "\n\n" + body
}

// LinkedIssue returns the issue number a PR works on, from its branch name
// or a closing keyword in its body. ok is false when neither names one.
func LinkedIssue(pr *providers.PullRequest) (int, bool) {
	for _, m := range [][]string{
		branchIssueRegex.FindStringSubmatch(pr.HeadRef),
		bodyIssueRegex.FindStringSubmatch(pr.Body),
	} {
		if len(m) < 2 {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	return 0, false
}

// SummarizeDiff lists changed files with added and removed line counts
func SummarizeDiff(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "(no changes)", nil
	}
	diff, err := diffparser.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse diff: %w", err)
	}

	var sb strings.Builder
	for _, file := range diff.Files {
		added, removed := 0, 0
		for _, hunk := range file.Hunks {
			for _, line := range hunk.WholeRange.Lines {
				switch line.Mode {
				case diffparser.ADDED:
					added++
				case diffparser.REMOVED:
					removed++
				}
			}
		}

		name := file.NewName
		status := "modified"
		switch file.Mode {
		case diffparser.NEW:
			status = "added"
		case diffparser.DELETED:
			status = "deleted"
			name = file.OrigName
		}
		sb.WriteString(fmt.Sprintf("- `%s` (%s, +%d/-%d)\n", name, status, added, removed))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// ReviewPhase is the review agent: it reviews one PR and submits exactly one
// marked review
type ReviewPhase struct {
	runner  Runner
	host    providers.Host
	marker  string
	workDir string

	ciPoll time.Duration
	ciWait time.Duration

	recorder ReviewRecorder
}

// ReviewRecorder counts submitted verdicts
type ReviewRecorder interface {
	ReviewSubmitted(verdict string)
}

// NewReviewPhase creates a review phase posting through host (normally the
// reviewer identity). ciWait bounds how long pending CI is waited for.
func NewReviewPhase(runner Runner, host providers.Host, marker, workDir string, ciPoll, ciWait time.Duration) *ReviewPhase {
	return &ReviewPhase{
		runner:  runner,
		host:    host,
		marker:  marker,
		workDir: workDir,
		ciPoll:  ciPoll,
		ciWait:  ciWait,
	}
}

// WithRecorder sets the recorder that counts submitted verdicts
func (r *ReviewPhase) WithRecorder(rec ReviewRecorder) *ReviewPhase {
	r.recorder = rec
	return r
}

// ReviewResult is the submitted review
type ReviewResult struct {
	Verdict  providers.Verdict
	Body     string
	Fallback bool // posted as a plain comment because the review was rejected
}

// ReviewRequest identifies the PR to review
type ReviewRequest struct {
	PR            *providers.PullRequest
	Iteration     int
	MaxIterations int
}

// Review runs the review agent on the PR and submits its verdict
func (r *ReviewPhase) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	pr := req.PR
	log := clog.FromContext(ctx).With("pr", pr.Number)

	prompt, err := r.prompt(ctx, req)
	if err != nil {
		return nil, err
	}

	log.Infof("Running review agent (iteration %d/%d)", req.Iteration, req.MaxIterations)
	output, err := r.runner.Run(ctx, claude.RunOptions{
		WorkDir:      r.workDir,
		Prompt:       prompt,
		AllowedTools: []string{"Read", "Glob", "Grep"},
	})
	if err != nil {
		return nil, fmt.Errorf("review agent failed: %w", err)
	}

	result := &ReviewResult{
		Verdict: ParseDecision(output),
		Body:    EnsureMarker(output, r.marker),
	}

	if err := r.host.CreateReview(ctx, pr.Number, result.Verdict, result.Body); err != nil {
		log.Warnf("Submitting review failed, posting it as a comment: %v", err)
		comment := fmt.Sprintf("**Review (%s):**\n\n%s", result.Verdict, result.Body)
		if _, cerr := r.host.CreateComment(ctx, pr.Number, comment); cerr != nil {
			return nil, errors.Join(fmt.Errorf("failed to submit review on PR #%d: %w", pr.Number, err), cerr)
		}
		result.Fallback = true
		r.record(result.Verdict)
		return result, nil
	}

	log.Infof("Submitted %s review", result.Verdict)
	r.record(result.Verdict)
	return result, nil
}

func (r *ReviewPhase) record(v providers.Verdict) {
	if r.recorder != nil {
		r.recorder.ReviewSubmitted(string(v))
	}
}

// prompt gathers the PR context the reviewer needs
func (r *ReviewPhase) prompt(ctx context.Context, req ReviewRequest) (string, error) {
	pr := req.PR

	issueText := "No linked issue found. Check PR body or branch name."
	if n, ok := LinkedIssue(pr); ok {
		issue, err := r.host.GetIssue(ctx, n)
		switch {
		case errors.Is(err, providers.ErrNotFound):
			issueText = fmt.Sprintf("Issue #%d not found.", n)
		case err != nil:
			return "", err
		default:
			body := issue.Body
			if body == "" {
				body = "(no description)"
			}
			issueText = fmt.Sprintf("#%d: %s\n\n%s", issue.Number, issue.Title, body)
		}
	}

	ciText := FormatCIStatus(nil)
	if ci, ok := r.host.(providers.CIProvider); ok {
		status, err := NewCIMonitor(ci, r.ciPoll, r.ciWait).WaitForCI(ctx, pr.Number)
		if err != nil {
			return "", err
		}
		ciText = FormatCIStatus(status)
	}

	raw, err := r.host.GetDiff(ctx, pr.Number)
	if err != nil {
		return "", err
	}
	files, err := SummarizeDiff(raw)
	if err != nil {
		clog.FromContext(ctx).Warnf("Could not summarize diff of PR #%d: %v", pr.Number, err)
		files = "(diff summary unavailable)"
	}
	if len(raw) > maxPromptDiff {
		raw = raw[:maxPromptDiff] + "\n... (diff truncated, read the files in the working tree)"
	}

	description := strings.TrimSpace(pr.Body)
	if description == "" {
		description = "(no description)"
	}

	return fmt.Sprintf(claude.Prompts.Review,
		pr.Number, r.host.Repo(),
		req.Iteration, req.MaxIterations,
		pr.Title, pr.HeadRef, pr.BaseRef, pr.Author,
		description,
		issueText,
		ciText,
		files,
		"```diff\n"+raw+"\n```",
		r.marker,
	), nil
}
