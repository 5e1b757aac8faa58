package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v84/github"
	"golang.org/x/oauth2"
)

// GitHubProvider implements Host against the GitHub REST API
type GitHubProvider struct {
	client *github.Client
	owner  string
	name   string
}

// NewGitHubProvider creates a provider authenticated with a personal access
// token. baseURL selects a GitHub Enterprise API root; empty means github.com.
func NewGitHubProvider(ctx context.Context, token, repo, baseURL string) (*GitHubProvider, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client := github.NewClient(httpClient)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
	}
	return NewGitHubProviderWithClient(client, repo)
}

// NewGitHubProviderWithClient wraps an existing go-github client
func NewGitHubProviderWithClient(client *github.Client, repo string) (*GitHubProvider, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("repository %q must be owner/name", repo)
	}
	return &GitHubProvider{client: client, owner: owner, name: name}, nil
}

func (g *GitHubProvider) Repo() string {
	return g.owner + "/" + g.name
}

// wrapErr turns 404 responses into ErrNotFound
func wrapErr(what string, resp *github.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (g *GitHubProvider) GetIssue(ctx context.Context, number int) (*Issue, error) {
	issue, resp, err := g.client.Issues.Get(ctx, g.owner, g.name, number)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("failed to get issue #%d", number), resp, err)
	}
	return convertIssue(issue), nil
}

func (g *GitHubProvider) ListOpenIssues(ctx context.Context) ([]*Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var result []*Issue
	for {
		issues, resp, err := g.client.Issues.ListByRepo(ctx, g.owner, g.name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}
		for _, issue := range issues {
			// The issues endpoint also returns pull requests
			if issue.IsPullRequest() {
				continue
			}
			result = append(result, convertIssue(issue))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}
	return result, nil
}

func (g *GitHubProvider) listPRs(ctx context.Context, state, branch string) ([]*github.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       state,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	if branch != "" {
		opts.Head = g.owner + ":" + branch
	}

	var all []*github.PullRequest
	for {
		prs, resp, err := g.client.PullRequests.List(ctx, g.owner, g.name, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, prs...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (g *GitHubProvider) FindOpenPR(ctx context.Context, branch string) (*PullRequest, error) {
	prs, err := g.listPRs(ctx, "open", branch)
	if err != nil {
		return nil, fmt.Errorf("failed to find open PR for %s: %w", branch, err)
	}
	switch len(prs) {
	case 0:
		return nil, nil
	case 1:
		return convertPR(prs[0]), nil
	default:
		return nil, fmt.Errorf("%w %s: %d found", ErrAmbiguousPR, branch, len(prs))
	}
}

func (g *GitHubProvider) FindAnyPR(ctx context.Context, branch string) (*PullRequest, error) {
	prs, err := g.listPRs(ctx, "all", branch)
	if err != nil {
		return nil, fmt.Errorf("failed to find PR for %s: %w", branch, err)
	}
	var latest *github.PullRequest
	for _, pr := range prs {
		if latest == nil || pr.GetCreatedAt().After(latest.GetCreatedAt().Time) {
			latest = pr
		}
	}
	if latest == nil {
		return nil, nil
	}
	return convertPR(latest), nil
}

func (g *GitHubProvider) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	pr, resp, err := g.client.PullRequests.Get(ctx, g.owner, g.name, number)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("failed to get PR #%d", number), resp, err)
	}
	return convertPR(pr), nil
}

func (g *GitHubProvider) ListOpenPRs(ctx context.Context) ([]*PullRequest, error) {
	prs, err := g.listPRs(ctx, "open", "")
	if err != nil {
		return nil, fmt.Errorf("failed to list open PRs: %w", err)
	}
	result := make([]*PullRequest, 0, len(prs))
	for _, pr := range prs {
		result = append(result, convertPR(pr))
	}
	return result, nil
}

func (g *GitHubProvider) GetReviews(ctx context.Context, pr int) ([]*Review, error) {
	opts := &github.ListOptions{PerPage: 100}

	var result []*Review
	for {
		reviews, resp, err := g.client.PullRequests.ListReviews(ctx, g.owner, g.name, pr, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list reviews for PR #%d: %w", pr, err)
		}
		for _, r := range reviews {
			// Pending reviews are drafts only visible to their author
			if r.GetState() == "PENDING" {
				continue
			}
			result = append(result, &Review{
				ID:          r.GetID(),
				Author:      r.GetUser().GetLogin(),
				Verdict:     Verdict(r.GetState()),
				Body:        r.GetBody(),
				SubmittedAt: r.GetSubmittedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return result, nil
}

// GetComments returns both the discussion comments and the inline code
// comments of a PR.
func (g *GitHubProvider) GetComments(ctx context.Context, pr int) ([]*Comment, error) {
	var result []*Comment

	issueOpts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := g.client.Issues.ListComments(ctx, g.owner, g.name, pr, issueOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments for #%d: %w", pr, err)
		}
		for _, c := range comments {
			result = append(result, &Comment{
				ID:        c.GetID(),
				Kind:      CommentGeneral,
				Body:      c.GetBody(),
				Author:    c.GetUser().GetLogin(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		issueOpts.Page = resp.NextPage
	}

	reviewOpts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := g.client.PullRequests.ListComments(ctx, g.owner, g.name, pr, reviewOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to list review comments for PR #%d: %w", pr, err)
		}
		for _, c := range comments {
			line := c.GetLine()
			if line == 0 {
				// Outdated comments only keep their original position
				line = c.GetOriginalLine()
			}
			result = append(result, &Comment{
				ID:        c.GetID(),
				Kind:      CommentInline,
				Body:      c.GetBody(),
				Author:    c.GetUser().GetLogin(),
				Path:      c.GetPath(),
				Line:      line,
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		reviewOpts.Page = resp.NextPage
	}

	return result, nil
}

func (g *GitHubProvider) GetCommits(ctx context.Context, pr int) ([]*Commit, error) {
	opts := &github.ListOptions{PerPage: 100}

	var result []*Commit
	for {
		commits, resp, err := g.client.PullRequests.ListCommits(ctx, g.owner, g.name, pr, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list commits for PR #%d: %w", pr, err)
		}
		for _, c := range commits {
			result = append(result, &Commit{
				SHA:        c.GetSHA(),
				AuthoredAt: c.GetCommit().GetAuthor().GetDate().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return result, nil
}

func (g *GitHubProvider) GetDiff(ctx context.Context, pr int) (string, error) {
	diff, _, err := g.client.PullRequests.GetRaw(ctx, g.owner, g.name, pr, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", fmt.Errorf("failed to get diff for PR #%d: %w", pr, err)
	}
	return diff, nil
}

func (g *GitHubProvider) CreatePR(ctx context.Context, pr PRCreate) (*PullRequest, error) {
	created, _, err := g.client.PullRequests.Create(ctx, g.owner, g.name, &github.NewPullRequest{
		Title: github.Ptr(pr.Title),
		Body:  github.Ptr(pr.Body),
		Head:  github.Ptr(pr.Head),
		Base:  github.Ptr(pr.Base),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PR: %w", err)
	}
	return convertPR(created), nil
}

// reviewEvents maps verdicts to the event names the review API accepts
var reviewEvents = map[Verdict]string{
	VerdictApproved:         "APPROVE",
	VerdictChangesRequested: "REQUEST_CHANGES",
	VerdictCommented:        "COMMENT",
}

func (g *GitHubProvider) CreateReview(ctx context.Context, pr int, verdict Verdict, body string) error {
	event, ok := reviewEvents[verdict]
	if !ok {
		return fmt.Errorf("unsupported review verdict %q", verdict)
	}
	_, _, err := g.client.PullRequests.CreateReview(ctx, g.owner, g.name, pr, &github.PullRequestReviewRequest{
		Body:  github.Ptr(body),
		Event: github.Ptr(event),
	})
	if err != nil {
		return fmt.Errorf("failed to submit review on PR #%d: %w", pr, err)
	}
	return nil
}

func (g *GitHubProvider) CreateComment(ctx context.Context, number int, body string) (int64, error) {
	comment, _, err := g.client.Issues.CreateComment(ctx, g.owner, g.name, number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to comment on #%d: %w", number, err)
	}
	return comment.GetID(), nil
}

func (g *GitHubProvider) UpdateComment(ctx context.Context, commentID int64, body string) error {
	_, _, err := g.client.Issues.EditComment(ctx, g.owner, g.name, commentID, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("failed to update comment %d: %w", commentID, err)
	}
	return nil
}

func (g *GitHubProvider) RequestReviewers(ctx context.Context, pr int, reviewers []string) error {
	if len(reviewers) == 0 {
		return nil
	}
	_, _, err := g.client.PullRequests.RequestReviewers(ctx, g.owner, g.name, pr, github.ReviewersRequest{
		Reviewers: reviewers,
	})
	if err != nil {
		return fmt.Errorf("failed to request reviewers on PR #%d: %w", pr, err)
	}
	return nil
}

// GetCIStatus implements CIProvider using check runs on the PR head
func (g *GitHubProvider) GetCIStatus(ctx context.Context, pr int) (*CIResult, error) {
	p, err := g.GetPR(ctx, pr)
	if err != nil {
		return nil, err
	}

	runs, _, err := g.client.Checks.ListCheckRunsForRef(ctx, g.owner, g.name, p.HeadSHA, &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list check runs for PR #%d: %w", pr, err)
	}

	result := &CIResult{}
	for _, run := range runs.CheckRuns {
		result.Checks = append(result.Checks, CICheck{
			Name:       run.GetName(),
			Status:     checkRunStatus(run.GetStatus(), run.GetConclusion()),
			Conclusion: run.GetConclusion(),
			DetailsURL: run.GetDetailsURL(),
			Output:     run.GetOutput().GetSummary(),
		})
	}
	result.OverallStatus = CombineCIStatus(result.Checks)
	return result, nil
}

func checkRunStatus(status, conclusion string) CIStatus {
	if status != "completed" {
		return CIStatusPending
	}
	switch conclusion {
	case "success", "neutral", "skipped":
		return CIStatusSuccess
	case "failure", "timed_out", "cancelled", "action_required", "startup_failure":
		return CIStatusFailure
	default:
		return CIStatusUnknown
	}
}

func convertIssue(issue *github.Issue) *Issue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return &Issue{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		Labels:    labels,
		State:     issue.GetState(),
		Author:    issue.GetUser().GetLogin(),
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
}

func convertPR(pr *github.PullRequest) *PullRequest {
	state := PRStateOpen
	if pr.GetState() == "closed" {
		state = PRStateClosed
		if pr.MergedAt != nil || pr.GetMerged() {
			state = PRStateMerged
		}
	}
	return &PullRequest{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Body:      pr.GetBody(),
		State:     state,
		Draft:     pr.GetDraft(),
		HTMLURL:   pr.GetHTMLURL(),
		HeadRef:   pr.GetHead().GetRef(),
		HeadSHA:   pr.GetHead().GetSHA(),
		BaseRef:   pr.GetBase().GetRef(),
		Author:    pr.GetUser().GetLogin(),
		CreatedAt: pr.GetCreatedAt().Time,
	}
}
