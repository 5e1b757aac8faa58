package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockProvider is an in-memory Host for testing
type MockProvider struct {
	mu sync.RWMutex

	RepoName string

	Issues   map[int]*Issue
	PRs      map[int]*PullRequest
	Reviews  map[int][]*Review  // prNum -> reviews
	Comments map[int][]*Comment // issue or PR number -> comments
	Commits  map[int][]*Commit  // prNum -> commits
	Diffs    map[int]string
	CI       map[int]*CIResult

	// Tracking calls for assertions
	CreatedComments  []MockComment
	UpdatedComments  []MockCommentUpdate
	CreatedReviews   []MockReview
	CreatedPRs       []PRCreate
	ReviewerRequests []MockReviewerRequest

	// Configurable behavior
	ListError             error
	LookupError           error
	CreateReviewError     error
	RequestReviewersError error
	Now                   func() time.Time

	lastID int64
}

// MockComment tracks created comments
type MockComment struct {
	ID        int64
	Number    int
	Body      string
	CreatedAt time.Time
}

// MockCommentUpdate tracks comment updates
type MockCommentUpdate struct {
	CommentID int64
	Body      string
}

// MockReview tracks submitted reviews
type MockReview struct {
	PR      int
	Verdict Verdict
	Body    string
}

// MockReviewerRequest tracks review requests
type MockReviewerRequest struct {
	PR        int
	Reviewers []string
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		RepoName: "owner/repo",
		Issues:   make(map[int]*Issue),
		PRs:      make(map[int]*PullRequest),
		Reviews:  make(map[int][]*Review),
		Comments: make(map[int][]*Comment),
		Commits:  make(map[int][]*Commit),
		Diffs:    make(map[int]string),
		CI:       make(map[int]*CIResult),
		Now:      time.Now,
	}
}

func (m *MockProvider) nextID() int64 {
	m.lastID++
	return m.lastID
}

// nextNumber mirrors GitHub, where issues and PRs share one number sequence
func (m *MockProvider) nextNumber() int {
	n := 0
	for num := range m.Issues {
		n = max(n, num)
	}
	for num := range m.PRs {
		n = max(n, num)
	}
	return n + 1
}

// AddIssue adds an issue to the mock
func (m *MockProvider) AddIssue(issue *Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if issue.State == "" {
		issue.State = "open"
	}
	m.Issues[issue.Number] = issue
}

// AddPR adds a pull request to the mock
func (m *MockProvider) AddPR(pr *PullRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pr.State == "" {
		pr.State = PRStateOpen
	}
	m.PRs[pr.Number] = pr
}

// AddReview appends a review to a PR (simulating a reviewer)
func (m *MockProvider) AddReview(prNum int, review *Review) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if review.ID == 0 {
		review.ID = m.nextID()
	}
	m.Reviews[prNum] = append(m.Reviews[prNum], review)
}

// AddComment adds a comment to an issue or PR (simulating user comment)
func (m *MockProvider) AddComment(number int, comment *Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if comment.ID == 0 {
		comment.ID = m.nextID()
	}
	if comment.Kind == "" {
		comment.Kind = CommentGeneral
	}
	m.Comments[number] = append(m.Comments[number], comment)
}

// AddCommit appends a commit to a PR
func (m *MockProvider) AddCommit(prNum int, commit *Commit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Commits[prNum] = append(m.Commits[prNum], commit)
}

// SetPRState changes the state of a PR
func (m *MockProvider) SetPRState(prNum int, state PRState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pr, ok := m.PRs[prNum]; ok {
		pr.State = state
	}
}

// GetIssue implements Host
func (m *MockProvider) GetIssue(ctx context.Context, number int) (*Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if issue, ok := m.Issues[number]; ok {
		return issue, nil
	}
	return nil, fmt.Errorf("issue %s#%d: %w", m.RepoName, number, ErrNotFound)
}

// ListOpenIssues implements Host
func (m *MockProvider) ListOpenIssues(ctx context.Context) ([]*Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ListError != nil {
		return nil, m.ListError
	}

	var result []*Issue
	for _, issue := range m.Issues {
		if issue.State == "open" {
			result = append(result, issue)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

// FindOpenPR implements Host
func (m *MockProvider) FindOpenPR(ctx context.Context, branch string) (*PullRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LookupError != nil {
		return nil, m.LookupError
	}

	var found []*PullRequest
	for _, pr := range m.PRs {
		if pr.HeadRef == branch && pr.State == PRStateOpen {
			found = append(found, pr)
		}
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w %s: %d found", ErrAmbiguousPR, branch, len(found))
	}
}

// FindAnyPR implements Host
func (m *MockProvider) FindAnyPR(ctx context.Context, branch string) (*PullRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LookupError != nil {
		return nil, m.LookupError
	}

	var latest *PullRequest
	for _, pr := range m.PRs {
		if pr.HeadRef != branch {
			continue
		}
		if latest == nil || pr.Number > latest.Number {
			latest = pr
		}
	}
	return latest, nil
}

// GetPR implements Host
func (m *MockProvider) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if pr, ok := m.PRs[number]; ok {
		return pr, nil
	}
	return nil, fmt.Errorf("PR %s#%d: %w", m.RepoName, number, ErrNotFound)
}

// ListOpenPRs implements Host
func (m *MockProvider) ListOpenPRs(ctx context.Context) ([]*PullRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ListError != nil {
		return nil, m.ListError
	}

	var result []*PullRequest
	for _, pr := range m.PRs {
		if pr.State == PRStateOpen {
			result = append(result, pr)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

// GetReviews implements Host
func (m *MockProvider) GetReviews(ctx context.Context, pr int) ([]*Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*Review(nil), m.Reviews[pr]...), nil
}

// GetComments implements Host
func (m *MockProvider) GetComments(ctx context.Context, pr int) ([]*Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*Comment(nil), m.Comments[pr]...), nil
}

// GetCommits implements Host
func (m *MockProvider) GetCommits(ctx context.Context, pr int) ([]*Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*Commit(nil), m.Commits[pr]...), nil
}

// GetDiff implements Host
func (m *MockProvider) GetDiff(ctx context.Context, pr int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.Diffs[pr], nil
}

// GetCIStatus implements CIProvider
func (m *MockProvider) GetCIStatus(ctx context.Context, pr int) (*CIResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if result, ok := m.CI[pr]; ok {
		return result, nil
	}
	return &CIResult{OverallStatus: CIStatusUnknown}, nil
}

// CreatePR implements Host
func (m *MockProvider) CreatePR(ctx context.Context, pr PRCreate) (*PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prNum := m.nextNumber()
	newPR := &PullRequest{
		Number:    prNum,
		Title:     pr.Title,
		Body:      pr.Body,
		State:     PRStateOpen,
		HTMLURL:   fmt.Sprintf("https://example.com/%s/pull/%d", m.RepoName, prNum),
		HeadRef:   pr.Head,
		BaseRef:   pr.Base,
		CreatedAt: m.Now(),
	}

	m.PRs[prNum] = newPR
	m.CreatedPRs = append(m.CreatedPRs, pr)
	return newPR, nil
}

// CreateReview implements Host
func (m *MockProvider) CreateReview(ctx context.Context, pr int, verdict Verdict, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateReviewError != nil {
		return m.CreateReviewError
	}
	if _, ok := m.PRs[pr]; !ok {
		return fmt.Errorf("PR %s#%d: %w", m.RepoName, pr, ErrNotFound)
	}

	m.Reviews[pr] = append(m.Reviews[pr], &Review{
		ID:          m.nextID(),
		Author:      "code-agent-reviewer[bot]",
		Verdict:     verdict,
		Body:        body,
		SubmittedAt: m.Now(),
	})
	m.CreatedReviews = append(m.CreatedReviews, MockReview{PR: pr, Verdict: verdict, Body: body})
	return nil
}

// CreateComment implements Host
func (m *MockProvider) CreateComment(ctx context.Context, number int, body string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	comment := &Comment{
		ID:        m.nextID(),
		Kind:      CommentGeneral,
		Body:      body,
		Author:    "code-agent[bot]",
		CreatedAt: m.Now(),
	}

	m.Comments[number] = append(m.Comments[number], comment)
	m.CreatedComments = append(m.CreatedComments, MockComment{
		ID:        comment.ID,
		Number:    number,
		Body:      body,
		CreatedAt: comment.CreatedAt,
	})

	return comment.ID, nil
}

// UpdateComment implements Host
func (m *MockProvider) UpdateComment(ctx context.Context, commentID int64, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, comments := range m.Comments {
		for _, comment := range comments {
			if comment.ID == commentID {
				comment.Body = body
			}
		}
	}

	m.UpdatedComments = append(m.UpdatedComments, MockCommentUpdate{
		CommentID: commentID,
		Body:      body,
	})
	return nil
}

// RequestReviewers implements Host
func (m *MockProvider) RequestReviewers(ctx context.Context, pr int, reviewers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RequestReviewersError != nil {
		return m.RequestReviewersError
	}
	m.ReviewerRequests = append(m.ReviewerRequests, MockReviewerRequest{
		PR:        pr,
		Reviewers: append([]string(nil), reviewers...),
	})
	return nil
}

// Repo implements Host
func (m *MockProvider) Repo() string {
	return m.RepoName
}
