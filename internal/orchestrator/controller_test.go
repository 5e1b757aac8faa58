package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sallandpioneers/code-agent/internal/approval"
	"github.com/sallandpioneers/code-agent/internal/branch"
	"github.com/sallandpioneers/code-agent/internal/feedback"
	"github.com/sallandpioneers/code-agent/internal/progress"
	"github.com/sallandpioneers/code-agent/internal/providers"
	"github.com/sallandpioneers/code-agent/internal/workflow"
)

// fakeBrancher records EnsureBranch calls
type fakeBrancher struct {
	calls []string
	err   error
}

func (f *fakeBrancher) EnsureBranch(ctx context.Context, name, base string) (branch.Result, error) {
	f.calls = append(f.calls, name+"@"+base)
	return branch.Created, f.err
}

// fakeCoder opens a PR for the branch unless told to produce nothing
type fakeCoder struct {
	host *providers.MockProvider
	// calls up to and including noPRUntil produce no PR
	noPRUntil int
	err       error
	failIssue int
	orders    []workflow.WorkOrder
}

func (f *fakeCoder) Implement(ctx context.Context, order workflow.WorkOrder) (*workflow.ImplementResult, error) {
	f.orders = append(f.orders, order)
	if f.err != nil {
		return nil, f.err
	}
	if order.Issue.Number == f.failIssue {
		return nil, errors.New("agent crashed")
	}
	if len(f.orders) <= f.noPRUntil {
		return &workflow.ImplementResult{}, nil
	}
	pr, err := f.host.FindOpenPR(ctx, order.Branch)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		pr, err = f.host.CreatePR(ctx, providers.PRCreate{
			Title: "Implement: " + order.Issue.Title,
			Body:  fmt.Sprintf("Closes #%d", order.Issue.Number),
			Head:  order.Branch,
			Base:  order.Base,
		})
		if err != nil {
			return nil, err
		}
	}
	return &workflow.ImplementResult{PR: pr}, nil
}

// fakeReviewer submits scripted marked reviews
type fakeReviewer struct {
	host     *providers.MockProvider
	verdicts []providers.Verdict
	err      error
	reviewed []int
}

func (f *fakeReviewer) Review(ctx context.Context, req workflow.ReviewRequest) (*workflow.ReviewResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := f.verdicts[len(f.reviewed)]
	f.reviewed = append(f.reviewed, req.PR.Number)
	body := fmt.Sprintf("[AI-Reviewer]\n\nreview %d", len(f.reviewed))
	if err := f.host.CreateReview(ctx, req.PR.Number, v, body); err != nil {
		return nil, err
	}
	return &workflow.ReviewResult{Verdict: v, Body: body}, nil
}

// fakeRecorder counts metrics calls
type fakeRecorder struct {
	iterations map[string]int
	outcomes   map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{iterations: map[string]int{}, outcomes: map[string]int{}}
}

func (f *fakeRecorder) Iteration(phase string) { f.iterations[phase]++ }
func (f *fakeRecorder) Outcome(outcome string) { f.outcomes[outcome]++ }

type fixture struct {
	mock     *providers.MockProvider
	branches *fakeBrancher
	coder    *fakeCoder
	reviewer *fakeReviewer
	recorder *fakeRecorder
	issue    *providers.Issue
}

func newFixture(verdicts ...providers.Verdict) *fixture {
	mock := providers.NewMockProvider()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.Now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	issue := &providers.Issue{Number: 42, Title: "Add greeting", Body: "Print hello"}
	mock.AddIssue(issue)

	return &fixture{
		mock:     mock,
		branches: &fakeBrancher{},
		coder:    &fakeCoder{host: mock},
		reviewer: &fakeReviewer{host: mock, verdicts: verdicts},
		recorder: newFakeRecorder(),
		issue:    issue,
	}
}

func (f *fixture) controller(budget int) *Controller {
	oracle := approval.NewOracle(f.mock, "")
	return NewController(ControllerConfig{
		Host:     f.mock,
		Branches: f.branches,
		Feedback: feedback.New(f.mock, oracle, nil),
		Oracle:   oracle,
		Coder:    f.coder,
		Reviewer: f.reviewer,
		Recorder: f.recorder,
		NewReporter: func(issue int) *progress.Reporter {
			return progress.NewReporter(f.mock, issue, 0, true)
		},
		BranchPrefix:  "code-agent",
		BaseBranch:    "main",
		MaxIterations: budget,
	})
}

func (f *fixture) lastStatus() string {
	if n := len(f.mock.UpdatedComments); n > 0 {
		return f.mock.UpdatedComments[n-1].Body
	}
	if n := len(f.mock.CreatedComments); n > 0 {
		return f.mock.CreatedComments[n-1].Body
	}
	return ""
}

func TestRun_ApprovedOnLastIteration(t *testing.T) {
	f := newFixture(providers.VerdictChangesRequested, providers.VerdictChangesRequested, providers.VerdictApproved)

	res, err := f.controller(3).Run(context.Background(), f.issue)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Outcome != OutcomeApproved || res.Iterations != 3 {
		t.Errorf("result = %+v, want approved after 3 iterations", res)
	}
	if len(f.coder.orders) != 3 || len(f.reviewer.reviewed) != 3 {
		t.Errorf("coder ran %d times, reviewer %d times; want 3 each", len(f.coder.orders), len(f.reviewer.reviewed))
	}
	if diff := cmp.Diff([]string{"code-agent/issue-42@main", "code-agent/issue-42@main", "code-agent/issue-42@main"}, f.branches.calls); diff != "" {
		t.Errorf("EnsureBranch calls mismatch (-want +got):\n%s", diff)
	}
	if f.recorder.outcomes[string(OutcomeApproved)] != 1 {
		t.Errorf("outcomes = %v", f.recorder.outcomes)
	}
	if !strings.Contains(f.lastStatus(), "PR #43 approved after 3") {
		t.Errorf("final status = %q", f.lastStatus())
	}
}

func TestRun_Exhausted(t *testing.T) {
	f := newFixture(providers.VerdictChangesRequested, providers.VerdictChangesRequested)

	res, err := f.controller(2).Run(context.Background(), f.issue)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Outcome != OutcomeExhausted || res.Iterations != 2 {
		t.Errorf("result = %+v, want exhausted after 2 iterations", res)
	}
	if len(f.coder.orders) != 2 || len(f.reviewer.reviewed) != 2 {
		t.Errorf("coder ran %d times, reviewer %d times; want 2 each", len(f.coder.orders), len(f.reviewer.reviewed))
	}
	if f.recorder.outcomes[string(OutcomeExhausted)] != 1 {
		t.Errorf("outcomes = %v, want one exhausted", f.recorder.outcomes)
	}
	if !strings.Contains(f.lastStatus(), "Manual intervention required on PR #43") {
		t.Errorf("final status = %q", f.lastStatus())
	}
}

func TestRun_StopsOnFirstApproval(t *testing.T) {
	f := newFixture(providers.VerdictApproved)

	res, err := f.controller(3).Run(context.Background(), f.issue)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeApproved || res.Iterations != 1 {
		t.Errorf("result = %+v, want approved after 1 iteration", res)
	}
	if len(f.coder.orders) != 1 {
		t.Errorf("coder ran %d times, want 1", len(f.coder.orders))
	}
}

func TestRun_FeedbackReachesNextAttempt(t *testing.T) {
	f := newFixture(providers.VerdictChangesRequested, providers.VerdictApproved)

	if _, err := f.controller(3).Run(context.Background(), f.issue); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if f.coder.orders[0].Feedback != "" {
		t.Errorf("first attempt feedback = %q, want none", f.coder.orders[0].Feedback)
	}
	second := f.coder.orders[1]
	if !strings.Contains(second.Feedback, "### AI Reviewer feedback:\n[AI-Reviewer]\n\nreview 1") {
		t.Errorf("second attempt feedback = %q", second.Feedback)
	}
	if second.Iteration != 2 || second.MaxIterations != 3 {
		t.Errorf("second attempt = %d/%d", second.Iteration, second.MaxIterations)
	}
}

func TestRun_MissingPRContinues(t *testing.T) {
	f := newFixture(providers.VerdictApproved)
	f.coder.noPRUntil = 1

	res, err := f.controller(3).Run(context.Background(), f.issue)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeApproved || res.Iterations != 2 {
		t.Errorf("result = %+v, want approved on iteration 2", res)
	}
	if len(f.reviewer.reviewed) != 1 {
		t.Errorf("reviewer ran %d times, want 1", len(f.reviewer.reviewed))
	}
}

func TestRun_NeverAPR(t *testing.T) {
	f := newFixture()
	f.coder.noPRUntil = 100

	res, err := f.controller(2).Run(context.Background(), f.issue)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeExhausted || res.Iterations != 2 || res.PR != nil {
		t.Errorf("result = %+v, want exhausted without PR", res)
	}
	if len(f.reviewer.reviewed) != 0 {
		t.Error("reviewer must not run without a PR")
	}
	if !strings.Contains(f.lastStatus(), "Iteration budget exhausted (2/2). Manual intervention required") {
		t.Errorf("final status = %q", f.lastStatus())
	}
}

func TestRun_HumanApprovalDoesNotCount(t *testing.T) {
	f := newFixture(providers.VerdictChangesRequested)

	// A human approval lands after the automated change request
	c := f.controller(1)
	c.cfg.Reviewer = &humanAfterReview{inner: f.reviewer, host: f.mock}

	res, err := c.Run(context.Background(), f.issue)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeExhausted {
		t.Errorf("Outcome = %q, unmarked approval must be ignored", res.Outcome)
	}
}

type humanAfterReview struct {
	inner *fakeReviewer
	host  *providers.MockProvider
}

func (h *humanAfterReview) Review(ctx context.Context, req workflow.ReviewRequest) (*workflow.ReviewResult, error) {
	res, err := h.inner.Review(ctx, req)
	if err != nil {
		return nil, err
	}
	h.host.AddReview(req.PR.Number, &providers.Review{Author: "alice", Verdict: providers.VerdictApproved, Body: "lgtm", SubmittedAt: h.host.Now()})
	return res, nil
}

// closeAfterReview closes the PR once the automated review is posted, as a
// maintainer would between iterations
type closeAfterReview struct {
	inner *fakeReviewer
	host  *providers.MockProvider
	state providers.PRState
}

func (c *closeAfterReview) Review(ctx context.Context, req workflow.ReviewRequest) (*workflow.ReviewResult, error) {
	res, err := c.inner.Review(ctx, req)
	if err != nil {
		return nil, err
	}
	c.host.SetPRState(req.PR.Number, c.state)
	return res, nil
}

func TestRun_StopsWhenPRBecomesTerminal(t *testing.T) {
	for _, state := range []providers.PRState{providers.PRStateClosed, providers.PRStateMerged} {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture(providers.VerdictChangesRequested, providers.VerdictChangesRequested, providers.VerdictChangesRequested)
			c := f.controller(3)
			c.cfg.Reviewer = &closeAfterReview{inner: f.reviewer, host: f.mock, state: state}

			res, err := c.Run(context.Background(), f.issue)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Outcome != OutcomeClosed || res.Iterations != 1 || res.PR == nil || res.PR.Number != 43 {
				t.Errorf("result = %+v, want closed on PR #43 after 1 iteration", res)
			}
			if len(f.coder.orders) != 1 || len(f.reviewer.reviewed) != 1 {
				t.Errorf("coder ran %d times, reviewer %d times; want 1 each", len(f.coder.orders), len(f.reviewer.reviewed))
			}
			if len(f.mock.CreatedPRs) != 1 {
				t.Errorf("created %d PRs, want 1", len(f.mock.CreatedPRs))
			}
			if len(f.branches.calls) != 1 {
				t.Errorf("EnsureBranch ran %d times, want 1", len(f.branches.calls))
			}
			if f.recorder.outcomes[string(OutcomeClosed)] != 1 {
				t.Errorf("outcomes = %v, want one closed", f.recorder.outcomes)
			}
			if want := fmt.Sprintf("PR #43 was %s", state); !strings.Contains(f.lastStatus(), want) {
				t.Errorf("final status = %q, want %q", f.lastStatus(), want)
			}
		})
	}
}

func TestRun_TerminalPRBeforeFirstAttempt(t *testing.T) {
	f := newFixture(providers.VerdictApproved)
	f.mock.AddPR(&providers.PullRequest{Number: 7, HeadRef: "code-agent/issue-42", State: providers.PRStateMerged})

	res, err := f.controller(3).Run(context.Background(), f.issue)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeClosed || res.Iterations != 0 {
		t.Errorf("result = %+v, want closed without iterations", res)
	}
	if len(f.branches.calls) != 0 || len(f.coder.orders) != 0 {
		t.Errorf("branch prepared %d times, coder ran %d times; want none", len(f.branches.calls), len(f.coder.orders))
	}
}

func TestRun_PostsPreparingBeforeCoding(t *testing.T) {
	f := newFixture(providers.VerdictApproved)

	if _, err := f.controller(1).Run(context.Background(), f.issue); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var statuses []string
	for _, c := range f.mock.CreatedComments {
		statuses = append(statuses, c.Body)
	}
	for _, c := range f.mock.UpdatedComments {
		statuses = append(statuses, c.Body)
	}
	if len(statuses) < 2 {
		t.Fatalf("statuses = %q, want at least preparing and coding", statuses)
	}
	if !strings.Contains(statuses[0], "Preparing branch `code-agent/issue-42`") {
		t.Errorf("first status = %q, want branch preparation", statuses[0])
	}
	if !strings.Contains(statuses[1], "Coding (iteration 1/1)") {
		t.Errorf("second status = %q, want coding", statuses[1])
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		coded int
	}{
		{
			name:  "branch failure",
			setup: func(f *fixture) { f.branches.err = errors.New("fetch failed") },
			coded: 0,
		},
		{
			name:  "coding agent failure",
			setup: func(f *fixture) { f.coder.err = errors.New("agent crashed") },
			coded: 1,
		},
		{
			name:  "review failure",
			setup: func(f *fixture) { f.reviewer.err = errors.New("rate limited") },
			coded: 1,
		},
		{
			name: "ambiguous PR",
			setup: func(f *fixture) {
				f.mock.AddPR(&providers.PullRequest{Number: 7, HeadRef: "code-agent/issue-42"})
				f.mock.AddPR(&providers.PullRequest{Number: 8, HeadRef: "code-agent/issue-42"})
			},
			coded: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(providers.VerdictApproved)
			tt.setup(f)

			_, err := f.controller(3).Run(context.Background(), f.issue)
			if err == nil {
				t.Fatal("expected error")
			}
			if len(f.coder.orders) != tt.coded {
				t.Errorf("coder ran %d times, want %d", len(f.coder.orders), tt.coded)
			}
			if f.recorder.outcomes[string(OutcomeFailed)] != 1 {
				t.Errorf("outcomes = %v, want one failure", f.recorder.outcomes)
			}
			if !strings.Contains(f.lastStatus(), "Failed:") {
				t.Errorf("final status = %q", f.lastStatus())
			}
		})
	}
}

func TestCodeOnce(t *testing.T) {
	f := newFixture()

	res, err := f.controller(3).CodeOnce(context.Background(), f.issue)
	if err != nil {
		t.Fatalf("CodeOnce failed: %v", err)
	}
	if res.Outcome != OutcomeCoded || res.PR == nil {
		t.Errorf("result = %+v, want coded with PR", res)
	}
	if len(f.reviewer.reviewed) != 0 {
		t.Error("CodeOnce must not review")
	}
}

func TestNewController_MinimumBudget(t *testing.T) {
	c := NewController(ControllerConfig{MaxIterations: 0})
	if c.cfg.MaxIterations != 1 {
		t.Errorf("MaxIterations = %d, want 1", c.cfg.MaxIterations)
	}
}
