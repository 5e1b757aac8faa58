package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sallandpioneers/code-agent/internal/providers"
)

const sampleDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main
-func old() {}
+func newer() {}
+func extra() {}
 // end
diff --git a/added.go b/added.go
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/added.go
@@ -0,0 +1,2 @@
+package main
+var x = 1
`

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   providers.Verdict
	}{
		{"approve", "## Summary\nok\n\nDecision: APPROVE\nAll good", providers.VerdictApproved},
		{"request changes", "Decision: REQUEST_CHANGES", providers.VerdictChangesRequested},
		{"comment", "Decision: COMMENT", providers.VerdictCommented},
		{"markdown heading", "## Decision: REQUEST_CHANGES\n(reasoning)", providers.VerdictChangesRequested},
		{"bold", "**Decision:** APPROVE", providers.VerdictApproved},
		{"lowercase", "decision: approve", providers.VerdictApproved},
		{"last one wins", "Decision: APPROVE|REQUEST_CHANGES|COMMENT\n\nDecision: REQUEST_CHANGES", providers.VerdictChangesRequested},
		{"missing", "Looks fine to me", providers.VerdictCommented},
		{"not at line start", "I made no Decision: APPROVE yet", providers.VerdictCommented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDecision(tt.output); got != tt.want {
				t.Errorf("ParseDecision(%q) = %q, want %q", tt.output, got, tt.want)
			}
		})
	}
}

func TestEnsureMarker(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"[AI-Reviewer]\n\nok", "[AI-Reviewer]\n\nok"},
		{"  [AI-Reviewer] ok\n", "[AI-Reviewer] ok"},
		{"## Summary", "[AI-Reviewer]\n\n## Summary"},
	}
	for _, tt := range tests {
		if got := EnsureMarker(tt.body, "[AI-Reviewer]"); got != tt.want {
			t.Errorf("EnsureMarker(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestLinkedIssue(t *testing.T) {
	tests := []struct {
		name   string
		pr     *providers.PullRequest
		want   int
		wantOK bool
	}{
		{"branch", &providers.PullRequest{HeadRef: "code-agent/issue-42"}, 42, true},
		{"body", &providers.PullRequest{HeadRef: "feature", Body: "This Resolves #9"}, 9, true},
		{"branch wins", &providers.PullRequest{HeadRef: "code-agent/issue-1", Body: "Closes #2"}, 1, true},
		{"none", &providers.PullRequest{HeadRef: "feature", Body: "see #3"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LinkedIssue(tt.pr)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("LinkedIssue = %d, %v; want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSummarizeDiff(t *testing.T) {
	got, err := SummarizeDiff(sampleDiff)
	if err != nil {
		t.Fatalf("SummarizeDiff failed: %v", err)
	}
	for _, want := range []string{"`main.go` (modified, +2/-1)", "`added.go` (added, +2/-0)"} {
		if !strings.Contains(got, want) {
			t.Errorf("SummarizeDiff = %q, missing %q", got, want)
		}
	}

	empty, err := SummarizeDiff("")
	if err != nil || empty != "(no changes)" {
		t.Errorf("SummarizeDiff(\"\") = %q, %v", empty, err)
	}
}

func newReviewFixture() (*providers.MockProvider, *providers.PullRequest) {
	mock := providers.NewMockProvider()
	mock.AddIssue(&providers.Issue{Number: 42, Title: "Add greeting", Body: "Print hello"})
	pr := &providers.PullRequest{Number: 43, Title: "Implement: Add greeting", Body: "Closes #42", HeadRef: "code-agent/issue-42", BaseRef: "main"}
	mock.AddPR(pr)
	mock.Diffs[43] = sampleDiff
	mock.CI[43] = &providers.CIResult{
		OverallStatus: providers.CIStatusFailure,
		Checks:        []providers.CICheck{{Name: "test", Status: providers.CIStatusFailure, Output: "TestHello failed"}},
	}
	return mock, pr
}

func TestReview_SubmitsMarkedReview(t *testing.T) {
	mock, pr := newReviewFixture()
	runner := &fakeRunner{output: "## Summary\nCI fails.\n\nDecision: REQUEST_CHANGES\nfix the test"}

	res, err := NewReviewPhase(runner, mock, "[AI-Reviewer]", "/tmp/clone", time.Millisecond, 0).
		Review(context.Background(), ReviewRequest{PR: pr, Iteration: 1, MaxIterations: 3})
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	if res.Verdict != providers.VerdictChangesRequested {
		t.Errorf("Verdict = %q", res.Verdict)
	}
	if len(mock.CreatedReviews) != 1 {
		t.Fatalf("expected exactly one review, got %d", len(mock.CreatedReviews))
	}
	got := mock.CreatedReviews[0]
	if got.PR != 43 || got.Verdict != providers.VerdictChangesRequested || !strings.HasPrefix(got.Body, "[AI-Reviewer]") {
		t.Errorf("review = %+v", got)
	}

	prompt := runner.calls[0].Prompt
	for _, want := range []string{"Pull Request #43", "owner/repo", "iteration 1/3", "#42: Add greeting", "Print hello", "TestHello failed", "`main.go`", "func newer() {}"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if runner.calls[0].WorkDir != "/tmp/clone" {
		t.Errorf("WorkDir = %q", runner.calls[0].WorkDir)
	}
}

func TestReview_MissingIssue(t *testing.T) {
	mock, pr := newReviewFixture()
	delete(mock.Issues, 42)
	runner := &fakeRunner{output: "Decision: APPROVE"}

	if _, err := NewReviewPhase(runner, mock, "[AI-Reviewer]", "", time.Millisecond, 0).
		Review(context.Background(), ReviewRequest{PR: pr, Iteration: 1, MaxIterations: 1}); err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if !strings.Contains(runner.calls[0].Prompt, "Issue #42 not found.") {
		t.Error("prompt should note the missing issue")
	}
}

func TestReview_FallsBackToComment(t *testing.T) {
	mock, pr := newReviewFixture()
	mock.CreateReviewError = errBoom
	runner := &fakeRunner{output: "Decision: APPROVE"}

	res, err := NewReviewPhase(runner, mock, "[AI-Reviewer]", "", time.Millisecond, 0).
		Review(context.Background(), ReviewRequest{PR: pr, Iteration: 1, MaxIterations: 1})
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if !res.Fallback {
		t.Error("expected fallback")
	}
	if len(mock.CreatedComments) != 1 || !strings.Contains(mock.CreatedComments[0].Body, "**Review (APPROVED):**") {
		t.Errorf("CreatedComments = %+v", mock.CreatedComments)
	}
}

func TestReview_AgentFailure(t *testing.T) {
	mock, pr := newReviewFixture()
	runner := &fakeRunner{err: errBoom}

	if _, err := NewReviewPhase(runner, mock, "[AI-Reviewer]", "", time.Millisecond, 0).
		Review(context.Background(), ReviewRequest{PR: pr, Iteration: 1, MaxIterations: 1}); err == nil {
		t.Fatal("expected error")
	}
	if len(mock.CreatedReviews) != 0 {
		t.Error("no review should be submitted")
	}
}

type verdictCounter []string

func (v *verdictCounter) ReviewSubmitted(verdict string) { *v = append(*v, verdict) }

func TestReview_RecordsVerdict(t *testing.T) {
	mock, pr := newReviewFixture()
	runner := &fakeRunner{output: "Decision: APPROVE"}
	var got verdictCounter

	if _, err := NewReviewPhase(runner, mock, "[AI-Reviewer]", "", time.Millisecond, 0).
		WithRecorder(&got).
		Review(context.Background(), ReviewRequest{PR: pr, Iteration: 1, MaxIterations: 1}); err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if len(got) != 1 || got[0] != string(providers.VerdictApproved) {
		t.Errorf("recorded = %v, want one APPROVED", got)
	}
}
