// Package orchestrator drives issues through the coding and review cycle.
//
// Issues are processed one at a time against a single local clone. Each issue
// runs inside its own failure boundary: an error is recorded in the Summary
// and processing moves on to the next candidate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/sallandpioneers/code-agent/internal/approval"
	"github.com/sallandpioneers/code-agent/internal/providers"
	"github.com/sallandpioneers/code-agent/internal/resolver"
	"github.com/sallandpioneers/code-agent/internal/workflow"
)

// Checkout switches the local clone to a PR branch before a standalone review
type Checkout interface {
	Fetch(ctx context.Context) error
	CheckoutTracking(ctx context.Context, branch string) error
}

// Report is the outcome for one issue or PR in a run
type Report struct {
	Number     int
	Title      string
	Outcome    Outcome
	Reason     resolver.Reason // why an issue was skipped
	Iterations int
	PR         int
	Err        error
}

// Summary collects the reports of a run
type Summary struct {
	Reports []Report
}

// Failed returns the number of failed items
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Reports {
		if r.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

// Err joins the errors of all failed items
func (s *Summary) Err() error {
	var errs []error
	for _, r := range s.Reports {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Orchestrator selects candidates and runs them through the Controller
type Orchestrator struct {
	host       providers.Host
	resolver   *resolver.Resolver
	oracle     *approval.Oracle
	controller *Controller
	reviewer   Reviewer
	checkout   Checkout
	recorder   Recorder
}

// Config wires an Orchestrator
type Config struct {
	Host       providers.Host
	Resolver   *resolver.Resolver
	Oracle     *approval.Oracle
	Controller *Controller
	Reviewer   Reviewer // standalone reviews
	Checkout   Checkout // optional, used before standalone reviews
	Recorder   Recorder // optional
}

// New creates an orchestrator
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		host:       cfg.Host,
		resolver:   cfg.Resolver,
		oracle:     cfg.Oracle,
		controller: cfg.Controller,
		reviewer:   cfg.Reviewer,
		checkout:   cfg.Checkout,
		recorder:   cfg.Recorder,
	}
}

// Candidates returns the issue selected by only, or every open issue when
// only is 0
func (o *Orchestrator) Candidates(ctx context.Context, only int) ([]*providers.Issue, error) {
	if only > 0 {
		issue, err := o.host.GetIssue(ctx, only)
		if err != nil {
			return nil, err
		}
		return []*providers.Issue{issue}, nil
	}
	return o.host.ListOpenIssues(ctx)
}

// RunAll runs the full cycle for every candidate that needs work
func (o *Orchestrator) RunAll(ctx context.Context, only int) (*Summary, error) {
	return o.each(ctx, only, func(ctx context.Context, issue *providers.Issue) (*Result, error) {
		return o.controller.Run(ctx, issue)
	})
}

// CodeAll runs a single coding attempt for every candidate that needs work
func (o *Orchestrator) CodeAll(ctx context.Context, only int) (*Summary, error) {
	return o.each(ctx, only, func(ctx context.Context, issue *providers.Issue) (*Result, error) {
		return o.controller.CodeOnce(ctx, issue)
	})
}

// each applies fn to every candidate needing work. Only listing the
// candidates can fail the whole run.
func (o *Orchestrator) each(ctx context.Context, only int, fn func(context.Context, *providers.Issue) (*Result, error)) (*Summary, error) {
	log := clog.FromContext(ctx)

	issues, err := o.Candidates(ctx, only)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	log.Infof("Found %d candidate issue(s) in %s", len(issues), o.host.Repo())

	summary := &Summary{}
	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		report := Report{Number: issue.Number, Title: issue.Title}
		res, err := o.resolver.Resolve(ctx, issue.Number)
		if err != nil {
			log.Errorf("Issue #%d: %v", issue.Number, err)
			report.Outcome, report.Err = OutcomeFailed, err
			o.outcome(OutcomeFailed)
			summary.Reports = append(summary.Reports, report)
			continue
		}
		if !res.NeedsWork {
			log.Infof("Issue #%d does not need work (%s)", issue.Number, res.Reason)
			report.Outcome, report.Reason = OutcomeSkipped, res.Reason
			if res.PR != nil {
				report.PR = res.PR.Number
			}
			o.outcome(OutcomeSkipped)
			summary.Reports = append(summary.Reports, report)
			continue
		}

		log.Infof("Processing issue #%d: %s (%s)", issue.Number, issue.Title, res.Reason)
		result, err := fn(ctx, issue)
		if err != nil {
			log.Errorf("Issue #%d failed: %v", issue.Number, err)
			report.Outcome, report.Err = OutcomeFailed, err
			summary.Reports = append(summary.Reports, report)
			continue
		}
		report.Outcome = result.Outcome
		report.Iterations = result.Iterations
		if result.PR != nil {
			report.PR = result.PR.Number
		}
		summary.Reports = append(summary.Reports, report)
	}
	return summary, nil
}

// ReviewOpen reviews open PRs. onlyPR selects a single PR; force reviews
// even when the latest automated review is still current.
func (o *Orchestrator) ReviewOpen(ctx context.Context, onlyPR int, force bool) (*Summary, error) {
	log := clog.FromContext(ctx)

	var prs []*providers.PullRequest
	if onlyPR > 0 {
		pr, err := o.host.GetPR(ctx, onlyPR)
		if err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	} else {
		var err error
		if prs, err = o.host.ListOpenPRs(ctx); err != nil {
			return nil, fmt.Errorf("failed to list pull requests: %w", err)
		}
	}

	summary := &Summary{}
	for _, pr := range prs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		report := Report{Number: pr.Number, Title: pr.Title, PR: pr.Number}
		if err := o.reviewPR(ctx, pr, force); err != nil {
			if errors.Is(err, errNoReviewNeeded) {
				report.Outcome = OutcomeSkipped
			} else {
				log.Errorf("PR #%d: %v", pr.Number, err)
				report.Outcome, report.Err = OutcomeFailed, err
			}
		} else {
			report.Outcome, report.Iterations = OutcomeReviewed, 1
		}
		summary.Reports = append(summary.Reports, report)
	}
	return summary, nil
}

var errNoReviewNeeded = errors.New("no review needed")

func (o *Orchestrator) reviewPR(ctx context.Context, pr *providers.PullRequest, force bool) error {
	log := clog.FromContext(ctx).With("pr", pr.Number)

	if pr.IsTerminal() {
		log.Infof("PR is %s, not reviewing", pr.State)
		return errNoReviewNeeded
	}
	if !force {
		needs, err := o.oracle.NeedsReview(ctx, pr)
		if err != nil {
			return err
		}
		if !needs {
			log.Debug("Latest automated review is current")
			return errNoReviewNeeded
		}
	}

	if o.checkout != nil {
		if err := o.checkout.Fetch(ctx); err != nil {
			return err
		}
		if err := o.checkout.CheckoutTracking(ctx, pr.HeadRef); err != nil {
			return fmt.Errorf("failed to check out %s: %w", pr.HeadRef, err)
		}
	}

	if o.recorder != nil {
		o.recorder.Iteration("review")
	}
	_, err := o.reviewer.Review(ctx, workflow.ReviewRequest{PR: pr, Iteration: 1, MaxIterations: 1})
	return err
}

// StatusRow describes one candidate for the status command
type StatusRow struct {
	Issue     int
	Title     string
	Branch    string
	PR        int
	PRState   providers.PRState
	AIStatus  approval.Status
	NeedsWork bool
	Reason    resolver.Reason
	Err       error
}

// Status resolves every candidate without changing anything
func (o *Orchestrator) Status(ctx context.Context, only int) ([]StatusRow, error) {
	issues, err := o.Candidates(ctx, only)
	if err != nil {
		return nil, err
	}

	rows := make([]StatusRow, 0, len(issues))
	for _, issue := range issues {
		row := StatusRow{Issue: issue.Number, Title: issue.Title, AIStatus: approval.StatusNone}
		res, err := o.resolver.Resolve(ctx, issue.Number)
		if err != nil {
			row.Err = err
			rows = append(rows, row)
			continue
		}
		row.Branch, row.NeedsWork, row.Reason = res.Branch, res.NeedsWork, res.Reason
		if res.PR != nil {
			row.PR, row.PRState = res.PR.Number, res.PR.State
			if row.AIStatus, err = o.oracle.GetStatus(ctx, res.PR.Number); err != nil {
				row.Err = err
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (o *Orchestrator) outcome(out Outcome) {
	if o.recorder != nil {
		o.recorder.Outcome(string(out))
	}
}
