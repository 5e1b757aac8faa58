package orchestrator

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/sallandpioneers/code-agent/internal/approval"
	"github.com/sallandpioneers/code-agent/internal/branch"
	"github.com/sallandpioneers/code-agent/internal/feedback"
	"github.com/sallandpioneers/code-agent/internal/metrics"
	"github.com/sallandpioneers/code-agent/internal/progress"
	"github.com/sallandpioneers/code-agent/internal/providers"
	"github.com/sallandpioneers/code-agent/internal/workflow"
)

// Outcome is how processing of an issue ended
type Outcome string

const (
	OutcomeApproved  Outcome = metrics.OutcomeApproved
	OutcomeExhausted Outcome = metrics.OutcomeExhausted // manual intervention required
	OutcomeFailed    Outcome = metrics.OutcomeFailed
	OutcomeSkipped   Outcome = metrics.OutcomeSkipped
	OutcomeClosed    Outcome = metrics.OutcomeClosed // PR merged or closed mid-cycle
	OutcomeCoded     Outcome = "coded"    // single coding pass, no review
	OutcomeReviewed  Outcome = "reviewed" // single review, no coding
)

// Coder is the coding agent collaborator
type Coder interface {
	Implement(ctx context.Context, order workflow.WorkOrder) (*workflow.ImplementResult, error)
}

// Reviewer is the review agent collaborator
type Reviewer interface {
	Review(ctx context.Context, req workflow.ReviewRequest) (*workflow.ReviewResult, error)
}

// Brancher prepares the working branch before each coding attempt
type Brancher interface {
	EnsureBranch(ctx context.Context, branch, base string) (branch.Result, error)
}

// Recorder receives cycle metrics
type Recorder interface {
	Iteration(phase string)
	Outcome(outcome string)
}

// ControllerConfig wires a Controller
type ControllerConfig struct {
	Host     providers.Host
	Branches Brancher
	Feedback *feedback.Aggregator
	Oracle   *approval.Oracle
	Coder    Coder
	Reviewer Reviewer
	Recorder Recorder // optional

	// NewReporter returns the status reporter for an issue; nil disables
	// status comments
	NewReporter func(issue int) *progress.Reporter

	BranchPrefix  string
	BaseBranch    string
	MaxIterations int
}

// Controller runs the bounded coding and review cycle for one issue at a time
type Controller struct {
	cfg ControllerConfig
}

// NewController creates a controller. MaxIterations below 1 is treated as 1.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	return &Controller{cfg: cfg}
}

// Result is the end state of one issue
type Result struct {
	Issue      int
	Outcome    Outcome
	Iterations int
	PR         *providers.PullRequest // last PR seen, may be nil
}

// Run drives issue through up to MaxIterations coding and review cycles. It
// stops on the first approval. Running out of budget is not an error: the
// result is OutcomeExhausted and a manual-intervention status is posted.
// Neither is a PR on the branch being merged or closed while the cycle runs;
// the result is then OutcomeClosed and no further attempt is made.
func (c *Controller) Run(ctx context.Context, issue *providers.Issue) (*Result, error) {
	name := branch.Name(c.cfg.BranchPrefix, issue.Number)
	budget := c.cfg.MaxIterations
	log := clog.FromContext(ctx).With("issue", issue.Number, "branch", name)
	ctx = clog.WithLogger(ctx, log)
	reporter := c.reporter(issue.Number)

	result := &Result{Issue: issue.Number}
	for iter := 1; iter <= budget; iter++ {
		latest, err := c.cfg.Host.FindAnyPR(ctx, name)
		if err != nil {
			return c.fail(ctx, reporter, result, err)
		}
		if latest != nil && latest.IsTerminal() {
			log.Infof("PR #%d is %s, stopping", latest.Number, latest.State)
			c.final(ctx, reporter, progress.FormatClosed(latest.Number, string(latest.State)))
			result.PR = latest
			result.Outcome = OutcomeClosed
			c.outcome(result.Outcome)
			return result, nil
		}

		result.Iterations = iter
		log.Infof("Iteration %d/%d", iter, budget)

		// Coding
		if _, err := c.code(ctx, reporter, issue, name, iter); err != nil {
			return c.fail(ctx, reporter, result, err)
		}

		// AwaitingPR
		pr, err := c.cfg.Host.FindOpenPR(ctx, name)
		if err != nil {
			return c.fail(ctx, reporter, result, err)
		}
		if pr == nil {
			log.Warnf("No PR found after coding attempt %d/%d, skipping review", iter, budget)
			c.status(ctx, reporter, progress.FormatNoPR(iter, budget))
			continue
		}
		result.PR = pr

		// Reviewing
		c.status(ctx, reporter, progress.FormatReviewing(pr.Number, iter, budget))
		c.record("review")
		if _, err := c.cfg.Reviewer.Review(ctx, workflow.ReviewRequest{PR: pr, Iteration: iter, MaxIterations: budget}); err != nil {
			return c.fail(ctx, reporter, result, err)
		}

		// Decision
		approved, err := c.cfg.Oracle.IsApproved(ctx, pr.Number)
		if err != nil {
			return c.fail(ctx, reporter, result, err)
		}
		if approved {
			log.Infof("PR #%d approved after %d iteration(s)", pr.Number, iter)
			c.final(ctx, reporter, progress.FormatApproved(pr.Number, iter))
			result.Outcome = OutcomeApproved
			c.outcome(result.Outcome)
			return result, nil
		}
		if iter < budget {
			log.Infof("PR #%d not approved, starting iteration %d", pr.Number, iter+1)
			c.status(ctx, reporter, progress.FormatChangesRequested(pr.Number, iter, budget))
		}
	}

	prNumber := 0
	if result.PR != nil {
		prNumber = result.PR.Number
	}
	log.Warnf("Max iterations (%d) reached, manual intervention required", budget)
	c.final(ctx, reporter, progress.FormatExhausted(result.Iterations, budget, prNumber))
	result.Outcome = OutcomeExhausted
	c.outcome(result.Outcome)
	return result, nil
}

// CodeOnce runs a single coding attempt without review
func (c *Controller) CodeOnce(ctx context.Context, issue *providers.Issue) (*Result, error) {
	name := branch.Name(c.cfg.BranchPrefix, issue.Number)
	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("issue", issue.Number, "branch", name))

	res, err := c.code(ctx, nil, issue, name, 1)
	if err != nil {
		c.outcome(OutcomeFailed)
		return nil, fmt.Errorf("issue #%d: %w", issue.Number, err)
	}
	c.outcome(OutcomeCoded)
	return &Result{Issue: issue.Number, Outcome: OutcomeCoded, Iterations: 1, PR: res.PR}, nil
}

// code prepares the branch, builds the work order and runs the coding agent.
// reporter may be nil.
func (c *Controller) code(ctx context.Context, reporter *progress.Reporter, issue *providers.Issue, name string, iter int) (*workflow.ImplementResult, error) {
	c.record("coding")

	c.status(ctx, reporter, progress.FormatPreparing(name))
	if _, err := c.cfg.Branches.EnsureBranch(ctx, name, c.cfg.BaseBranch); err != nil {
		return nil, err
	}

	pr, err := c.cfg.Host.FindOpenPR(ctx, name)
	if err != nil {
		return nil, err
	}
	fb, err := c.cfg.Feedback.BuildFeedback(ctx, issue.Number, pr)
	if err != nil {
		return nil, err
	}

	// Branch preparation is quick, so the coding status would be debounced
	c.forceStatus(ctx, reporter, progress.FormatCoding(iter, c.cfg.MaxIterations))
	return c.cfg.Coder.Implement(ctx, workflow.WorkOrder{
		Issue:         issue,
		Branch:        name,
		Base:          c.cfg.BaseBranch,
		Iteration:     iter,
		MaxIterations: c.cfg.MaxIterations,
		Feedback:      fb.Render(),
	})
}

func (c *Controller) fail(ctx context.Context, reporter *progress.Reporter, result *Result, err error) (*Result, error) {
	err = fmt.Errorf("issue #%d iteration %d: %w", result.Issue, result.Iterations, err)
	c.final(ctx, reporter, progress.FormatFailed(err))
	c.outcome(OutcomeFailed)
	return nil, err
}

func (c *Controller) reporter(issue int) *progress.Reporter {
	if c.cfg.NewReporter == nil {
		return nil
	}
	return c.cfg.NewReporter(issue)
}

// status comments are best effort; they never change the cycle
func (c *Controller) status(ctx context.Context, reporter *progress.Reporter, msg string) {
	if err := reporter.Update(ctx, msg); err != nil {
		clog.FromContext(ctx).Warnf("Failed to update status comment: %v", err)
	}
}

func (c *Controller) forceStatus(ctx context.Context, reporter *progress.Reporter, msg string) {
	if err := reporter.ForceUpdate(ctx, msg); err != nil {
		clog.FromContext(ctx).Warnf("Failed to update status comment: %v", err)
	}
}

func (c *Controller) final(ctx context.Context, reporter *progress.Reporter, msg string) {
	if err := reporter.Finalize(ctx, msg); err != nil {
		clog.FromContext(ctx).Warnf("Failed to post final status: %v", err)
	}
}

func (c *Controller) record(phase string) {
	if c.cfg.Recorder != nil {
		c.cfg.Recorder.Iteration(phase)
	}
}

func (c *Controller) outcome(o Outcome) {
	if c.cfg.Recorder != nil {
		c.cfg.Recorder.Outcome(string(o))
	}
}
