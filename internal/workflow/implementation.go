// Package workflow contains the agent collaborators driven by the iteration
// controller: the coding agent with its publishing step, and the review agent.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/sallandpioneers/code-agent/internal/claude"
	"github.com/sallandpioneers/code-agent/internal/providers"
)

// Runner runs an agent prompt and returns its final output
type Runner interface {
	Run(ctx context.Context, opts claude.RunOptions) (string, error)
}

// WorkOrder is everything the coding agent gets for one attempt
type WorkOrder struct {
	Issue         *providers.Issue
	Branch        string
	Base          string
	Iteration     int
	MaxIterations int
	Feedback      string // rendered feedback section, may be empty
}

// Prompt renders the work order for repo checked out at localPath
func (w WorkOrder) Prompt(repo, localPath string) string {
	body := strings.TrimSpace(w.Issue.Body)
	if body == "" {
		body = "(no description)"
	}
	return fmt.Sprintf(claude.Prompts.Code,
		repo, localPath,
		w.Issue.Number, w.Issue.Title,
		w.Branch, w.Base,
		w.Iteration, w.MaxIterations,
		body,
		w.Feedback,
		w.Branch, w.Issue.Number,
	)
}

// ImplementationPhase is the coding agent: it runs the agent on the current
// branch and publishes the result
type ImplementationPhase struct {
	runner  Runner
	host    providers.Host
	workDir string
	pr      *PRPhase
}

// NewImplementationPhase creates a new implementation phase handler
func NewImplementationPhase(runner Runner, host providers.Host, workDir string, pr *PRPhase) *ImplementationPhase {
	return &ImplementationPhase{
		runner:  runner,
		host:    host,
		workDir: workDir,
		pr:      pr,
	}
}

// ImplementResult contains the result of one coding attempt
type ImplementResult struct {
	Output string
	PR     *providers.PullRequest // nil when nothing was published
}

// Implement runs one coding attempt for order. The branch must already be
// checked out in workDir.
func (i *ImplementationPhase) Implement(ctx context.Context, order WorkOrder) (*ImplementResult, error) {
	log := clog.FromContext(ctx).With("issue", order.Issue.Number, "iteration", order.Iteration)

	log.Infof("Running coding agent (feedback: %t)", order.Feedback != "")
	output, err := i.runner.Run(ctx, claude.RunOptions{
		WorkDir: i.workDir,
		Prompt:  order.Prompt(i.host.Repo(), i.workDir),
	})
	if err != nil {
		return nil, fmt.Errorf("coding agent failed: %w", err)
	}

	result := &ImplementResult{Output: output}
	published, err := i.pr.Publish(ctx, order.Issue, order.Branch, order.Base, order.Iteration)
	if err != nil {
		return nil, err
	}
	result.PR = published.PR
	return result, nil
}
