package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sallandpioneers/code-agent/internal/orchestrator"
)

func runCmd() *cobra.Command {
	var issueNum int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the coding and review cycle for issues that need work",
		Long: `Run the full cycle once for every open issue that needs work.

An issue needs work when it has no open PR on its branch, or when the latest
review on that PR requests changes. Issues whose PR was merged or closed are
never touched again.

Example:
  code-agent run
  code-agent run --issue 123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIssues(cmd, issueNum, func(ctx context.Context, o *orchestrator.Orchestrator, only int) (*orchestrator.Summary, error) {
				return o.RunAll(ctx, only)
			})
		},
	}

	cmd.Flags().IntVar(&issueNum, "issue", 0, "Only process this issue")

	return cmd
}

func codeCmd() *cobra.Command {
	var issueNum int

	cmd := &cobra.Command{
		Use:   "code",
		Short: "Run a single coding attempt for issues that need work",
		Long: `Run the coding agent once for every open issue that needs work,
without reviewing the result.

Example:
  code-agent code --issue 123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIssues(cmd, issueNum, func(ctx context.Context, o *orchestrator.Orchestrator, only int) (*orchestrator.Summary, error) {
				return o.CodeAll(ctx, only)
			})
		},
	}

	cmd.Flags().IntVar(&issueNum, "issue", 0, "Only process this issue")

	return cmd
}

func runIssues(cmd *cobra.Command, issueNum int, fn func(context.Context, *orchestrator.Orchestrator, int) (*orchestrator.Summary, error)) error {
	ctx, cfg, cleanup, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	o, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}

	summary, err := fn(ctx, o, selectIssue(cmd, issueNum, cfg))
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary)
	}
	if err != nil {
		return err
	}
	return summaryError(summary)
}
