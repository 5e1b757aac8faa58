package main

import (
	"github.com/spf13/cobra"
)

func reviewCmd() *cobra.Command {
	var (
		prNum int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review open pull requests",
		Long: `Run the review agent on open pull requests.

A PR is reviewed when it is not a draft and either has no automated review
yet or has commits newer than the latest one. --force skips that check.

Example:
  code-agent review
  code-agent review --pr 45 --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			o, err := newOrchestrator(ctx, cfg)
			if err != nil {
				return err
			}

			summary, err := o.ReviewOpen(ctx, prNum, force)
			if summary != nil {
				printSummary(cmd.OutOrStdout(), summary)
			}
			if err != nil {
				return err
			}
			return summaryError(summary)
		},
	}

	cmd.Flags().IntVar(&prNum, "pr", 0, "Only review this pull request")
	cmd.Flags().BoolVar(&force, "force", false, "Review even when the latest automated review is current")

	return cmd
}
