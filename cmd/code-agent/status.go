package main

import (
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var issueNum int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what each open issue needs",
		Long: `Show the branch, PR and automated review status of every open
issue, and whether it needs a coding attempt. Nothing is changed.

Example:
  code-agent status
  code-agent status --issue 123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			o, err := newReadOnly(ctx, cfg)
			if err != nil {
				return err
			}

			rows, err := o.Status(ctx, selectIssue(cmd, issueNum, cfg))
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&issueNum, "issue", 0, "Only show this issue")

	return cmd
}
