package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logFile    string
	verbose    bool

	version = "dev"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "code-agent",
		Short: "Drive coding and review agents through GitHub issues",
		Long: `code-agent runs a coding agent and a review agent against the open
issues of one GitHub repository.

For every issue that needs work it:
- Prepares the issue branch in a local clone
- Runs the coding agent, which commits, pushes and opens a PR
- Runs the review agent, which submits a marked review
- Repeats until the review approves or the iteration budget runs out`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(codeCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "code-agent %s\n", version)
		},
	}
}
