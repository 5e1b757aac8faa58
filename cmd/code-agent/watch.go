package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sallandpioneers/code-agent/internal/metrics"
	"github.com/sallandpioneers/code-agent/internal/orchestrator"
)

func watchCmd() *cobra.Command {
	var (
		issueNum    int
		interval    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the cycle repeatedly on a poll interval",
		Long: `Run the full cycle for every issue that needs work, then again every
poll interval until interrupted. When --metrics-addr (or metrics_addr in the
config) is set, Prometheus metrics are served on it at /metrics.

Example:
  code-agent watch --interval 10m`,
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
			if interval <= 0 {
				interval = cfg.PollInterval
			}
			if metricsAddr == "" {
				metricsAddr = cfg.MetricsAddr
			}
			daemon := orchestrator.NewDaemon(o, interval, selectIssue(cmd, issueNum, cfg))

			g, gctx := errgroup.WithContext(ctx)
			if metricsAddr != "" {
				g.Go(func() error { return metrics.Serve(gctx, metricsAddr) })
			}
			g.Go(func() error { return daemon.Run(gctx) })

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&issueNum, "issue", 0, "Only process this issue")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}
