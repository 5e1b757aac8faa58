package orchestrator

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"
)

// Daemon re-runs the full cycle on a fixed interval
type Daemon struct {
	orchestrator *Orchestrator
	interval     time.Duration
	only         int

	// poll is RunAll by default; replaced in tests
	poll func(ctx context.Context) (*Summary, error)
}

// NewDaemon creates a daemon. only restricts every poll to one issue.
func NewDaemon(o *Orchestrator, interval time.Duration, only int) *Daemon {
	d := &Daemon{
		orchestrator: o,
		interval:     interval,
		only:         only,
	}
	d.poll = func(ctx context.Context) (*Summary, error) {
		return d.orchestrator.RunAll(ctx, d.only)
	}
	return d
}

// Run polls until ctx is done. Poll errors are logged, never fatal.
func (d *Daemon) Run(ctx context.Context) error {
	log := clog.FromContext(ctx)
	log.Infof("Starting daemon, polling every %s", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Initial poll
	d.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("Daemon shutting down...")
			return ctx.Err()
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

func (d *Daemon) pollOnce(ctx context.Context) {
	log := clog.FromContext(ctx)

	summary, err := d.poll(ctx)
	if err != nil {
		log.Errorf("Poll error: %v", err)
		return
	}
	log.Infof("Poll complete: %d item(s), %d failed", len(summary.Reports), summary.Failed())
}
