package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/sallandpioneers/code-agent/internal/approval"
	"github.com/sallandpioneers/code-agent/internal/branch"
	"github.com/sallandpioneers/code-agent/internal/claude"
	"github.com/sallandpioneers/code-agent/internal/config"
	"github.com/sallandpioneers/code-agent/internal/feedback"
	"github.com/sallandpioneers/code-agent/internal/metrics"
	"github.com/sallandpioneers/code-agent/internal/orchestrator"
	"github.com/sallandpioneers/code-agent/internal/progress"
	"github.com/sallandpioneers/code-agent/internal/providers"
	"github.com/sallandpioneers/code-agent/internal/resolver"
	"github.com/sallandpioneers/code-agent/internal/workflow"
	"github.com/sallandpioneers/code-agent/internal/workspace"
)

// prepare loads and validates the configuration, installs the logger and
// ties ctx to SIGINT and SIGTERM. Configuration errors abort before any
// remote call is made.
func prepare(cmd *cobra.Command) (context.Context, *config.Config, func(), error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		stop()
		return nil, nil, nil, err
	}

	path := logFile
	if path == "" {
		path = cfg.LogFile
	}
	logger, closeLog := setupLogger(path, verbose)
	ctx = clog.WithLogger(ctx, logger.With("repo", cfg.Repo))

	return ctx, cfg, func() {
		closeLog()
		stop()
	}, nil
}

// newHost creates the API client acting as the coding identity
func newHost(ctx context.Context, cfg *config.Config) (*providers.GitHubProvider, error) {
	host, err := providers.NewGitHubProvider(ctx, cfg.GitHub.Token, cfg.Repo, cfg.GitHub.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	return host, nil
}

// newReadOnly wires an orchestrator that can only inspect state
func newReadOnly(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, error) {
	host, err := newHost(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Config{
		Host:     host,
		Resolver: resolver.New(host, cfg.BranchPrefix),
		Oracle:   approval.NewOracle(host, cfg.Review.Marker),
	}), nil
}

// newOrchestrator wires the full engine: both GitHub identities, the local
// clone, the agents and the metrics recorder
func newOrchestrator(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, error) {
	host, err := newHost(ctx, cfg)
	if err != nil {
		return nil, err
	}
	reviewerHost, err := providers.NewGitHubProvider(ctx, cfg.ReviewerToken(), cfg.Repo, cfg.GitHub.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create reviewer GitHub client: %w", err)
	}

	ws, err := workspace.Open(ctx, workspace.Options{
		Path:        cfg.LocalPath,
		RemoteURL:   cfg.CloneURL(),
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHub.Token}),
		Identity:    workspace.Identity{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}

	recorder := metrics.NewRecorder(cfg.Repo)
	oracle := approval.NewOracle(host, cfg.Review.Marker)
	agent := claude.NewClient(cfg.Claude.Command, cfg.Claude.Timeout, cfg.Claude.AllowedTools)

	publisher := workflow.NewPRPhase(host, ws, cfg.GitHub.ReviewerUsername)
	coder := workflow.NewImplementationPhase(agent, host, ws.Path, publisher)
	reviewer := workflow.NewReviewPhase(agent, reviewerHost, oracle.Marker(), ws.Path, cfg.Review.CIPollInterval, cfg.Review.CIWait).
		WithRecorder(recorder)

	controller := orchestrator.NewController(orchestrator.ControllerConfig{
		Host:     host,
		Branches: branch.NewManager(ws, recorder),
		Feedback: feedback.New(host, oracle, cfg.Feedback.AllowedAuthors),
		Oracle:   oracle,
		Coder:    coder,
		Reviewer: reviewer,
		Recorder: recorder,
		NewReporter: func(issue int) *progress.Reporter {
			return progress.NewReporter(host, issue, cfg.Progress.DebounceInterval, cfg.Progress.Enabled)
		},
		BranchPrefix:  cfg.BranchPrefix,
		BaseBranch:    cfg.BaseBranch,
		MaxIterations: cfg.MaxIterations,
	})

	return orchestrator.New(orchestrator.Config{
		Host:       host,
		Resolver:   resolver.New(host, cfg.BranchPrefix),
		Oracle:     oracle,
		Controller: controller,
		Reviewer:   reviewer,
		Checkout:   ws,
		Recorder:   recorder,
	}), nil
}

// selectIssue returns the --issue flag when set, else the configured issue
func selectIssue(cmd *cobra.Command, flag int, cfg *config.Config) int {
	if cmd.Flags().Changed("issue") {
		return flag
	}
	return cfg.Issue
}
