package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/sallandpioneers/code-agent/internal/providers"
)

// CIMonitor reads CI status for the review agent
type CIMonitor struct {
	provider     providers.CIProvider
	pollInterval time.Duration
	timeout      time.Duration
}

// NewCIMonitor creates a new CI monitor. A zero timeout reads the status once.
func NewCIMonitor(provider providers.CIProvider, pollInterval, timeout time.Duration) *CIMonitor {
	return &CIMonitor{
		provider:     provider,
		pollInterval: pollInterval,
		timeout:      timeout,
	}
}

// CIWaitResult represents the outcome of waiting for CI
type CIWaitResult struct {
	Status       providers.CIStatus
	Checks       []providers.CICheck
	FailedChecks []providers.CICheck
	TimedOut     bool
}

// WaitForCI polls CI status until it is no longer pending or the timeout
// passes. Errors are returned, not retried.
func (m *CIMonitor) WaitForCI(ctx context.Context, prNumber int) (*CIWaitResult, error) {
	deadline := time.Now().Add(m.timeout)
	log := clog.FromContext(ctx).With("pr", prNumber)

	for {
		result, err := m.provider.GetCIStatus(ctx, prNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to read CI status: %w", err)
		}

		wait := &CIWaitResult{Status: result.OverallStatus, Checks: result.Checks}
		for _, check := range result.Checks {
			if check.Status == providers.CIStatusFailure {
				wait.FailedChecks = append(wait.FailedChecks, check)
			}
		}

		if result.OverallStatus != providers.CIStatusPending {
			return wait, nil
		}
		if m.timeout <= 0 {
			return wait, nil
		}
		if time.Now().After(deadline) {
			wait.TimedOut = true
			return wait, nil
		}

		log.Debugf("CI pending, checking again in %s", m.pollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// FormatCIStatus renders a CI result for the review prompt
func FormatCIStatus(result *CIWaitResult) string {
	if result == nil || result.Status == providers.CIStatusUnknown && len(result.Checks) == 0 {
		return "No CI checks configured."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Overall: %s", result.Status))
	if result.TimedOut {
		sb.WriteString(" (still pending when the review started)")
	}
	sb.WriteString("\n")

	for _, check := range result.Checks {
		sb.WriteString(fmt.Sprintf("- %s: %s", check.Name, check.Status))
		if check.Conclusion != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", check.Conclusion))
		}
		sb.WriteString("\n")
	}

	for _, check := range result.FailedChecks {
		sb.WriteString(fmt.Sprintf("\n### %s\n", check.Name))
		switch {
		case check.Output != "":
			sb.WriteString(check.Output)
		case check.DetailsURL != "":
			sb.WriteString(fmt.Sprintf("Details: %s", check.DetailsURL))
		default:
			sb.WriteString(fmt.Sprintf("Check failed with conclusion: %s", check.Conclusion))
		}
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}
