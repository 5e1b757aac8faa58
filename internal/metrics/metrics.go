// Package metrics exposes prometheus counters for the coding/review cycle.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sallandpioneers/code-agent/internal/branch"
)

// Outcome labels
const (
	OutcomeApproved  = "approved"
	OutcomeExhausted = "exhausted" // manual intervention required
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeClosed    = "closed" // PR merged or closed mid-cycle
)

var (
	iterationCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "code_agent_iterations_total",
			Help: "Coding and review attempts started",
		},
		[]string{"repo", "phase"},
	)

	outcomeCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "code_agent_outcomes_total",
			Help: "Terminal outcomes of processed issues",
		},
		[]string{"repo", "outcome"},
	)

	branchCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "code_agent_branch_prepared_total",
			Help: "Branch preparations by result, including conflict recoveries",
		},
		[]string{"repo", "result"},
	)

	reviewCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "code_agent_reviews_submitted_total",
			Help: "Reviews submitted by the review agent by verdict",
		},
		[]string{"repo", "verdict"},
	)
)

// Recorder records metrics for one repository
type Recorder struct {
	repo string
}

// NewRecorder creates a recorder labelled with repo
func NewRecorder(repo string) *Recorder {
	return &Recorder{repo: repo}
}

// Iteration counts a started attempt of phase ("coding" or "review")
func (r *Recorder) Iteration(phase string) {
	iterationCounter.With(prometheus.Labels{"repo": r.repo, "phase": phase}).Inc()
}

// Outcome counts a terminal outcome for an issue
func (r *Recorder) Outcome(outcome string) {
	outcomeCounter.With(prometheus.Labels{"repo": r.repo, "outcome": outcome}).Inc()
}

// BranchPrepared implements branch.Recorder
func (r *Recorder) BranchPrepared(result branch.Result) {
	branchCounter.With(prometheus.Labels{"repo": r.repo, "result": string(result)}).Inc()
}

// ReviewSubmitted counts a submitted review
func (r *Recorder) ReviewSubmitted(verdict string) {
	reviewCounter.With(prometheus.Labels{"repo": r.repo, "verdict": verdict}).Inc()
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	clog.FromContext(ctx).Infof("Serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
