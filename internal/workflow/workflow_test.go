package workflow

import (
	"context"
	"errors"

	"github.com/sallandpioneers/code-agent/internal/claude"
)

// fakeRunner records prompts and returns canned output
type fakeRunner struct {
	output string
	err    error
	calls  []claude.RunOptions
	// onRun simulates side effects of the agent
	onRun func()
}

func (f *fakeRunner) Run(ctx context.Context, opts claude.RunOptions) (string, error) {
	f.calls = append(f.calls, opts)
	if f.onRun != nil {
		f.onRun()
	}
	return f.output, f.err
}

// fakeRepo is an in-memory Repo
type fakeRepo struct {
	dirty     bool
	ahead     bool
	pushErr   error
	commits   []string
	pushed    []string
	commitErr error
}

func (f *fakeRepo) CommitAll(ctx context.Context, message string) (bool, error) {
	if f.commitErr != nil {
		return false, f.commitErr
	}
	if !f.dirty {
		return false, nil
	}
	f.dirty = false
	f.ahead = true
	f.commits = append(f.commits, message)
	return true, nil
}

func (f *fakeRepo) HasCommitsAhead(ctx context.Context, base string) (bool, error) {
	return f.ahead, nil
}

func (f *fakeRepo) Push(ctx context.Context, branch string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, branch)
	return nil
}

var errBoom = errors.New("boom")
