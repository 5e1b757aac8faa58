package branch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sallandpioneers/code-agent/internal/workspace"
	"github.com/sallandpioneers/code-agent/internal/workspace/workspacetest"
)

type fakeVCS struct {
	calls []string

	fetchErr    error
	remote      bool
	rebaseErr   error
	abortErr    error
	createErr   error
	checkoutErr error
}

func (f *fakeVCS) Fetch(ctx context.Context) error {
	f.calls = append(f.calls, "fetch")
	return f.fetchErr
}

func (f *fakeVCS) RemoteBranchExists(ctx context.Context, branch string) (bool, error) {
	f.calls = append(f.calls, "exists "+branch)
	return f.remote, nil
}

func (f *fakeVCS) CheckoutTracking(ctx context.Context, branch string) error {
	f.calls = append(f.calls, "checkout "+branch)
	return f.checkoutErr
}

func (f *fakeVCS) Rebase(ctx context.Context, onto string) error {
	f.calls = append(f.calls, "rebase "+onto)
	return f.rebaseErr
}

func (f *fakeVCS) AbortRebase(ctx context.Context) error {
	f.calls = append(f.calls, "abort")
	return f.abortErr
}

func (f *fakeVCS) CreateBranchFrom(ctx context.Context, branch, base string) error {
	f.calls = append(f.calls, "create "+branch+" from "+base)
	return f.createErr
}

type countingRecorder map[Result]int

func (c countingRecorder) BranchPrepared(result Result) { c[result]++ }

func TestName(t *testing.T) {
	if got := Name("code-agent", 42); got != "code-agent/issue-42" {
		t.Errorf("Name = %q, want code-agent/issue-42", got)
	}
}

func TestEnsureBranch(t *testing.T) {
	const b = "code-agent/issue-1"

	tests := []struct {
		name      string
		vcs       *fakeVCS
		want      Result
		wantErr   bool
		wantCalls []string
	}{
		{
			name: "created fresh",
			vcs:  &fakeVCS{},
			want: Created,
			wantCalls: []string{
				"fetch", "exists " + b, "create " + b + " from main",
			},
		},
		{
			name: "existing rebased",
			vcs:  &fakeVCS{remote: true},
			want: Rebased,
			wantCalls: []string{
				"fetch", "exists " + b, "checkout " + b, "rebase main",
			},
		},
		{
			name: "conflict recreated",
			vcs:  &fakeVCS{remote: true, rebaseErr: errors.New("conflict")},
			want: Recreated,
			wantCalls: []string{
				"fetch", "exists " + b, "checkout " + b, "rebase main", "abort", "create " + b + " from main",
			},
		},
		{
			name: "abort failure still recreates",
			vcs:  &fakeVCS{remote: true, rebaseErr: errors.New("conflict"), abortErr: errors.New("no rebase in progress")},
			want: Recreated,
			wantCalls: []string{
				"fetch", "exists " + b, "checkout " + b, "rebase main", "abort", "create " + b + " from main",
			},
		},
		{
			name:      "fetch failure is hard",
			vcs:       &fakeVCS{fetchErr: workspace.ErrFetch},
			wantErr:   true,
			wantCalls: []string{"fetch"},
		},
		{
			name:      "recreate failure is hard",
			vcs:       &fakeVCS{remote: true, rebaseErr: errors.New("conflict"), createErr: errors.New("disk full")},
			wantErr:   true,
			wantCalls: []string{"fetch", "exists " + b, "checkout " + b, "rebase main", "abort", "create " + b + " from main"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := countingRecorder{}
			m := NewManager(tt.vcs, rec)

			got, err := m.EnsureBranch(context.Background(), b, "main")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
			} else {
				if err != nil {
					t.Fatalf("EnsureBranch failed: %v", err)
				}
				if got != tt.want {
					t.Errorf("EnsureBranch = %q, want %q", got, tt.want)
				}
				if rec[tt.want] != 1 {
					t.Errorf("recorder saw %v, want one %q", rec, tt.want)
				}
			}
			if diff := cmp.Diff(tt.wantCalls, tt.vcs.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnsureBranch_FetchErrorIsWrapped(t *testing.T) {
	m := NewManager(&fakeVCS{fetchErr: workspace.ErrFetch}, nil)

	_, err := m.EnsureBranch(context.Background(), "b", "main")
	if !errors.Is(err, workspace.ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
}

func openWorkspace(t *testing.T, remote *workspacetest.Remote) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Open(context.Background(), workspace.Options{
		Path:      filepath.Join(t.TempDir(), "clone"),
		RemoteURL: remote.Dir,
		Identity:  workspace.Identity{Name: "code-agent", Email: "code-agent@example.com"},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return ws
}

func TestEnsureBranch_Workspace_CreatesFromMain(t *testing.T) {
	remote := workspacetest.NewRemote(t)
	ws := openWorkspace(t, remote)
	ctx := context.Background()

	got, err := NewManager(ws, nil).EnsureBranch(ctx, Name("code-agent", 42), "main")
	if err != nil {
		t.Fatalf("EnsureBranch failed: %v", err)
	}
	if got != Created {
		t.Errorf("EnsureBranch = %q, want %q", got, Created)
	}

	current, _ := ws.CurrentBranch(ctx)
	if current != "code-agent/issue-42" {
		t.Errorf("CurrentBranch = %q, want code-agent/issue-42", current)
	}
	head, _ := ws.Head(ctx)
	if head != remote.Head("main") {
		t.Errorf("branch = %s, want equal to main %s", head, remote.Head("main"))
	}
}

func TestEnsureBranch_Workspace_ConflictLeavesBaseTip(t *testing.T) {
	remote := workspacetest.NewRemote(t)
	b := Name("code-agent", 9)
	remote.Commit(b, "README.md", "branch version\n", "branch edit")
	remote.Commit("main", "README.md", "main version\n", "main edit")
	ws := openWorkspace(t, remote)
	ctx := context.Background()

	got, err := NewManager(ws, nil).EnsureBranch(ctx, b, "main")
	if err != nil {
		t.Fatalf("EnsureBranch failed: %v", err)
	}
	if got != Recreated {
		t.Errorf("EnsureBranch = %q, want %q", got, Recreated)
	}

	head, _ := ws.Head(ctx)
	if head != remote.Head("main") {
		t.Errorf("branch = %s, want base tip %s", head, remote.Head("main"))
	}
	dirty, _ := ws.HasChanges(ctx)
	if dirty {
		t.Error("worktree should be clean after recovery")
	}
}

func TestEnsureBranch_Workspace_Rebases(t *testing.T) {
	remote := workspacetest.NewRemote(t)
	b := Name("code-agent", 11)
	remote.Commit(b, "feature.txt", "feature\n", "feature")
	remote.Commit("main", "other.txt", "other\n", "main edit")
	ws := openWorkspace(t, remote)
	ctx := context.Background()

	got, err := NewManager(ws, nil).EnsureBranch(ctx, b, "main")
	if err != nil {
		t.Fatalf("EnsureBranch failed: %v", err)
	}
	if got != Rebased {
		t.Errorf("EnsureBranch = %q, want %q", got, Rebased)
	}

	ahead, err := ws.HasCommitsAhead(ctx, "main")
	if err != nil || !ahead {
		t.Errorf("HasCommitsAhead = %v, %v; want true", ahead, err)
	}
}
