package claude

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseStream(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name: "result wins over assistant text",
			input: `{"type":"system","subtype":"init","session_id":"s1"}
{"type":"assistant","message":{"content":[{"type":"text","text":"thinking"},{"type":"tool_use"}]}}
{"type":"result","subtype":"success","result":"Decision: APPROVE","is_error":false}
`,
			want: "Decision: APPROVE",
		},
		{
			name: "assistant text without result",
			input: `{"type":"assistant","message":{"content":[{"type":"text","text":"one"}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"two"}]}}
`,
			want: "one\ntwo",
		},
		{
			name:  "raw lines are kept",
			input: "plain output\n\n",
			want:  "plain output",
		},
		{
			name:    "error result",
			input:   `{"type":"result","subtype":"error_max_turns","result":"too many turns","is_error":true}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStream(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseStream failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseStream = %q, want %q", got, tt.want)
			}
		})
	}
}

// fakeCLI writes a shell script that prints a stream-json result and echoes
// its arguments to args.txt
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "claude")
	content := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"" + filepath.Join(dir, "args.txt") + "\"\n" + body
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("writing fake CLI: %v", err)
	}
	return script
}

func TestClient_Run(t *testing.T) {
	script := fakeCLI(t, `echo '{"type":"result","subtype":"success","result":"done","is_error":false}'`)
	c := NewClient(script, 10*time.Second, []string{"Read", "Edit"})

	got, err := c.Run(context.Background(), RunOptions{WorkDir: t.TempDir(), Prompt: "fix it"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "done" {
		t.Errorf("Run = %q, want done", got)
	}

	args, err := os.ReadFile(filepath.Join(filepath.Dir(script), "args.txt"))
	if err != nil {
		t.Fatalf("reading args: %v", err)
	}
	for _, want := range []string{"--print", "stream-json", "--allowedTools\nRead", "--allowedTools\nEdit", "fix it"} {
		if !strings.Contains(string(args), want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}

func TestClient_RunFailure(t *testing.T) {
	script := fakeCLI(t, "echo 'bad credentials' >&2\nexit 3")
	c := NewClient(script, 10*time.Second, nil)

	_, err := c.Run(context.Background(), RunOptions{WorkDir: t.TempDir(), Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "bad credentials") {
		t.Errorf("error %q should include stderr", err)
	}
}

func TestClient_RunLargeStderr(t *testing.T) {
	// Well past the OS pipe buffer, written before any stdout
	script := fakeCLI(t, "head -c 262144 /dev/zero | tr '\\0' 'x' >&2\n"+
		`echo '{"type":"result","subtype":"success","result":"done","is_error":false}'`)
	c := NewClient(script, 5*time.Second, nil)

	got, err := c.Run(context.Background(), RunOptions{WorkDir: t.TempDir(), Prompt: "x"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "done" {
		t.Errorf("Run = %q, want done", got)
	}
}
