package claude

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
)

// Client wraps the Claude Code CLI
type Client struct {
	command      string
	timeout      time.Duration
	allowedTools []string
}

// NewClient creates a new Claude Code client. allowedTools is the default
// tool allow-list for runs that do not set their own.
func NewClient(command string, timeout time.Duration, allowedTools []string) *Client {
	return &Client{
		command:      command,
		timeout:      timeout,
		allowedTools: allowedTools,
	}
}

// Event is one line of stream-json output
type Event struct {
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Result    string   `json:"result,omitempty"`
	IsError   bool     `json:"is_error,omitempty"`
	Message   *Message `json:"message,omitempty"`
}

// Message is an assistant message inside an Event
type Message struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a piece of message content; only text blocks are collected
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// RunOptions configures a Claude Code run
type RunOptions struct {
	WorkDir      string
	Prompt       string
	AllowedTools []string // Tools to allow without prompting; nil uses the client default
}

// Run executes Claude Code with the given prompt and returns its final answer
func (c *Client) Run(ctx context.Context, opts RunOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tools := opts.AllowedTools
	if tools == nil {
		tools = c.allowedTools
	}

	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
	}
	for _, tool := range tools {
		args = append(args, "--allowedTools", tool)
	}
	args = append(args, opts.Prompt)

	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Dir = opts.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	// Collected by exec so a chatty stderr never blocks the process
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	clog.FromContext(ctx).Debugf("Running %s in %s with %d allowed tools", c.command, opts.WorkDir, len(tools))
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start claude: %w", err)
	}

	result, parseErr := parseStream(stdout)

	// Drain stdout so the process is not blocked on a full pipe
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("claude timed out after %v", c.timeout)
		}
		return "", fmt.Errorf("claude failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if parseErr != nil {
		return "", parseErr
	}

	return result, nil
}

// parseStream reads stream-json events. The result event wins; without one
// the assistant text blocks are concatenated.
func parseStream(r io.Reader) (string, error) {
	var (
		text   strings.Builder
		result string
		seen   bool
	)

	scanner := bufio.NewScanner(r)
	// Increase buffer size for large outputs
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// Not JSON, might be raw output
			text.WriteString(line)
			text.WriteString("\n")
			continue
		}

		switch ev.Type {
		case "assistant":
			if ev.Message == nil {
				continue
			}
			for _, block := range ev.Message.Content {
				if block.Type == "text" {
					text.WriteString(block.Text)
					text.WriteString("\n")
				}
			}
		case "result":
			if ev.IsError {
				return "", fmt.Errorf("claude error (%s): %s", ev.Subtype, ev.Result)
			}
			result = ev.Result
			seen = true
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading claude output: %w", err)
	}

	if seen {
		return result, nil
	}
	return strings.TrimSpace(text.String()), nil
}
