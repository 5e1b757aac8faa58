package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration errors. They are fatal and reported before
// any work begins.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Repo          string        `yaml:"repo" env:"GITHUB_REPO,overwrite"`
	LocalPath     string        `yaml:"local_path" env:"GITHUB_REPO_LOCAL_PATH,overwrite"`
	BaseBranch    string        `yaml:"base_branch" env:"GITHUB_BASE_BRANCH,overwrite"`
	Issue         int           `yaml:"issue" env:"CODE_AGENT_ISSUE,overwrite"`
	MaxIterations int           `yaml:"max_iterations" env:"MAX_ITERATIONS,overwrite"`
	BranchPrefix  string        `yaml:"branch_prefix"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	LogFile       string        `yaml:"log_file"`
	MetricsAddr   string        `yaml:"metrics_addr"`

	GitHub   GitHubConfig   `yaml:"github"`
	Git      GitConfig      `yaml:"git"`
	Claude   ClaudeConfig   `yaml:"claude"`
	Review   ReviewConfig   `yaml:"review"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Progress ProgressConfig `yaml:"progress"`
}

type GitHubConfig struct {
	Token            string `yaml:"token" env:"GITHUB_TOKEN,overwrite"`
	ReviewerToken    string `yaml:"reviewer_token" env:"GITHUB_TOKEN_REVIEWER,overwrite"`
	ReviewerUsername string `yaml:"reviewer_username" env:"GITHUB_REVIEWER_USERNAME,overwrite"`
	BaseURL          string `yaml:"base_url"` // GitHub Enterprise API root, empty for github.com
	CloneURL         string `yaml:"clone_url"`
}

// GitConfig is the identity used for commits made on behalf of the agent
type GitConfig struct {
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

type ClaudeConfig struct {
	Command      string        `yaml:"command"`
	Timeout      time.Duration `yaml:"timeout"`
	AllowedTools []string      `yaml:"allowed_tools"`
}

// ReviewConfig controls how automated review verdicts are recognized
type ReviewConfig struct {
	Marker         string        `yaml:"marker"`           // Sentinel embedded in every automated review body
	CIWait         time.Duration `yaml:"ci_wait"`          // How long to wait for pending CI before reviewing, 0 disables
	CIPollInterval time.Duration `yaml:"ci_poll_interval"` // Poll interval while waiting for CI
}

// FeedbackConfig controls which PR comments reach the coding agent
type FeedbackConfig struct {
	AllowedAuthors []string `yaml:"allowed_authors"` // Empty means everyone
}

// ProgressConfig controls the status comment on the issue
type ProgressConfig struct {
	Enabled          bool          `yaml:"enabled"`           // Post status comments (default: true)
	DebounceInterval time.Duration `yaml:"debounce_interval"` // Minimum time between updates (default: 30s)
}

// Default configuration values
func DefaultConfig() *Config {
	return &Config{
		LocalPath:     "/tmp/repo_clone",
		BaseBranch:    "main",
		MaxIterations: 3,
		BranchPrefix:  "code-agent",
		PollInterval:  5 * time.Minute,
		Git: GitConfig{
			AuthorName:  "code-agent",
			AuthorEmail: "code-agent@users.noreply.github.com",
		},
		Claude: ClaudeConfig{
			Command: "claude",
			Timeout: 30 * time.Minute,
			AllowedTools: []string{
				"Read", "Write", "Edit", "Glob", "Grep", "Bash",
			},
		},
		Review: ReviewConfig{
			Marker:         "[AI-Reviewer]",
			CIPollInterval: 30 * time.Second,
		},
		Progress: ProgressConfig{
			Enabled:          true,
			DebounceInterval: 30 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file, then applies .env and process
// environment overrides. A missing file leaves the defaults in place.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			// Expand environment variables in the format ${VAR}
			data = expandEnvVars(data)

			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(envVarPattern.FindSubmatch(match)[1])
		return []byte(os.Getenv(varName))
	})
}

// Validate reports configuration errors wrapped in ErrInvalid
func (c *Config) Validate() error {
	if c.Repo == "" {
		return fmt.Errorf("%w: repository is required (repo or GITHUB_REPO)", ErrInvalid)
	}
	if owner, name, _ := strings.Cut(c.Repo, "/"); owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: repository %q must be owner/name", ErrInvalid, c.Repo)
	}
	if c.GitHub.Token == "" {
		return fmt.Errorf("%w: GitHub token is required (github.token or GITHUB_TOKEN)", ErrInvalid)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations must be positive, got %d", ErrInvalid, c.MaxIterations)
	}
	if c.LocalPath == "" {
		return fmt.Errorf("%w: local_path is required", ErrInvalid)
	}
	if c.BaseBranch == "" {
		return fmt.Errorf("%w: base_branch is required", ErrInvalid)
	}
	if c.Issue < 0 {
		return fmt.Errorf("%w: issue must not be negative", ErrInvalid)
	}
	return nil
}

// ReviewerToken returns the token the review agent posts with, falling back
// to the coding token when no separate reviewer identity is configured.
func (c *Config) ReviewerToken() string {
	if c.GitHub.ReviewerToken != "" {
		return c.GitHub.ReviewerToken
	}
	return c.GitHub.Token
}

// CloneURL returns the URL the local clone is created from
func (c *Config) CloneURL() string {
	if c.GitHub.CloneURL != "" {
		return c.GitHub.CloneURL
	}
	return fmt.Sprintf("https://github.com/%s.git", c.Repo)
}
