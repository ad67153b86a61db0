// Package explain consults an external AI text service for human-readable
// failure explanations and environment-setup instructions. Every call is
// best-effort: callers log failures and move on.
package explain

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/boltonhq/bolton/internal/config"
)

// Runner shells out to the configured explanation command. An empty command
// disables the collaborator entirely.
type Runner struct {
	command string
	timeout time.Duration
}

// New creates a Runner from config.
func New(cfg config.ExplainConfig) *Runner {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Runner{command: cfg.Command, timeout: timeout}
}

// Enabled reports whether an explanation command is configured.
func (r *Runner) Enabled() bool {
	return r.command != ""
}

// Explain asks the external service to explain a job failure.
func (r *Runner) Explain(ctx context.Context, failure string) (string, error) {
	prompt := "Explain this integration job failure to a developer in two sentences, " +
		"then suggest the most likely fix: " + failure
	return r.run(ctx, prompt)
}

// EnvInstructions asks for environment-setup instructions for an integration.
func (r *Runner) EnvInstructions(ctx context.Context, integrationID string) (string, error) {
	prompt := "List the environment variables and setup steps needed to configure the " +
		integrationID + " integration. Be concise."
	return r.run(ctx, prompt)
}

func (r *Runner) run(ctx context.Context, prompt string) (string, error) {
	if r.command == "" {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := BuildCommand(ctx, r.command, prompt).Output()
	if err != nil {
		return "", fmt.Errorf("explain: run %s: %w", r.command, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// BuildCommand constructs the exec.Cmd for one explanation request.
// Exported for testing.
func BuildCommand(ctx context.Context, command, prompt string) *exec.Cmd {
	return exec.CommandContext(ctx, command, "-p", prompt)
}
