package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandProvider runs a local model through its CLI, e.g. "ollama run <model> <prompt>",
// and returns what the process prints on stdout.
type CommandProvider struct {
	Command string
	Model   string
}

// NewCommandProvider creates a provider for the given executable and model.
func NewCommandProvider(command, model string) *CommandProvider {
	if command == "" {
		command = "ollama"
	}
	return &CommandProvider{Command: command, Model: model}
}

// IsConfigured reports whether the executable can be found.
func (c *CommandProvider) IsConfigured() bool {
	_, err := exec.LookPath(c.Command)
	return err == nil
}

// Generate runs the command once. maxTokens is not passed on; the CLI decides
// the response length. A process that cannot start, exits non-zero, or writes
// only to stderr is an error.
func (c *CommandProvider) Generate(ctx context.Context, prompt string, _ int) (string, error) {
	cmd := exec.CommandContext(ctx, c.Command, "run", c.Model, prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s run %s: %w", c.Command, c.Model, ctx.Err())
		}
		return "", fmt.Errorf("%s run %s: %w: %s", c.Command, c.Model, err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" && strings.TrimSpace(stderr.String()) != "" {
		return "", fmt.Errorf("%s run %s: %s", c.Command, c.Model, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
