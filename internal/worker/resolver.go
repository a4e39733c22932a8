package worker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// ClaudeResolver answers pre-analysis step actions by running the Claude
// Code CLI in print mode and returning its output. The flow interpreter
// bounds ctx with the step timeout.
type ClaudeResolver struct {
	// Command overrides the claude binary name. Empty means "claude".
	Command string
}

// Resolve implements flow.Resolver.
func (r *ClaudeResolver) Resolve(ctx context.Context, action string) (string, error) {
	command := r.Command
	if command == "" {
		command = "claude"
	}

	var out bytes.Buffer
	cmd := CommandContext(ctx, command, "-p", action)
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("step action failed: %w", err)
	}

	result := strings.TrimSpace(out.String())
	if result == "" {
		return "", fmt.Errorf("step action produced no output")
	}
	return result, nil
}
