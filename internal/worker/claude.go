package worker

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/convoy-run/convoy/internal/flow"
	"github.com/convoy-run/convoy/internal/task"
)

// CommandContext is the function used to create exec.Cmd instances.
// It can be replaced in tests to mock command execution.
var CommandContext = exec.CommandContext

// IsClaudeAvailable checks if the claude command exists in PATH.
func IsClaudeAvailable() bool {
	_, err := exec.LookPath("claude")
	return err == nil
}

// ClaudeWorker runs a task through the Claude Code CLI. The role string
// shapes the prompt: an implementer writes code, a tester verifies it, a
// generalist does whatever the task asks.
type ClaudeWorker struct {
	name string
	role string
	// Command overrides the claude binary name. Empty means "claude".
	Command string
	// Output receives the CLI's combined output. Nil discards it.
	Output io.Writer
}

// NewClaudeWorker creates a worker with the given registry name and role
// description.
func NewClaudeWorker(name, role string) *ClaudeWorker {
	return &ClaudeWorker{name: name, role: role}
}

// DefaultRegistry returns a registry with the three standard Claude workers
// and the static type mapping: implementation tasks go to the implementer,
// verification tasks to the tester, everything else to the generalist.
func DefaultRegistry() *Registry {
	return RegistryFor("", nil)
}

// RegistryFor builds the standard registry with a worker command override
// and an output sink for worker transcripts.
func RegistryFor(command string, output io.Writer) *Registry {
	r := NewRegistry(NameGeneralist)
	workers := []*ClaudeWorker{
		NewClaudeWorker(NameImplementer, "You are an implementation agent. Write the code the task describes."),
		NewClaudeWorker(NameTester, "You are a verification agent. Test and verify the work the task describes."),
		NewClaudeWorker(NameGeneralist, "You are a software engineering agent. Complete the task as described."),
	}
	for _, w := range workers {
		w.Command = command
		w.Output = output
		r.Register(w)
	}
	r.MapType(task.TypeImplementation, NameImplementer)
	r.MapType(task.TypeVerification, NameTester)
	return r
}

// Name implements Worker.
func (w *ClaudeWorker) Name() string { return w.name }

// Execute implements Worker by invoking the Claude Code CLI with the
// assembled payload. The dispatcher bounds ctx with the dispatch timeout.
func (w *ClaudeWorker) Execute(ctx context.Context, payload *flow.Payload, summaryPath string) error {
	command := w.Command
	if command == "" {
		command = "claude"
	}

	cmd := CommandContext(ctx, command,
		"-p", w.buildPrompt(payload, summaryPath),
		"--dangerously-skip-permissions",
	)
	if w.Output != nil {
		cmd.Stdout = w.Output
		cmd.Stderr = w.Output
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("claude exited with error: %w", err)
	}
	return nil
}

// buildPrompt renders the dispatch payload as the worker prompt.
func (w *ClaudeWorker) buildPrompt(payload *flow.Payload, summaryPath string) string {
	var sb strings.Builder

	sb.WriteString(w.role)
	sb.WriteString("\n\n## Your Task\n")
	sb.WriteString(fmt.Sprintf("**ID**: %s\n", payload.TaskID))
	sb.WriteString(fmt.Sprintf("**Title**: %s\n", payload.Title))
	sb.WriteString(fmt.Sprintf("**Requirements**: %s\n\n", payload.Requirements))

	if payload.Approach != "" {
		sb.WriteString("## Approach\n")
		sb.WriteString(payload.Approach)
		sb.WriteString("\n\n")
	}

	if payload.Inherited != "" {
		sb.WriteString("## Context From Completed Dependencies\n")
		sb.WriteString(payload.Inherited)
		sb.WriteString("\n\n")
	}

	if len(payload.Variables) > 0 {
		sb.WriteString("## Gathered Context\n")
		for _, name := range sortedKeys(payload.Variables) {
			sb.WriteString(fmt.Sprintf("### %s\n%s\n\n", name, payload.Variables[name]))
		}
	}

	if len(payload.FocusPaths) > 0 {
		sb.WriteString("## Focus Paths\n")
		for _, p := range payload.FocusPaths {
			sb.WriteString(fmt.Sprintf("- %s\n", p))
		}
		sb.WriteString("\n")
	}

	if len(payload.TargetFiles) > 0 {
		sb.WriteString("## Target Files\nOnly modify these files:\n")
		for _, f := range payload.TargetFiles {
			sb.WriteString(fmt.Sprintf("- %s\n", f))
		}
		sb.WriteString("\n")
	}

	if len(payload.Acceptance) > 0 {
		sb.WriteString("## Acceptance Criteria\nVerify ALL of the following before finishing:\n")
		for i, criterion := range payload.Acceptance {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, criterion))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Completion\n")
	sb.WriteString(fmt.Sprintf("When finished, write a JSON completion summary to `%s` with fields: ", summaryPath))
	sb.WriteString(`task_id, status ("complete", "blocked", or "failed"), summary, files_modified, notes, issues. `)
	sb.WriteString("The summary file is REQUIRED: without it the task does not count as completed.\n")

	return sb.String()
}

// sortedKeys keeps prompt rendering deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
