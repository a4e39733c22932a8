// Package cli wires the convoy commands: start, resume, status, and
// sessions.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convoy-run/convoy/internal/config"
	"github.com/convoy-run/convoy/internal/orchestrator"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/version"
)

// Exit codes: 0 every task completed, 1 partial (failures or skips),
// 2 blocked on external dependencies, 3 corrupt session state.
const (
	ExitSuccess   = 0
	ExitPartial   = 1
	ExitBlocked   = 2
	ExitCorrupted = 3
)

var rootCmd = &cobra.Command{
	Use:           "convoy",
	Short:         "Dependency-aware task runner for AI coding agents",
	Long:          `Convoy executes a plan of dependent tasks in concurrent waves, dispatching each task to an AI coding agent and resuming cleanly after interruptions.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Init()
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitWith(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

// outcomeExit maps a run result to its exit code.
func outcomeExit(outcome orchestrator.Outcome) int {
	switch outcome {
	case orchestrator.OutcomeSuccess:
		return ExitSuccess
	case orchestrator.OutcomeBlocked:
		return ExitBlocked
	default:
		return ExitPartial
	}
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if store.IsCorrupt(err) {
		return ExitCorrupted
	}
	return ExitPartial
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) && ee.msg == "" {
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitCode(err)
}
