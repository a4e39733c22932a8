package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convoy-run/convoy/internal/config"
	"github.com/convoy-run/convoy/internal/git"
	"github.com/convoy-run/convoy/internal/graph"
	"github.com/convoy-run/convoy/internal/plan"
	"github.com/convoy-run/convoy/internal/session"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/worker"
)

var (
	startName       string
	startAutonomous bool
	startForce      bool
)

var startCmd = &cobra.Command{
	Use:   "start <plan-file>",
	Short: "Start executing a plan",
	Long: `Start creates a new session from a plan file and executes its tasks in
dependency order, dispatching each one to an AI coding agent.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startName, "name", "", "session name (default: plan name)")
	startCmd.Flags().BoolVar(&startAutonomous, "autonomous", false, "apply default recovery instead of prompting on failures")
	startCmd.Flags().BoolVar(&startForce, "force", false, "allow dangling dependencies and treat skipped dependencies as satisfied")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Worker.Command == "claude" && !worker.IsClaudeAvailable() {
		return fmt.Errorf("claude not found in PATH; install Claude Code or set worker.command")
	}

	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	// Workers commit as they go; starting from a dirty tree mixes their
	// changes with unrelated edits.
	if clean, err := git.IsClean(""); err == nil && !clean {
		fmt.Fprintln(os.Stderr, "Warning: workspace has uncommitted changes")
	}

	// Validate the dependency graph before any state is written.
	if _, err := graph.Build(p.Tasks, graph.Options{AllowDangling: startForce}); err != nil {
		return err
	}

	name := startName
	if name == "" {
		name = p.Name
	}

	sess := session.New(name)
	st, err := store.Create(sess, p.Tasks)
	if err != nil {
		return err
	}
	fmt.Printf("Created session %s (%s) with %d tasks\n", name, sess.SessionID, len(p.Tasks))

	autonomous := startAutonomous || cfg.Run.Autonomous
	return runSession(st, cfg, autonomous, startForce)
}
