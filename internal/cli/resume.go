package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convoy-run/convoy/internal/config"
	"github.com/convoy-run/convoy/internal/graph"
	"github.com/convoy-run/convoy/internal/ledger"
	"github.com/convoy-run/convoy/internal/recovery"
	"github.com/convoy-run/convoy/internal/store"
)

var (
	resumeRetry    []string
	resumeRetryAll bool
	resumeSkip     []string
	resumeFrom     string
	resumeAuto     bool
	resumeForce    bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume [session-name]",
	Short: "Resume an interrupted session",
	Long: `Resume inspects how a session stopped, rolls interrupted tasks back to
pending while keeping their step checkpoints, and continues execution.
Failed tasks stay failed unless re-opened with --retry or dropped with
--skip. With no session name, the most recently updated session is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringSliceVar(&resumeRetry, "retry", nil, "failed task ids to re-open for fresh attempts")
	resumeCmd.Flags().BoolVar(&resumeRetryAll, "retry-all", false, "re-open every failed task")
	resumeCmd.Flags().StringSliceVar(&resumeSkip, "skip", nil, "failed or blocked task ids to mark skipped")
	resumeCmd.Flags().StringVar(&resumeFrom, "from", "", "re-open this task and its dependents, discarding their results")
	resumeCmd.Flags().BoolVar(&resumeAuto, "autonomous", false, "apply default recovery instead of prompting on failures")
	resumeCmd.Flags().BoolVar(&resumeForce, "force", false, "allow dangling dependencies and treat skipped dependencies as satisfied")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var dir string
	if len(args) == 1 {
		dir, err = store.Find(args[0])
	} else {
		dir, err = store.FindLatest()
	}
	if err != nil {
		return err
	}
	st := store.Open(dir)
	led := ledger.Open(st.Dir())

	plan, err := recovery.Inspect(st)
	if err != nil {
		return err
	}
	if !plan.Empty() {
		fmt.Printf("Recovering %d interrupted task(s)\n", len(plan.Findings))
		err = recovery.Apply(st, led, nil, plan, recovery.Options{
			Retry:    resumeRetry,
			RetryAll: resumeRetryAll,
			Skip:     resumeSkip,
		})
		if err != nil {
			return err
		}
	}

	if resumeFrom != "" {
		tasks, err := st.LoadTasks()
		if err != nil {
			return err
		}
		g, err := graph.Build(tasks, graph.Options{AllowDangling: resumeForce})
		if err != nil {
			return err
		}
		reopened, err := recovery.Reopen(st, led, g, resumeFrom)
		if err != nil {
			return err
		}
		fmt.Printf("Re-opened %d task(s) from %s\n", len(reopened), resumeFrom)
	}

	autonomous := resumeAuto || cfg.Run.Autonomous
	return runSession(st, cfg, autonomous, resumeForce)
}
