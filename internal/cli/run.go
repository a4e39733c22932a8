package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/convoy-run/convoy/internal/config"
	"github.com/convoy-run/convoy/internal/dispatch"
	"github.com/convoy-run/convoy/internal/flow"
	"github.com/convoy-run/convoy/internal/graph"
	"github.com/convoy-run/convoy/internal/ledger"
	"github.com/convoy-run/convoy/internal/logging"
	"github.com/convoy-run/convoy/internal/orchestrator"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/tui"
	"github.com/convoy-run/convoy/internal/worker"
)

// runSession builds the execution stack on top of an opened store and
// drives the orchestrator to a result. It holds the session lock for the
// duration of the run and stops cleanly on SIGINT/SIGTERM.
func runSession(st *store.Store, cfg *config.Config, autonomous, force bool) error {
	lock := st.NewLock()
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("session is already running: %w", err)
	}
	defer lock.Release()

	logger, err := logging.New(st.Dir(), cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Close()

	tasks, err := st.LoadTasks()
	if err != nil {
		return err
	}
	g, err := graph.Build(tasks, graph.Options{AllowDangling: force})
	if err != nil {
		return err
	}

	registry := worker.RegistryFor(cfg.Worker.Command, os.Stdout)
	resolver := &worker.ClaudeResolver{Command: cfg.Worker.Command}
	interp := flow.NewInterpreter(resolver, st, logger,
		time.Duration(cfg.Flow.StepTimeoutMinutes)*time.Minute)
	led := ledger.Open(st.Dir())
	disp := dispatch.New(registry, interp, st, led, logger, dispatch.Options{
		MaxRetries: cfg.Dispatch.MaxRetries,
		Timeout:    time.Duration(cfg.Dispatch.TimeoutMinutes) * time.Minute,
	})

	opts := orchestrator.Options{
		MaxConcurrency:   cfg.Scheduler.MaxConcurrency,
		AllowSkippedDeps: force,
		AllowDangling:    force,
	}
	if !autonomous {
		opts.Prompter = stdinPrompter{}
	}
	var progressShown bool
	opts.Progress = func(r orchestrator.Result) {
		progressShown = true
		fmt.Fprintf(os.Stderr, "\r%s", progressLine(r))
	}
	orch := orchestrator.New(st, g, disp, led, logger, opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := orch.Run(ctx)
	if progressShown {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\nRun interrupted. Resume with: convoy resume")
			return exitWith(ExitPartial, "")
		}
		return err
	}

	fmt.Printf("Run finished: %s\n", result.String())
	if code := outcomeExit(result.Outcome); code != ExitSuccess {
		return exitWith(code, "")
	}
	return nil
}

// progressLine renders one wave's tally as a bar plus settled counts.
func progressLine(r orchestrator.Result) string {
	settled := r.Completed + r.Failed + r.Blocked + r.Skipped
	bar := tui.ProgressBar{Current: settled, Total: r.Total, Width: 20}
	return fmt.Sprintf("%s  %d/%d tasks", bar.View(), settled, r.Total)
}
