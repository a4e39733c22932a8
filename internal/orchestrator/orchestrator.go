// Package orchestrator drives a session through execution waves.
//
// The loop is recompute-heavy on purpose: after every wave settles, the
// ready set is derived again from the persisted task statuses rather than
// from in-memory bookkeeping. A crash between waves therefore loses
// nothing, and tasks inserted by re-planning are picked up on the next
// pass.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/convoy-run/convoy/internal/dispatch"
	"github.com/convoy-run/convoy/internal/graph"
	"github.com/convoy-run/convoy/internal/ledger"
	"github.com/convoy-run/convoy/internal/logging"
	"github.com/convoy-run/convoy/internal/scheduler"
	"github.com/convoy-run/convoy/internal/session"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/task"
)

// Outcome classifies how a run ended.
type Outcome int

const (
	// OutcomeSuccess means every task completed.
	OutcomeSuccess Outcome = iota
	// OutcomePartial means at least one task failed or was skipped.
	OutcomePartial
	// OutcomeBlocked means progress stopped on unresolved external
	// dependencies and nothing failed outright.
	OutcomeBlocked
	// OutcomeAborted means the operator stopped the run.
	OutcomeAborted
)

// Result summarizes a finished run.
type Result struct {
	Outcome   Outcome
	Total     int
	Completed int
	Failed    int
	Blocked   int
	Skipped   int
}

func (r Result) String() string {
	return fmt.Sprintf("%d/%d completed, %d failed, %d blocked, %d skipped",
		r.Completed, r.Total, r.Failed, r.Blocked, r.Skipped)
}

// Decision is an operator's answer to a task failure.
type Decision int

const (
	// DecisionContinue skips the failure's dependents and keeps going.
	DecisionContinue Decision = iota
	// DecisionRetry re-opens the failed task for another dispatch round.
	DecisionRetry
	// DecisionAbort stops admitting new waves.
	DecisionAbort
)

// Prompter is consulted on task failures in interactive runs.
type Prompter interface {
	OnTaskFailure(taskID string, cause error) Decision
}

// Archiver receives the session record once, when the run moves it into
// its terminal phase. Completed sessions re-run later do not archive again.
type Archiver interface {
	Archive(sess *session.Session) error
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(taskID string, cause error) Decision

func (f PrompterFunc) OnTaskFailure(taskID string, cause error) Decision {
	return f(taskID, cause)
}

// Options configure a run.
type Options struct {
	// MaxConcurrency caps wave size. Zero means the scheduler default.
	MaxConcurrency int
	// AllowSkippedDeps treats skipped dependencies as satisfied when
	// computing readiness.
	AllowSkippedDeps bool
	// AllowDangling demotes unresolved dependency references to warnings
	// when the graph is rebuilt between waves.
	AllowDangling bool
	// Prompter handles failures interactively. Nil means autonomous:
	// failures cascade skips to dependents and the run continues.
	Prompter Prompter
	// Archiver is invoked when the session completes. Nil skips archival.
	Archiver Archiver
	// Progress, when set, receives the current tally after each wave
	// settles.
	Progress func(Result)
}

// Orchestrator owns the wave loop for one session.
type Orchestrator struct {
	store  *store.Store
	graph  *graph.Graph
	disp   *dispatch.Dispatcher
	ledger *ledger.Ledger
	logger *logging.Logger
	opts   Options
}

// New creates an Orchestrator. A nil logger discards log output.
func New(st *store.Store, g *graph.Graph, disp *dispatch.Dispatcher, led *ledger.Ledger, logger *logging.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		store:  st,
		graph:  g,
		disp:   disp,
		ledger: led,
		logger: logger,
		opts:   opts,
	}
}

// Run executes waves until the session completes, stalls, or is stopped.
// The returned Result is valid whenever the error is nil or the error is a
// context error; corrupt-store errors abort the run immediately.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if err := o.enterExecute(); err != nil {
		return Result{}, err
	}

	schedOpts := scheduler.Options{
		MaxConcurrency:   o.opts.MaxConcurrency,
		AllowSkippedDeps: o.opts.AllowSkippedDeps,
	}

	for {
		if err := ctx.Err(); err != nil {
			return o.tally(OutcomeAborted, err)
		}

		tasks, err := o.store.LoadTasks()
		if err != nil {
			return Result{}, err
		}

		// Rebuild the graph from the persisted task set so tasks inserted
		// mid-run join the schedule on the next pass.
		g, err := graph.Build(tasks, graph.Options{AllowDangling: o.opts.AllowDangling})
		if err != nil {
			return Result{}, err
		}
		o.graph = g

		state := scheduler.StateOf(tasks)

		if allSettled(state) {
			return o.finish(state)
		}

		wave := scheduler.NextWave(o.graph, state, schedOpts)
		if len(wave) == 0 {
			// Nothing ready and not everything settled: the remaining
			// pending tasks sit behind failed or blocked work.
			return o.tally(o.stalledOutcome(state), nil)
		}

		o.logger.Info("dispatching wave", "tasks", wave)
		abort, err := o.runWave(ctx, wave)
		if err != nil {
			return o.tally(OutcomeAborted, err)
		}
		if abort {
			o.logger.Info("run aborted by operator")
			return o.tally(OutcomeAborted, nil)
		}

		if o.opts.Progress != nil {
			if tasks, err := o.store.LoadTasks(); err == nil {
				o.opts.Progress(countState(scheduler.StateOf(tasks)))
			}
		}
	}
}

// runWave dispatches every wave member in parallel and joins before
// returning. Failures settle inside the dispatcher; this layer decides
// what they mean for the rest of the run.
func (o *Orchestrator) runWave(ctx context.Context, wave []string) (abort bool, err error) {
	for _, id := range wave {
		if err := o.inheritContext(id); err != nil {
			return false, err
		}
	}

	errs := make([]error, len(wave))
	var wg sync.WaitGroup
	for i, id := range wave {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = o.disp.Dispatch(ctx, id)
		}(i, id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		o.recordInterruptions(wave)
		return false, err
	}

	for i, id := range wave {
		dispatchErr := errs[i]
		if dispatchErr == nil {
			continue
		}

		switch {
		case dispatch.IsTaskBlocked(dispatchErr):
			if err := o.store.UpdateSession(func(s *session.Session) error {
				s.RecordInterruption(id, session.KindDependencyInterruption)
				return nil
			}); err != nil {
				return false, err
			}

		case dispatch.IsTaskFailure(dispatchErr):
			if done, err := o.handleFailure(id, dispatchErr); done || err != nil {
				return done, err
			}

		default:
			return false, dispatchErr
		}
	}
	return false, nil
}

// handleFailure applies the failure policy: autonomous runs cascade skips,
// interactive runs ask the prompter. Returns abort=true when the operator
// stops the run.
func (o *Orchestrator) handleFailure(id string, cause error) (abort bool, err error) {
	if err := o.store.UpdateSession(func(s *session.Session) error {
		s.RecordInterruption(id, session.KindTaskFailure)
		return nil
	}); err != nil {
		return false, err
	}

	decision := DecisionContinue
	if o.opts.Prompter != nil {
		decision = o.opts.Prompter.OnTaskFailure(id, cause)
	}

	switch decision {
	case DecisionRetry:
		o.logger.WithTask(id).Info("re-opening failed task at operator request")
		err := o.store.UpdateTask(id, func(t *task.Task) error {
			return t.Transition(task.StatusPending)
		})
		if err != nil {
			return false, err
		}
		return false, o.ledger.Record(id, task.StatusPending, 0, "retry_after_failure")

	case DecisionAbort:
		return true, nil

	default:
		skipped, err := o.disp.SkipDependents(o.graph, id)
		if err != nil {
			return false, err
		}
		if len(skipped) > 0 {
			o.logger.WithTask(id).Info("skipped dependents of failed task", "skipped", skipped)
		}
		return false, nil
	}
}

// inheritContext folds the completion summaries of a task's dependencies
// into its context before dispatch. Skipped dependencies contribute
// nothing.
func (o *Orchestrator) inheritContext(id string) error {
	var parts []string
	for _, dep := range o.graph.Deps(id) {
		if !o.store.HasSummary(dep) {
			continue
		}
		sum, err := o.store.LoadSummary(dep)
		if err != nil {
			return err
		}
		part := fmt.Sprintf("%s: %s", dep, sum.Summary)
		if sum.Notes != "" {
			part += "\n  notes: " + sum.Notes
		}
		if len(sum.FilesModified) > 0 {
			part += "\n  files: " + strings.Join(sum.FilesModified, ", ")
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return nil
	}

	return o.store.UpdateTask(id, func(t *task.Task) error {
		t.Context.Inherited = strings.Join(parts, "\n")
		return nil
	})
}

// enterExecute moves a freshly planned session into the execute phase.
// Resumed sessions are already there.
func (o *Orchestrator) enterExecute() error {
	return o.store.UpdateSession(func(s *session.Session) error {
		if s.Phase == session.PhasePlan {
			return s.Advance(session.PhaseExecute)
		}
		return nil
	})
}

// finish settles a fully-executed session. Completion is idempotent: a
// session already in its terminal phase is left untouched and the
// archiver only fires on the transition itself.
func (o *Orchestrator) finish(state scheduler.State) (Result, error) {
	var completedNow bool
	err := o.store.UpdateSession(func(s *session.Session) error {
		if s.IsComplete() {
			return nil
		}
		if err := s.Advance(session.PhaseVerify); err != nil {
			return err
		}
		if err := s.Advance(session.PhaseComplete); err != nil {
			return err
		}
		completedNow = true
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if completedNow && o.opts.Archiver != nil {
		sess, err := o.store.LoadSession()
		if err != nil {
			return Result{}, err
		}
		if err := o.opts.Archiver.Archive(sess); err != nil {
			// Archival is best-effort: the session is complete either way.
			o.logger.Warn("archival failed", "error", err)
		}
	}

	result := countState(state)
	if result.Skipped > 0 {
		result.Outcome = OutcomePartial
	} else {
		result.Outcome = OutcomeSuccess
	}
	o.logger.Info("session complete", "result", result.String())
	return result, nil
}

// stalledOutcome classifies a run that cannot make further progress.
func (o *Orchestrator) stalledOutcome(state scheduler.State) Outcome {
	counts := countState(state)
	if counts.Failed == 0 && counts.Blocked > 0 {
		return OutcomeBlocked
	}
	return OutcomePartial
}

func (o *Orchestrator) tally(outcome Outcome, cause error) (Result, error) {
	tasks, err := o.store.LoadTasks()
	if err != nil {
		return Result{}, err
	}
	result := countState(scheduler.StateOf(tasks))
	result.Outcome = outcome
	return result, cause
}

// recordInterruptions tags a cancelled wave in the session history.
func (o *Orchestrator) recordInterruptions(wave []string) {
	err := o.store.UpdateSession(func(s *session.Session) error {
		tasks, err := o.store.LoadTasks()
		if err != nil {
			return err
		}
		state := scheduler.StateOf(tasks)
		for _, id := range wave {
			if state[id] == task.StatusInProgress {
				s.RecordInterruption(id, session.KindAgentInterruption)
			}
		}
		return nil
	})
	if err != nil {
		o.logger.Warn("could not record interruption history", "error", err)
	}
}

func allSettled(state scheduler.State) bool {
	for _, status := range state {
		if status != task.StatusCompleted && status != task.StatusSkipped {
			return false
		}
	}
	return true
}

func countState(state scheduler.State) Result {
	result := Result{Total: len(state)}
	for _, status := range state {
		switch status {
		case task.StatusCompleted:
			result.Completed++
		case task.StatusFailed:
			result.Failed++
		case task.StatusBlocked:
			result.Blocked++
		case task.StatusSkipped:
			result.Skipped++
		}
	}
	return result
}
