// Package dispatch hands ready tasks to workers and settles the outcome.
//
// A dispatch is synchronous: the worker runs under a timeout, and success
// requires both a clean exit and a completion summary on disk. A worker
// that exits zero without writing its summary did not complete the task.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/convoy-run/convoy/internal/flow"
	"github.com/convoy-run/convoy/internal/graph"
	"github.com/convoy-run/convoy/internal/ledger"
	"github.com/convoy-run/convoy/internal/logging"
	"github.com/convoy-run/convoy/internal/session"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/task"
	"github.com/convoy-run/convoy/internal/worker"
)

// DefaultTimeout bounds a single worker invocation.
const DefaultTimeout = 30 * time.Minute

// DefaultMaxRetries is the number of re-dispatches after the first
// failed attempt.
const DefaultMaxRetries = 2

// ErrNoSummary means the worker exited successfully but never wrote its
// completion summary.
var ErrNoSummary = errors.New("worker exited without writing a completion summary")

// TaskFailure is the terminal dispatch outcome for a task whose attempts
// are exhausted or whose pre-analysis could not complete.
type TaskFailure struct {
	TaskID   string
	Attempts int
	Err      error
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", e.TaskID, e.Attempts, e.Err)
}

func (e *TaskFailure) Unwrap() error { return e.Err }

// IsTaskFailure reports whether err is a terminal task failure.
func IsTaskFailure(err error) bool {
	var tf *TaskFailure
	return errors.As(err, &tf)
}

// TaskBlocked is the dispatch outcome for a worker that stopped on an
// unresolved external dependency. Blocked tasks are not retried; the
// recovery engine resolves or skips them.
type TaskBlocked struct {
	TaskID string
	Reason string
}

func (e *TaskBlocked) Error() string {
	return fmt.Sprintf("task %s blocked: %s", e.TaskID, e.Reason)
}

// IsTaskBlocked reports whether err is a blocked dispatch outcome.
func IsTaskBlocked(err error) bool {
	var tb *TaskBlocked
	return errors.As(err, &tb)
}

// Options configure dispatch behavior.
type Options struct {
	// MaxRetries is the number of re-dispatches after the first failed
	// attempt. Zero means DefaultMaxRetries; use a negative value for no
	// retries.
	MaxRetries int
	// Timeout bounds a single worker invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

func (o Options) maxAttempts() int {
	retries := o.MaxRetries
	if retries == 0 {
		retries = DefaultMaxRetries
	}
	if retries < 0 {
		retries = 0
	}
	return retries + 1
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Dispatcher assembles payloads, selects workers, and runs tasks to a
// terminal status.
type Dispatcher struct {
	registry *worker.Registry
	interp   *flow.Interpreter
	store    *store.Store
	ledger   *ledger.Ledger
	logger   *logging.Logger
	opts     Options
}

// New creates a Dispatcher. A nil logger discards log output.
func New(registry *worker.Registry, interp *flow.Interpreter, st *store.Store, led *ledger.Ledger, logger *logging.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		registry: registry,
		interp:   interp,
		store:    st,
		ledger:   led,
		logger:   logger,
		opts:     opts,
	}
}

// Dispatch runs one task to a terminal status. It transitions the task to
// in_progress, rebuilds the payload and invokes the selected worker once
// per attempt, and settles the task as completed or failed. The ledger is
// appended before the first attempt and after settlement.
//
// The returned error is nil for a completed task, a *TaskFailure for a
// failed one, or the context error when the run was interrupted. An
// interrupted task is left in_progress for the recovery engine.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) error {
	log := d.logger.WithTask(id)

	w, t, err := d.prepare(id)
	if err != nil {
		return d.fail(id, 0, err)
	}

	maxAttempts := d.opts.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			d.markInterrupted(id)
			return err
		}

		if err := d.startAttempt(id, attempt); err != nil {
			return err
		}
		log.Info("dispatching task", "worker", w.Name(), "attempt", attempt)

		lastErr = d.attempt(ctx, w, t)
		if lastErr == nil {
			return d.complete(id, attempt)
		}
		if ctx.Err() != nil {
			d.markInterrupted(id)
			return ctx.Err()
		}
		if IsTaskBlocked(lastErr) {
			return d.block(id, attempt, lastErr)
		}
		if flow.IsStepError(lastErr) {
			// Step policies already applied their own retry; a step
			// that still fails aborts the dispatch outright.
			return d.fail(id, attempt, lastErr)
		}
		log.Warn("attempt failed", "attempt", attempt, "error", lastErr)
	}

	return d.fail(id, maxAttempts, lastErr)
}

// prepare loads the task and selects its worker.
func (d *Dispatcher) prepare(id string) (worker.Worker, *task.Task, error) {
	tasks, err := d.store.LoadTasks()
	if err != nil {
		return nil, nil, err
	}
	var t *task.Task
	for i := range tasks {
		if tasks[i].ID == id {
			t = &tasks[i]
			break
		}
	}
	if t == nil {
		return nil, nil, fmt.Errorf("unknown task %q", id)
	}

	w, err := d.registry.ForTask(t.Meta.Agent, t.Meta.Type)
	if err != nil {
		return nil, nil, err
	}
	return w, t, nil
}

// attempt rebuilds the payload from the surviving checkpoint and runs the
// worker once. Success requires a completion summary that does not report
// failure.
func (d *Dispatcher) attempt(ctx context.Context, w worker.Worker, t *task.Task) error {
	payload, err := d.interp.Run(ctx, t)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, d.opts.timeout())
	defer cancel()
	if err := w.Execute(runCtx, payload, d.store.SummaryPath(t.ID)); err != nil {
		return err
	}

	if !d.store.HasSummary(t.ID) {
		return ErrNoSummary
	}
	sum, err := d.store.LoadSummary(t.ID)
	if err != nil {
		return err
	}
	switch sum.Status {
	case "failed":
		return fmt.Errorf("worker reported failure: %s", sum.Summary)
	case "blocked":
		return &TaskBlocked{TaskID: t.ID, Reason: sum.Summary}
	}
	return nil
}

// startAttempt moves the task to in_progress and records attempt
// bookkeeping. Attempts past the first are recorded as retries.
func (d *Dispatcher) startAttempt(id string, attempt int) error {
	err := d.store.UpdateTask(id, func(t *task.Task) error {
		if t.Status != task.StatusInProgress {
			if err := t.Transition(task.StatusInProgress); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		t.Execution.Attempts++
		t.Execution.LastAttempt = &now
		return nil
	})
	if err != nil {
		return err
	}
	reason := ""
	if attempt > 1 {
		reason = "retry"
	}
	return d.ledger.Record(id, task.StatusInProgress, attempt, reason)
}

func (d *Dispatcher) complete(id string, attempt int) error {
	err := d.store.UpdateTask(id, func(t *task.Task) error {
		t.Execution.InterruptionReason = ""
		return t.Transition(task.StatusCompleted)
	})
	if err != nil {
		return err
	}
	if err := d.store.ClearCheckpoint(id); err != nil {
		return err
	}
	d.logger.WithTask(id).Info("task completed", "attempts", attempt)
	return d.ledger.Record(id, task.StatusCompleted, attempt, "")
}

func (d *Dispatcher) fail(id string, attempts int, cause error) error {
	err := d.store.UpdateTask(id, func(t *task.Task) error {
		if t.Status == task.StatusPending {
			if err := t.Transition(task.StatusInProgress); err != nil {
				return err
			}
		}
		t.Execution.InterruptionReason = string(session.KindTaskFailure)
		return t.Transition(task.StatusFailed)
	})
	if err != nil {
		return err
	}
	d.logger.WithTask(id).Error("task failed", "attempts", attempts, "error", cause)
	if err := d.ledger.Record(id, task.StatusFailed, attempts, cause.Error()); err != nil {
		return err
	}
	return &TaskFailure{TaskID: id, Attempts: attempts, Err: cause}
}

// block parks the task on an unresolved external dependency. The worker's
// summary stays on disk as the record of what it found.
func (d *Dispatcher) block(id string, attempts int, cause error) error {
	err := d.store.UpdateTask(id, func(t *task.Task) error {
		t.Execution.InterruptionReason = string(session.KindDependencyInterruption)
		return t.Transition(task.StatusBlocked)
	})
	if err != nil {
		return err
	}
	d.logger.WithTask(id).Warn("task blocked on external dependency", "error", cause)
	if err := d.ledger.Record(id, task.StatusBlocked, attempts, cause.Error()); err != nil {
		return err
	}
	return cause
}

// markInterrupted leaves the task in_progress and tags the interruption so
// the recovery engine can classify it. Errors here are logged, not
// returned; the context error is the caller's result.
func (d *Dispatcher) markInterrupted(id string) {
	err := d.store.UpdateTask(id, func(t *task.Task) error {
		if t.Status == task.StatusInProgress {
			t.Execution.InterruptionReason = string(session.KindAgentInterruption)
		}
		return nil
	})
	if err != nil {
		d.logger.WithTask(id).Warn("could not record interruption", "error", err)
	}
}

// SkipDependents cascades a task failure to every transitive dependent
// that has not started, marking each skipped with the dependency-failure
// reason. It returns the skipped task ids in dependency order.
func (d *Dispatcher) SkipDependents(g *graph.Graph, failedID string) ([]string, error) {
	var skipped []string
	for _, depID := range g.TransitiveDependents(failedID) {
		var did bool
		err := d.store.UpdateTask(depID, func(t *task.Task) error {
			if t.Status != task.StatusPending && t.Status != task.StatusBlocked {
				return nil
			}
			if err := t.Transition(task.StatusSkipped); err != nil {
				return err
			}
			t.Execution.SkipReason = task.SkipReasonDependencyFailed
			did = true
			return nil
		})
		if err != nil {
			return skipped, err
		}
		if !did {
			continue
		}
		if err := d.ledger.Record(depID, task.StatusSkipped, 0, task.SkipReasonDependencyFailed); err != nil {
			return skipped, err
		}
		d.logger.WithTask(depID).Info("skipping dependent of failed task", "failed", failedID)
		skipped = append(skipped, depID)
	}
	return skipped, nil
}
