// Package recovery classifies how an interrupted session stopped and
// prepares its tasks for resumption.
//
// Classification leans on completion summaries as the evidence of record:
// an in_progress task with a summary on disk finished its work and only
// missed the status write, while one without a summary was cut off and
// must be re-dispatched. The same evidence rule runs in reverse: a task
// marked completed whose summary is missing is not trusted and is rolled
// back for re-dispatch. Step checkpoints survive recovery so a rebuilt
// context starts from the last completed pre-analysis step.
package recovery

import (
	"fmt"

	"github.com/convoy-run/convoy/internal/graph"
	"github.com/convoy-run/convoy/internal/ledger"
	"github.com/convoy-run/convoy/internal/logging"
	"github.com/convoy-run/convoy/internal/session"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/task"
)

// Strategy names how a finding should be resolved.
type Strategy string

const (
	// StrategyRetryRebuilt re-dispatches with a context rebuilt from the
	// surviving checkpoint.
	StrategyRetryRebuilt Strategy = "retry_with_rebuilt_context"
	// StrategyDiagnoseRetry re-opens a failed task for another round of
	// attempts, keeping its attempt history.
	StrategyDiagnoseRetry Strategy = "diagnose_and_retry"
	// StrategyResolveOrSkip waits on an external dependency: either it has
	// resolved and the task can run, or the operator skips it.
	StrategyResolveOrSkip Strategy = "resolve_or_skip"
	// StrategySettleCompleted records a completion that the interruption
	// cut off after the summary was written.
	StrategySettleCompleted Strategy = "settle_completed"
)

// Finding is one task's classified interruption.
type Finding struct {
	TaskID   string
	Kind     session.InterruptionKind
	Strategy Strategy
}

// Plan is the full set of findings for a session.
type Plan struct {
	Findings []Finding
}

// ByStrategy returns the task ids whose finding carries the strategy.
func (p *Plan) ByStrategy(s Strategy) []string {
	var ids []string
	for _, f := range p.Findings {
		if f.Strategy == s {
			ids = append(ids, f.TaskID)
		}
	}
	return ids
}

// Empty reports whether nothing needs recovering.
func (p *Plan) Empty() bool { return len(p.Findings) == 0 }

// Inspect classifies every non-settled task in the store.
func Inspect(st *store.Store) (*Plan, error) {
	tasks, err := st.LoadTasks()
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	for i := range tasks {
		t := &tasks[i]
		switch t.Status {
		case task.StatusInProgress:
			strategy := StrategyRetryRebuilt
			if st.HasSummary(t.ID) {
				strategy = StrategySettleCompleted
			}
			plan.Findings = append(plan.Findings, Finding{
				TaskID:   t.ID,
				Kind:     session.KindAgentInterruption,
				Strategy: strategy,
			})
		case task.StatusCompleted:
			// The summary artifact is the evidence of completion. A
			// completed status without one is a phantom and is treated
			// like an interrupted in_progress task.
			if !st.HasSummary(t.ID) {
				plan.Findings = append(plan.Findings, Finding{
					TaskID:   t.ID,
					Kind:     session.KindAgentInterruption,
					Strategy: StrategyRetryRebuilt,
				})
			}
		case task.StatusFailed:
			plan.Findings = append(plan.Findings, Finding{
				TaskID:   t.ID,
				Kind:     session.KindTaskFailure,
				Strategy: StrategyDiagnoseRetry,
			})
		case task.StatusBlocked:
			plan.Findings = append(plan.Findings, Finding{
				TaskID:   t.ID,
				Kind:     session.KindDependencyInterruption,
				Strategy: StrategyResolveOrSkip,
			})
		}
	}
	return plan, nil
}

// Options steer Apply for the strategies that need an operator decision.
type Options struct {
	// Retry re-opens these failed tasks for fresh attempts. RetryAll
	// re-opens every failed task.
	Retry    []string
	RetryAll bool
	// Skip marks these failed or blocked tasks skipped instead of
	// retrying them.
	Skip []string
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Apply executes a recovery plan: settles cut-off completions, rolls
// interrupted tasks back to pending, re-opens retried failures, and skips
// what the operator chose to skip. The interruption history on the
// session records what happened.
func Apply(st *store.Store, led *ledger.Ledger, logger *logging.Logger, plan *Plan, opts Options) error {
	if logger == nil {
		logger = logging.Discard()
	}

	for _, f := range plan.Findings {
		log := logger.WithTask(f.TaskID)

		if err := st.UpdateSession(func(s *session.Session) error {
			s.RecordInterruption(f.TaskID, f.Kind)
			return nil
		}); err != nil {
			return err
		}

		switch f.Strategy {
		case StrategySettleCompleted:
			err := st.UpdateTask(f.TaskID, func(t *task.Task) error {
				t.Execution.InterruptionReason = ""
				return t.Transition(task.StatusCompleted)
			})
			if err != nil {
				return err
			}
			if err := st.ClearCheckpoint(f.TaskID); err != nil {
				return err
			}
			if err := led.Record(f.TaskID, task.StatusCompleted, 0, "settled_after_interruption"); err != nil {
				return err
			}
			log.Info("settled interrupted task as completed, summary present")

		case StrategyRetryRebuilt:
			err := st.UpdateTask(f.TaskID, func(t *task.Task) error {
				t.Execution.InterruptionReason = string(session.KindAgentInterruption)
				if t.Status == task.StatusCompleted {
					// A phantom completion has no summary backing it, so
					// the usual immutability of completed tasks does not
					// apply.
					t.Status = task.StatusPending
					return nil
				}
				return t.Transition(task.StatusPending)
			})
			if err != nil {
				return err
			}
			if err := led.Record(f.TaskID, task.StatusPending, 0, "recovered"); err != nil {
				return err
			}
			log.Info("rolled interrupted task back to pending, checkpoint retained")

		case StrategyDiagnoseRetry:
			switch {
			case contains(opts.Skip, f.TaskID):
				if err := skipTask(st, led, f.TaskID, "operator_skip"); err != nil {
					return err
				}
				log.Info("skipping failed task at operator request")
			case opts.RetryAll || contains(opts.Retry, f.TaskID):
				err := st.UpdateTask(f.TaskID, func(t *task.Task) error {
					return t.Transition(task.StatusPending)
				})
				if err != nil {
					return err
				}
				if err := led.Record(f.TaskID, task.StatusPending, 0, "retry_after_failure"); err != nil {
					return err
				}
				log.Info("re-opened failed task for retry")
			default:
				log.Info("failed task left for operator decision")
			}

		case StrategyResolveOrSkip:
			if contains(opts.Skip, f.TaskID) {
				if err := skipTask(st, led, f.TaskID, "operator_skip"); err != nil {
					return err
				}
				log.Info("skipping blocked task at operator request")
				continue
			}
			err := st.UpdateTask(f.TaskID, func(t *task.Task) error {
				return t.Transition(task.StatusPending)
			})
			if err != nil {
				return err
			}
			if err := led.Record(f.TaskID, task.StatusPending, 0, "unblocked"); err != nil {
				return err
			}
			log.Info("re-opened blocked task, dependency check will gate it")
		}
	}
	return nil
}

func skipTask(st *store.Store, led *ledger.Ledger, id, reason string) error {
	err := st.UpdateTask(id, func(t *task.Task) error {
		if err := t.Transition(task.StatusSkipped); err != nil {
			return err
		}
		t.Execution.SkipReason = reason
		return nil
	})
	if err != nil {
		return err
	}
	return led.Record(id, task.StatusSkipped, 0, reason)
}

// Reopen resets a settled task and all of its transitive dependents to
// pending so a run can redo that subtree. It is an explicit operator
// action and bypasses the normal transition rules for completed tasks.
// Summaries and checkpoints for the reopened tasks are discarded.
func Reopen(st *store.Store, led *ledger.Ledger, g *graph.Graph, id string) ([]string, error) {
	if g.Task(id) == nil {
		return nil, fmt.Errorf("unknown task %q", id)
	}

	ids := append([]string{id}, g.TransitiveDependents(id)...)
	var reopened []string
	for _, tid := range ids {
		var did bool
		err := st.UpdateTask(tid, func(t *task.Task) error {
			if t.Status == task.StatusPending {
				return nil
			}
			t.Status = task.StatusPending
			t.Execution = task.Execution{}
			did = true
			return nil
		})
		if err != nil {
			return reopened, err
		}
		if !did {
			continue
		}
		if err := st.ClearCheckpoint(tid); err != nil {
			return reopened, err
		}
		if err := st.RemoveSummary(tid); err != nil {
			return reopened, err
		}
		if err := led.Record(tid, task.StatusPending, 0, "reopened"); err != nil {
			return reopened, err
		}
		reopened = append(reopened, tid)
	}
	return reopened, nil
}
