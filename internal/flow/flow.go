// Package flow executes a task's pre-analysis steps and assembles the
// dispatch payload.
//
// Steps run strictly sequentially per task. Each step's result is stored in a
// step-scoped variable map; later steps and the final payload reference
// earlier results via [name] substitution. Step results are checkpointed to
// the store so a resumed session replays persisted outputs instead of
// re-invoking the collaborator.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/convoy-run/convoy/internal/logging"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/task"
)

// SkippedValue is the placeholder stored when a step fails under the
// skip_optional policy.
const SkippedValue = "(unavailable)"

// DefaultStepTimeout bounds a single resolver call.
const DefaultStepTimeout = 5 * time.Minute

// StepError marks a step-level execution failure: a failed action under the
// fail policy, an exhausted retry_once, or an unresolved variable reference.
type StepError struct {
	TaskID string
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s of task %s failed: %v", e.Step, e.TaskID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IsStepError reports whether err is a step execution error.
func IsStepError(err error) bool {
	var se *StepError
	return errors.As(err, &se)
}

// Resolver performs a step's action against an external collaborator and
// returns its result. Implementations are expected to honor ctx cancellation.
type Resolver interface {
	Resolve(ctx context.Context, action string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, action string) (string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, action string) (string, error) {
	return f(ctx, action)
}

// Payload is the assembled dispatch input for a worker: the accumulated step
// variables plus the task's focus paths, target files, and approach.
type Payload struct {
	TaskID       string
	Title        string
	Requirements string
	Acceptance   []string
	Approach     string
	Inherited    string
	FocusPaths   []string
	TargetFiles  []string
	Variables    map[string]string
}

// Interpreter runs pre-analysis steps for tasks.
type Interpreter struct {
	resolver    Resolver
	store       *store.Store
	logger      *logging.Logger
	stepTimeout time.Duration
}

// NewInterpreter creates an Interpreter. A nil logger discards log output;
// a zero stepTimeout means DefaultStepTimeout.
func NewInterpreter(resolver Resolver, st *store.Store, logger *logging.Logger, stepTimeout time.Duration) *Interpreter {
	if logger == nil {
		logger = logging.Discard()
	}
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	return &Interpreter{resolver: resolver, store: st, logger: logger, stepTimeout: stepTimeout}
}

// Run executes the task's pre-analysis steps in order and assembles the
// dispatch payload. Previously checkpointed step outputs are reused; a
// rebuilt context starts from whatever checkpoint survived the interruption.
func (in *Interpreter) Run(ctx context.Context, t *task.Task) (*Payload, error) {
	log := in.logger.WithTask(t.ID)

	cp, err := in.store.LoadCheckpoint(t.ID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = &store.Checkpoint{TaskID: t.ID, Variables: make(map[string]string)}
	}
	done := make(map[string]bool, len(cp.Completed))
	for _, name := range cp.Completed {
		done[name] = true
	}

	for i := range t.FlowControl.PreAnalysis {
		step := &t.FlowControl.PreAnalysis[i]
		if done[step.Step] {
			log.Debug("reusing checkpointed step output", "step", step.Step)
			continue
		}

		value, err := in.runStep(ctx, t.ID, step, cp.Variables)
		if err != nil {
			return nil, err
		}

		cp.Variables[step.OutputTo] = value
		cp.Completed = append(cp.Completed, step.Step)
		if err := in.store.SaveCheckpoint(cp); err != nil {
			return nil, err
		}
	}

	return in.assemble(t, cp.Variables)
}

// runStep substitutes variables into the action, invokes the resolver, and
// applies the step's error policy.
func (in *Interpreter) runStep(ctx context.Context, taskID string, step *task.Step, vars map[string]string) (string, error) {
	log := in.logger.WithTask(taskID)

	action, err := Substitute(step.Action, vars)
	if err != nil {
		return "", &StepError{TaskID: taskID, Step: step.Step, Err: err}
	}

	value, err := in.resolve(ctx, action)
	if err == nil {
		log.Debug("step completed", "step", step.Step, "output_to", step.OutputTo)
		return value, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	switch step.Policy() {
	case task.PolicySkipOptional:
		log.Warn("optional step failed, substituting placeholder", "step", step.Step, "error", err)
		return SkippedValue, nil

	case task.PolicyRetryOnce:
		log.Warn("step failed, retrying once", "step", step.Step, "error", err)
		value, retryErr := in.resolve(ctx, action)
		if retryErr == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &StepError{TaskID: taskID, Step: step.Step, Err: retryErr}

	default:
		return "", &StepError{TaskID: taskID, Step: step.Step, Err: err}
	}
}

func (in *Interpreter) resolve(ctx context.Context, action string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, in.stepTimeout)
	defer cancel()
	return in.resolver.Resolve(ctx, action)
}

// assemble builds the final payload, substituting variables into the
// free-form fields that may reference step outputs.
func (in *Interpreter) assemble(t *task.Task, vars map[string]string) (*Payload, error) {
	requirements, err := Substitute(t.Context.Requirements, vars)
	if err != nil {
		return nil, &StepError{TaskID: t.ID, Step: "assemble", Err: err}
	}
	approach, err := Substitute(t.FlowControl.ImplementationApproach, vars)
	if err != nil {
		return nil, &StepError{TaskID: t.ID, Step: "assemble", Err: err}
	}

	return &Payload{
		TaskID:       t.ID,
		Title:        t.Title,
		Requirements: requirements,
		Acceptance:   t.Context.Acceptance,
		Approach:     approach,
		Inherited:    t.Context.Inherited,
		FocusPaths:   t.Context.FocusPaths,
		TargetFiles:  t.FlowControl.TargetFiles,
		Variables:    vars,
	}, nil
}
