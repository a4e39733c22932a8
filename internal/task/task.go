package task

import "time"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusSkipped    Status = "skipped"
)

// IsTerminal reports whether the status is a settled outcome.
// A wave does not close until every member is terminal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Satisfies reports whether the status satisfies a dependent's dependency.
// Skipped tasks satisfy only when the caller allows skipped dependencies.
func (s Status) Satisfies(allowSkipped bool) bool {
	if s == StatusCompleted {
		return true
	}
	return allowSkipped && s == StatusSkipped
}

// Task type constants used for worker selection when no explicit agent is set.
const (
	TypeImplementation = "implementation"
	TypeVerification   = "verification"
	TypeGeneric        = "generic"
)

// Skip reason recorded when a failure cascades to dependents.
const SkipReasonDependencyFailed = "dependency_failed"

// Meta carries scheduling and worker-selection attributes.
type Meta struct {
	// Type classifies the task (implementation, verification, generic).
	Type string `json:"type"`
	// Agent names an explicit worker, overriding type-based selection.
	Agent string `json:"agent,omitempty"`
	// ExecutionGroup groups tasks that are dispatched concurrently as one
	// wave. Empty means the task runs as a singleton wave.
	ExecutionGroup string `json:"execution_group,omitempty"`
}

// Context carries the information a worker needs to perform the task.
type Context struct {
	Requirements string   `json:"requirements"`
	FocusPaths   []string `json:"focus_paths,omitempty"`
	Acceptance   []string `json:"acceptance,omitempty"`
	DependsOn    []string `json:"depends_on"`
	// ExternalDeps flags depends_on entries that are satisfied outside this
	// session. References listed here are not dangling-reference errors.
	ExternalDeps []string `json:"external_deps,omitempty"`
	Inherited    string   `json:"inherited,omitempty"`
	Artifacts    []string `json:"artifacts,omitempty"`
}

// IsExternalDep reports whether id is flagged as externally satisfied.
func (c *Context) IsExternalDep(id string) bool {
	for _, d := range c.ExternalDeps {
		if d == id {
			return true
		}
	}
	return false
}

// ErrorPolicy controls how a flow-control step reacts to failure.
type ErrorPolicy string

const (
	// PolicyFail aborts the task immediately.
	PolicyFail ErrorPolicy = "fail"
	// PolicySkipOptional substitutes a placeholder value and continues.
	PolicySkipOptional ErrorPolicy = "skip_optional"
	// PolicyRetryOnce re-invokes the failing step exactly one more time.
	PolicyRetryOnce ErrorPolicy = "retry_once"
)

// IsValid reports whether the policy is a recognized value.
func (p ErrorPolicy) IsValid() bool {
	switch p {
	case PolicyFail, PolicySkipOptional, PolicyRetryOnce, "":
		return true
	default:
		return false
	}
}

// Step is one ordered context-gathering operation executed before dispatch.
type Step struct {
	// Step is the ordinal name of the step, used in logs and checkpoints.
	Step string `json:"step"`
	// Action is the retrieval or computation request sent to the resolver.
	// Earlier step outputs may be referenced as [name] and are substituted
	// before the action runs.
	Action string `json:"action"`
	// OutputTo names the variable the step result is stored under.
	OutputTo string `json:"output_to"`
	// OnError is the failure policy. Empty defaults to fail.
	OnError ErrorPolicy `json:"on_error,omitempty"`
}

// Policy returns the effective error policy for the step.
func (s *Step) Policy() ErrorPolicy {
	if s.OnError == "" {
		return PolicyFail
	}
	return s.OnError
}

// FlowControl describes the pre-dispatch analysis pipeline for a task.
type FlowControl struct {
	PreAnalysis            []Step   `json:"pre_analysis,omitempty"`
	ImplementationApproach string   `json:"implementation_approach,omitempty"`
	TargetFiles            []string `json:"target_files,omitempty"`
}

// Execution tracks dispatch attempts and interruption bookkeeping.
// Unlike the task's core fields, execution state is mutable for the whole
// lifetime of the task.
type Execution struct {
	Attempts           int        `json:"attempts"`
	LastAttempt        *time.Time `json:"last_attempt,omitempty"`
	InterruptionReason string     `json:"interruption_reason,omitempty"`
	SkipReason         string     `json:"skip_reason,omitempty"`
}

// Task is a single unit of work with declared dependencies.
// Core fields (everything except Status and Execution) are immutable after
// planning; only the dispatcher and the recovery engine mutate a task during
// execution, and a completed task is reopened only via an explicit retry.
type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Status      Status      `json:"status"`
	Meta        Meta        `json:"meta"`
	Context     Context     `json:"context"`
	FlowControl FlowControl `json:"flow_control"`
	Execution   Execution   `json:"execution"`
}

// HasDependencies reports whether the task depends on other tasks.
func (t *Task) HasDependencies() bool {
	return len(t.Context.DependsOn) > 0
}
