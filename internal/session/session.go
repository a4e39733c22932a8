package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase represents the session lifecycle phase.
type Phase string

const (
	PhasePlan     Phase = "PLAN"
	PhaseExecute  Phase = "EXECUTE"
	PhaseVerify   Phase = "VERIFY"
	PhaseComplete Phase = "COMPLETE"
)

// phaseOrder defines the monotonic ordering of phases.
var phaseOrder = map[Phase]int{
	PhasePlan:     0,
	PhaseExecute:  1,
	PhaseVerify:   2,
	PhaseComplete: 3,
}

// InterruptionKind classifies why a session stopped making progress.
type InterruptionKind string

const (
	// KindAgentInterruption means a dispatch was cut off mid-flight: the task
	// is in_progress but no completion summary exists.
	KindAgentInterruption InterruptionKind = "agent_interruption"
	// KindTaskFailure means a task exhausted its retries.
	KindTaskFailure InterruptionKind = "task_failure"
	// KindDependencyInterruption means tasks are blocked on an unresolved
	// upstream dependency.
	KindDependencyInterruption InterruptionKind = "dependency_interruption"
)

// Interruption is one entry in the session's interruption history.
type Interruption struct {
	At     time.Time        `json:"at"`
	TaskID string           `json:"task_id,omitempty"`
	Kind   InterruptionKind `json:"kind"`
}

// Session binds a set of tasks to a shared lifecycle phase.
type Session struct {
	SessionID           string         `json:"session_id"`
	Name                string         `json:"name"`
	Phase               Phase          `json:"phase"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	InterruptionHistory []Interruption `json:"interruption_history,omitempty"`
}

// New creates a session in the PLAN phase.
func New(name string) *Session {
	now := time.Now()
	return &Session{
		SessionID: uuid.NewString(),
		Name:      name,
		Phase:     PhasePlan,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the session to a later phase. Phases are monotonic, with one
// exception: VERIFY may reopen EXECUTE when verification finds blocking
// issues.
func (s *Session) Advance(to Phase) error {
	if s.Phase == PhaseVerify && to == PhaseExecute {
		s.Phase = to
		return nil
	}
	if phaseOrder[to] < phaseOrder[s.Phase] {
		return fmt.Errorf("cannot move session %s from %s back to %s", s.SessionID, s.Phase, to)
	}
	s.Phase = to
	return nil
}

// RecordInterruption appends an entry to the interruption history.
func (s *Session) RecordInterruption(taskID string, kind InterruptionKind) {
	s.InterruptionHistory = append(s.InterruptionHistory, Interruption{
		At:     time.Now(),
		TaskID: taskID,
		Kind:   kind,
	})
}

// IsComplete reports whether the session reached its terminal phase.
func (s *Session) IsComplete() bool {
	return s.Phase == PhaseComplete
}
