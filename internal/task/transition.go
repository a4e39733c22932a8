package task

import "fmt"

// Transition validates and applies a status change on the task.
// Allowed transitions:
//
//	pending     -> in_progress, blocked, skipped
//	in_progress -> completed, failed, blocked, pending
//	failed      -> skipped, pending
//	blocked     -> skipped, pending
//
// in_progress -> pending is reserved for recovery (an interrupted dispatch
// rolls back to pending). failed/blocked -> pending is the explicit retry
// path; completed is immutable.
func (t *Task) Transition(to Status) error {
	if !allowedTransition(t.Status, to) {
		return fmt.Errorf("invalid transition for task %s: %s -> %s", t.ID, t.Status, to)
	}
	t.Status = to
	return nil
}

func allowedTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusBlocked || to == StatusSkipped
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed || to == StatusBlocked || to == StatusPending
	case StatusFailed, StatusBlocked:
		return to == StatusSkipped || to == StatusPending
	default:
		return false
	}
}
