package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint holds the per-step variable outputs accumulated by the
// flow-control interpreter for one task. Recovery prefers replaying these
// over re-executing the steps that produced them.
type Checkpoint struct {
	TaskID string `json:"task_id"`
	// Completed lists the steps whose outputs are present, in execution order.
	Completed []string `json:"completed"`
	// Variables maps output_to names to step results.
	Variables map[string]string `json:"variables"`
}

func (s *Store) checkpointPath(taskID string) string {
	return filepath.Join(s.dir, checkpointsDir, taskID+".json")
}

// LoadCheckpoint returns the step checkpoint for a task, or nil if none
// exists.
func (s *Store) LoadCheckpoint(taskID string) (*Checkpoint, error) {
	path := s.checkpointPath(taskID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint for %s: %w", taskID, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return &cp, nil
}

// SaveCheckpoint atomically persists a step checkpoint.
func (s *Store) SaveCheckpoint(cp *Checkpoint) error {
	return writeAtomic(s.checkpointPath(cp.TaskID), cp)
}

// ClearCheckpoint removes a task's checkpoint. Clearing a missing checkpoint
// is not an error.
func (s *Store) ClearCheckpoint(taskID string) error {
	err := os.Remove(s.checkpointPath(taskID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear checkpoint for %s: %w", taskID, err)
	}
	return nil
}
