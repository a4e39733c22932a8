package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Summary is the durable completion artifact a worker writes when it finishes
// a task. Its existence is the evidence that a task actually completed: a task
// marked completed without a summary on disk is treated as in_progress during
// recovery. The content is inherited by dependents as context.
type Summary struct {
	TaskID        string   `json:"task_id"`
	Status        string   `json:"status"` // "complete", "blocked", or "failed"
	Summary       string   `json:"summary"`
	FilesModified []string `json:"files_modified,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Issues        []string `json:"issues,omitempty"`
}

// SummaryPath returns the path a worker must write the completion summary to.
func (s *Store) SummaryPath(taskID string) string {
	return filepath.Join(s.dir, summariesDir, taskID+".json")
}

// HasSummary reports whether a completion summary exists for the task.
func (s *Store) HasSummary(taskID string) bool {
	_, err := os.Stat(s.SummaryPath(taskID))
	return err == nil
}

// LoadSummary reads and parses a task's completion summary.
func (s *Store) LoadSummary(taskID string) (*Summary, error) {
	path := s.SummaryPath(taskID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read completion summary for %s: %w", taskID, err)
	}

	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return &sum, nil
}

// SaveSummary atomically persists a completion summary.
func (s *Store) SaveSummary(sum *Summary) error {
	return writeAtomic(s.SummaryPath(sum.TaskID), sum)
}

// RemoveSummary deletes a task's completion summary. Removing a summary
// that does not exist is not an error.
func (s *Store) RemoveSummary(taskID string) error {
	err := os.Remove(s.SummaryPath(taskID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
