// Package ledger maintains the live mirror of task statuses.
//
// The ledger is an append-only JSON Lines file: every update is a new entry,
// and readers merge entries newest-wins per task. Appends merge rather than
// overwrite by construction, so wave-parallel dispatchers can record
// independently without coordination beyond the in-process mutex, and an
// external reader never observes a torn snapshot.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/convoy-run/convoy/internal/task"
)

const fileName = "progress.log"

// Entry is a single ledger record.
type Entry struct {
	Timestamp time.Time   `json:"timestamp"`
	TaskID    string      `json:"task_id"`
	Status    task.Status `json:"status"`
	Attempt   int         `json:"attempt,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Ledger appends status updates and reconstructs snapshots.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// Open returns the ledger for a session directory.
func Open(sessionDir string) *Ledger {
	return &Ledger{path: filepath.Join(sessionDir, fileName)}
}

// Path returns the ledger file path, for watchers.
func (l *Ledger) Path() string { return l.path }

// Record appends one status update.
func (l *Ledger) Record(taskID string, status task.Status, attempt int, reason string) error {
	entry := Entry{
		Timestamp: time.Now(),
		TaskID:    taskID,
		Status:    status,
		Attempt:   attempt,
		Reason:    reason,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// Snapshot replays the ledger and returns the current status per task,
// merging entries newest-wins. A missing ledger file yields an empty map.
func (l *Ledger) Snapshot() (map[string]task.Status, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]task.Status)
	for _, e := range entries {
		statuses[e.TaskID] = e.Status
	}
	return statuses, nil
}

// Entries returns every ledger record in append order. Truncated trailing
// lines (a writer mid-append) are ignored rather than treated as corruption.
func (l *Ledger) Entries() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return entries, nil
}
