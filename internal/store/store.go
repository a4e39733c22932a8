// Package store provides the durable session/task repository.
//
// All state lives under .convoy/sessions/<session-id>-<name>/ as plain JSON
// files. Every mutation is an atomic write-then-rename so concurrent wave
// execution can never observe a half-written record. The store is the single
// shared mutable resource of the orchestrator; components receive it by
// injection rather than through package-level state.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/convoy-run/convoy/internal/session"
	"github.com/convoy-run/convoy/internal/task"
)

const (
	convoyDir   = ".convoy"
	sessionsDir = "sessions"

	sessionFileName = "session.json"
	tasksFileName   = "tasks.json"
	summariesDir    = "summaries"
	checkpointsDir  = "checkpoints"
)

// CorruptError marks a persisted record that failed to parse. Corrupt state
// is never guessed at or auto-repaired; callers surface it for manual
// intervention or explicit regeneration.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt state in %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// IsCorrupt reports whether err indicates corrupted persisted state.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// Store is the durable repository for one session and its tasks.
// UpdateTask and UpdateSession serialize read-modify-write cycles through an
// internal mutex so concurrent dispatches in a wave cannot clobber each other.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open returns a Store for an existing session directory.
func Open(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the session directory this store is rooted at.
func (s *Store) Dir() string { return s.dir }

// SessionsRoot returns the directory holding all session folders.
func SessionsRoot() string {
	return filepath.Join(convoyDir, sessionsDir)
}

// Find locates a session directory by name suffix under .convoy/sessions/.
func Find(name string) (string, error) {
	root := SessionsRoot()

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no sessions found. Run 'convoy start <name>' first")
		}
		return "", fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var matches []string
	suffix := "-" + name
	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			matches = append(matches, entry.Name())
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("session not found: %s", name)
	case 1:
		return filepath.Join(root, matches[0]), nil
	default:
		return "", fmt.Errorf("multiple sessions match '%s': %v", name, matches)
	}
}

// List returns all session directories under .convoy/sessions/, most
// recently modified first.
func List() ([]string, error) {
	root := SessionsRoot()

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	type stamped struct {
		dir string
		mod time.Time
	}
	var dirs []stamped
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, stamped{filepath.Join(root, entry.Name()), info.ModTime()})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mod.After(dirs[j].mod) })

	paths := make([]string, len(dirs))
	for i, d := range dirs {
		paths[i] = d.dir
	}
	return paths, nil
}

// FindLatest returns the most recently modified session directory.
func FindLatest() (string, error) {
	dirs, err := List()
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no sessions found. Run 'convoy start <plan-file>' first")
	}
	return dirs[0], nil
}

// Create initializes the directory layout for a new session and persists the
// session record and task set. The folder is <root>/<session-id>-<name>/.
func Create(sess *session.Session, tasks []task.Task) (*Store, error) {
	dir := filepath.Join(SessionsRoot(), sess.SessionID+"-"+sess.Name)

	for _, sub := range []string{summariesDir, checkpointsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create session folder: %w", err)
		}
	}

	s := Open(dir)
	if err := s.SaveSession(sess); err != nil {
		return nil, err
	}
	if err := s.SaveTasks(tasks); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSession reads and parses the session record.
func (s *Store) LoadSession() (*session.Session, error) {
	path := filepath.Join(s.dir, sessionFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return &sess, nil
}

// SaveSession atomically persists the session record, bumping UpdatedAt.
func (s *Store) SaveSession(sess *session.Session) error {
	sess.UpdatedAt = time.Now()
	return writeAtomic(filepath.Join(s.dir, sessionFileName), sess)
}

// UpdateSession applies fn to the current session record and persists the
// result as one atomic read-modify-write.
func (s *Store) UpdateSession(fn func(*session.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.LoadSession()
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	return s.SaveSession(sess)
}

// LoadTasks reads and parses the full task set.
func (s *Store) LoadTasks() ([]task.Task, error) {
	path := filepath.Join(s.dir, tasksFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task records: %w", err)
	}

	var tasks []task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return tasks, nil
}

// SaveTasks atomically persists the full task set.
func (s *Store) SaveTasks(tasks []task.Task) error {
	return writeAtomic(filepath.Join(s.dir, tasksFileName), tasks)
}

// UpdateTask applies fn to a single task and persists the whole set as one
// atomic read-modify-write. Returns an error if the id is unknown.
func (s *Store) UpdateTask(id string, fn func(*task.Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.LoadTasks()
	if err != nil {
		return err
	}

	for i := range tasks {
		if tasks[i].ID == id {
			if err := fn(&tasks[i]); err != nil {
				return err
			}
			return s.SaveTasks(tasks)
		}
	}
	return fmt.Errorf("unknown task: %s", id)
}

// writeAtomic marshals v and writes it via temp file + rename.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
