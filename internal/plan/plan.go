// Package plan loads and validates task plan files.
//
// A plan file is the JSON handoff from planning to execution: a name, an
// optional description, and the task list with dependencies and flow
// control. Loading fills in what planners commonly omit (ids, statuses)
// and rejects what execution cannot tolerate (duplicate ids, unknown
// error policies, steps without outputs).
package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/convoy-run/convoy/internal/task"
	"github.com/convoy-run/convoy/internal/util"
)

// Plan is a parsed plan file.
type Plan struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	SourceFile  string      `json:"source_file,omitempty"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
	Tasks       []task.Task `json:"tasks"`
}

// Load reads and validates a plan file. Tasks with no id are assigned
// sequential ids; tasks with no status start pending. The plan name
// defaults to the file's base name.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}

	if p.Name == "" {
		base := filepath.Base(path)
		p.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	p.Name = util.KebabCase(p.Name)
	if p.SourceFile == "" {
		p.SourceFile = path
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	for i := range p.Tasks {
		if p.Tasks[i].ID == "" {
			p.Tasks[i].ID = util.GenerateTaskID(i)
		}
		if p.Tasks[i].Status == "" {
			p.Tasks[i].Status = task.StatusPending
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks plan-level constraints. Graph-level validation (cycles,
// dangling dependencies) happens when the dependency graph is built.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("plan has no usable name")
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan %q has no tasks", p.Name)
	}

	seen := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.Title == "" {
			return fmt.Errorf("task %s has no title", t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true

		for si := range t.FlowControl.PreAnalysis {
			step := &t.FlowControl.PreAnalysis[si]
			if step.Step == "" {
				return fmt.Errorf("task %s: pre-analysis step %d has no name", t.ID, si+1)
			}
			if step.Action == "" {
				return fmt.Errorf("task %s: step %q has no action", t.ID, step.Step)
			}
			if step.OutputTo == "" {
				return fmt.Errorf("task %s: step %q has no output variable", t.ID, step.Step)
			}
			if step.OnError != "" && !step.OnError.IsValid() {
				return fmt.Errorf("task %s: step %q has unknown error policy %q", t.ID, step.Step, step.OnError)
			}
		}
	}
	return nil
}
