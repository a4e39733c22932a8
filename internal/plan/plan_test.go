package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoy-run/convoy/internal/task"
)

func writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writePlan(t, "Billing Refactor.json", `{
		"tasks": [
			{"title": "Extract invoice model"},
			{"id": "t99", "title": "Port handlers", "context": {"depends_on": ["t01"]}}
		]
	}`)

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "billing-refactor", p.Name)
	assert.Equal(t, path, p.SourceFile)
	assert.False(t, p.CreatedAt.IsZero())

	require.Len(t, p.Tasks, 2)
	assert.Equal(t, "t01", p.Tasks[0].ID)
	assert.Equal(t, task.StatusPending, p.Tasks[0].Status)
	assert.Equal(t, "t99", p.Tasks[1].ID)
}

func TestLoadFullTask(t *testing.T) {
	path := writePlan(t, "plan.json", `{
		"name": "auth",
		"tasks": [{
			"id": "t01",
			"title": "Add login endpoint",
			"meta": {"type": "implementation", "execution_group": "api"},
			"context": {
				"requirements": "POST /login with [schema_notes]",
				"acceptance": ["returns 200 on valid credentials"],
				"focus_paths": ["internal/api/"]
			},
			"flow_control": {
				"pre_analysis": [
					{"step": "schema", "action": "describe the user schema", "output_to": "schema_notes", "on_error": "retry_once"}
				],
				"implementation_approach": "follow [schema_notes]",
				"target_files": ["internal/api/login.go"]
			}
		}]
	}`)

	p, err := Load(path)
	require.NoError(t, err)

	tk := p.Tasks[0]
	assert.Equal(t, task.TypeImplementation, tk.Meta.Type)
	assert.Equal(t, "api", tk.Meta.ExecutionGroup)
	assert.Equal(t, task.PolicyRetryOnce, tk.FlowControl.PreAnalysis[0].OnError)
	assert.Equal(t, []string{"internal/api/login.go"}, tk.FlowControl.TargetFiles)
}

func TestLoadRejectsInvalidPlans(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "no tasks",
			content: `{"name": "empty", "tasks": []}`,
			errMsg:  "no tasks",
		},
		{
			name: "duplicate ids",
			content: `{"name": "dup", "tasks": [
				{"id": "t01", "title": "one"},
				{"id": "t01", "title": "two"}
			]}`,
			errMsg: "duplicate task id",
		},
		{
			name:    "missing title",
			content: `{"name": "bad", "tasks": [{"id": "t01"}]}`,
			errMsg:  "no title",
		},
		{
			name: "step without output",
			content: `{"name": "bad", "tasks": [{
				"id": "t01", "title": "x",
				"flow_control": {"pre_analysis": [{"step": "scan", "action": "scan"}]}
			}]}`,
			errMsg: "no output variable",
		},
		{
			name: "unknown error policy",
			content: `{"name": "bad", "tasks": [{
				"id": "t01", "title": "x",
				"flow_control": {"pre_analysis": [
					{"step": "scan", "action": "scan", "output_to": "v", "on_error": "explode"}
				]}
			}]}`,
			errMsg: "unknown error policy",
		},
		{
			name:    "malformed json",
			content: `{"name": "bad"`,
			errMsg:  "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePlan(t, "plan.json", tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read plan file")
}
