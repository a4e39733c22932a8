package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoy-run/convoy/internal/session"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/task"
	"github.com/convoy-run/convoy/internal/testutil"
)

func newTestStore(t *testing.T, tasks ...task.Task) *store.Store {
	t.Helper()
	testutil.SetupTestDir(t)
	s, err := store.Create(session.New("demo"), tasks)
	require.NoError(t, err)
	return s
}

func flowTask(steps ...task.Step) task.Task {
	return task.Task{
		ID:     "t01",
		Title:  "Add endpoint",
		Status: task.StatusPending,
		Context: task.Context{
			Requirements: "Implement the handler",
			FocusPaths:   []string{"api/"},
		},
		FlowControl: task.FlowControl{
			PreAnalysis: steps,
			TargetFiles: []string{"api/handler.go"},
		},
	}
}

// scriptedResolver returns canned results and errors per action, recording
// invocation counts.
type scriptedResolver struct {
	results map[string]string
	fail    map[string]int // action -> number of times to fail before success
	calls   map[string]int
}

func newScriptedResolver() *scriptedResolver {
	return &scriptedResolver{
		results: make(map[string]string),
		fail:    make(map[string]int),
		calls:   make(map[string]int),
	}
}

func (r *scriptedResolver) Resolve(_ context.Context, action string) (string, error) {
	r.calls[action]++
	if r.fail[action] > 0 {
		r.fail[action]--
		return "", errors.New("collaborator unavailable")
	}
	if out, ok := r.results[action]; ok {
		return out, nil
	}
	return "", fmt.Errorf("unknown action: %s", action)
}

func TestRunSequentialStepsAndVariableFlow(t *testing.T) {
	tk := flowTask(
		task.Step{Step: "read", Action: "read the design doc", OutputTo: "doc"},
		task.Step{Step: "summarize", Action: "summarize: [doc]", OutputTo: "summary"},
	)
	st := newTestStore(t, tk)

	r := newScriptedResolver()
	r.results["read the design doc"] = "a design"
	r.results["summarize: a design"] = "the summary"

	payload, err := NewInterpreter(r, st, nil, 0).Run(context.Background(), &tk)
	require.NoError(t, err)

	assert.Equal(t, "a design", payload.Variables["doc"])
	assert.Equal(t, "the summary", payload.Variables["summary"])
	assert.Equal(t, []string{"api/"}, payload.FocusPaths)
	assert.Equal(t, []string{"api/handler.go"}, payload.TargetFiles)
}

func TestRunUnresolvedReferenceIsStepError(t *testing.T) {
	tk := flowTask(
		task.Step{Step: "summarize", Action: "summarize: [nope]", OutputTo: "summary"},
	)
	st := newTestStore(t, tk)

	_, err := NewInterpreter(newScriptedResolver(), st, nil, 0).Run(context.Background(), &tk)
	require.Error(t, err)
	assert.True(t, IsStepError(err))
	assert.Contains(t, err.Error(), "unresolved variable reference [nope]")
}

func TestRunFailPolicyAborts(t *testing.T) {
	tk := flowTask(
		task.Step{Step: "read", Action: "missing", OutputTo: "doc"},
		task.Step{Step: "later", Action: "never runs", OutputTo: "x"},
	)
	st := newTestStore(t, tk)

	r := newScriptedResolver()
	_, err := NewInterpreter(r, st, nil, 0).Run(context.Background(), &tk)
	require.Error(t, err)
	assert.True(t, IsStepError(err))
	assert.Zero(t, r.calls["never runs"])
}

func TestRunSkipOptionalContinuesWithPlaceholder(t *testing.T) {
	tk := flowTask(
		task.Step{Step: "optional", Action: "missing", OutputTo: "extra", OnError: task.PolicySkipOptional},
		task.Step{Step: "main", Action: "do work", OutputTo: "result"},
	)
	st := newTestStore(t, tk)

	r := newScriptedResolver()
	r.results["do work"] = "done"

	payload, err := NewInterpreter(r, st, nil, 0).Run(context.Background(), &tk)
	require.NoError(t, err)
	assert.Equal(t, SkippedValue, payload.Variables["extra"])
	assert.Equal(t, "done", payload.Variables["result"])
}

func TestRunRetryOnce(t *testing.T) {
	t.Run("second attempt succeeds", func(t *testing.T) {
		tk := flowTask(
			task.Step{Step: "flaky", Action: "flaky action", OutputTo: "v", OnError: task.PolicyRetryOnce},
		)
		st := newTestStore(t, tk)

		r := newScriptedResolver()
		r.results["flaky action"] = "ok"
		r.fail["flaky action"] = 1

		payload, err := NewInterpreter(r, st, nil, 0).Run(context.Background(), &tk)
		require.NoError(t, err)
		assert.Equal(t, "ok", payload.Variables["v"])
		assert.Equal(t, 2, r.calls["flaky action"])
	})

	t.Run("exactly one retry before failing", func(t *testing.T) {
		tk := flowTask(
			task.Step{Step: "flaky", Action: "flaky action", OutputTo: "v", OnError: task.PolicyRetryOnce},
		)
		st := newTestStore(t, tk)

		r := newScriptedResolver()
		r.fail["flaky action"] = 10

		_, err := NewInterpreter(r, st, nil, 0).Run(context.Background(), &tk)
		require.Error(t, err)
		assert.True(t, IsStepError(err))
		assert.Equal(t, 2, r.calls["flaky action"])
	})

	t.Run("retry is step-local, prior variables retained", func(t *testing.T) {
		tk := flowTask(
			task.Step{Step: "first", Action: "stable", OutputTo: "a"},
			task.Step{Step: "second", Action: "use [a]", OutputTo: "b", OnError: task.PolicyRetryOnce},
		)
		st := newTestStore(t, tk)

		r := newScriptedResolver()
		r.results["stable"] = "A"
		r.results["use A"] = "B"
		r.fail["use A"] = 1

		payload, err := NewInterpreter(r, st, nil, 0).Run(context.Background(), &tk)
		require.NoError(t, err)
		assert.Equal(t, "A", payload.Variables["a"])
		assert.Equal(t, "B", payload.Variables["b"])
		assert.Equal(t, 1, r.calls["stable"], "earlier steps must not re-run")
	})
}

func TestRunReusesCheckpointedSteps(t *testing.T) {
	tk := flowTask(
		task.Step{Step: "read", Action: "read the design doc", OutputTo: "doc"},
		task.Step{Step: "summarize", Action: "summarize: [doc]", OutputTo: "summary"},
	)
	st := newTestStore(t, tk)

	require.NoError(t, st.SaveCheckpoint(&store.Checkpoint{
		TaskID:    "t01",
		Completed: []string{"read"},
		Variables: map[string]string{"doc": "persisted design"},
	}))

	r := newScriptedResolver()
	r.results["summarize: persisted design"] = "resumed summary"

	payload, err := NewInterpreter(r, st, nil, 0).Run(context.Background(), &tk)
	require.NoError(t, err)
	assert.Zero(t, r.calls["read the design doc"], "checkpointed step must not re-run")
	assert.Equal(t, "resumed summary", payload.Variables["summary"])
}

func TestAssembleSubstitutesPayloadFields(t *testing.T) {
	tk := flowTask(
		task.Step{Step: "read", Action: "read the design doc", OutputTo: "doc"},
	)
	tk.Context.Requirements = "Implement per [doc]"
	tk.FlowControl.ImplementationApproach = "Follow [doc] closely"
	st := newTestStore(t, tk)

	r := newScriptedResolver()
	r.results["read the design doc"] = "the design"

	payload, err := NewInterpreter(r, st, nil, 0).Run(context.Background(), &tk)
	require.NoError(t, err)
	assert.Equal(t, "Implement per the design", payload.Requirements)
	assert.Equal(t, "Follow the design closely", payload.Approach)
}

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"a": "1", "b_2": "2"}

	out, err := Substitute("x [a] y [b_2]", vars)
	require.NoError(t, err)
	assert.Equal(t, "x 1 y 2", out)

	out, err = Substitute("no refs", nil)
	require.NoError(t, err)
	assert.Equal(t, "no refs", out)

	_, err = Substitute("[missing]", vars)
	require.Error(t, err)
}
