package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoy-run/convoy/internal/dispatch"
	"github.com/convoy-run/convoy/internal/flow"
	"github.com/convoy-run/convoy/internal/graph"
	"github.com/convoy-run/convoy/internal/ledger"
	"github.com/convoy-run/convoy/internal/session"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/task"
	"github.com/convoy-run/convoy/internal/testutil"
	"github.com/convoy-run/convoy/internal/worker"
)

// scriptedWorker consumes per-task outcome scripts. A nil outcome (or an
// exhausted script) succeeds and writes a completion summary. A hook runs
// during the task's execution, before the summary is written.
type scriptedWorker struct {
	mu       sync.Mutex
	store    *store.Store
	outcomes map[string][]error
	statuses map[string]string
	hooks    map[string]func()
	calls    map[string]int
}

func newScriptedWorker(s *store.Store) *scriptedWorker {
	return &scriptedWorker{
		store:    s,
		outcomes: make(map[string][]error),
		statuses: make(map[string]string),
		hooks:    make(map[string]func()),
		calls:    make(map[string]int),
	}
}

func (w *scriptedWorker) Name() string { return "implementer" }

func (w *scriptedWorker) Execute(ctx context.Context, payload *flow.Payload, summaryPath string) error {
	w.mu.Lock()
	idx := w.calls[payload.TaskID]
	w.calls[payload.TaskID]++
	script := w.outcomes[payload.TaskID]
	status := w.statuses[payload.TaskID]
	hook := w.hooks[payload.TaskID]
	w.mu.Unlock()

	if hook != nil {
		hook()
	}

	if idx < len(script) && script[idx] != nil {
		return script[idx]
	}
	if status == "" {
		status = "complete"
	}
	return w.store.SaveSummary(&store.Summary{
		TaskID:  payload.TaskID,
		Status:  status,
		Summary: "finished " + payload.Title,
	})
}

func (w *scriptedWorker) callsFor(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[id]
}

type fixture struct {
	store  *store.Store
	graph  *graph.Graph
	ledger *ledger.Ledger
	worker *scriptedWorker
	orch   *Orchestrator
}

func setup(t *testing.T, tasks []task.Task, opts Options) *fixture {
	t.Helper()
	testutil.SetupTestDir(t)

	s, err := store.Create(session.New("orchestrator-test"), tasks)
	require.NoError(t, err)

	g, err := graph.Build(tasks, graph.Options{})
	require.NoError(t, err)

	sw := newScriptedWorker(s)
	reg := worker.NewRegistry("implementer")
	reg.Register(sw)

	resolver := flow.ResolverFunc(func(ctx context.Context, action string) (string, error) {
		return "analyzed: " + action, nil
	})
	interp := flow.NewInterpreter(resolver, s, nil, 0)
	led := ledger.Open(s.Dir())
	disp := dispatch.New(reg, interp, s, led, nil, dispatch.Options{MaxRetries: -1})

	return &fixture{
		store:  s,
		graph:  g,
		ledger: led,
		worker: sw,
		orch:   New(s, g, disp, led, nil, opts),
	}
}

func diamond() []task.Task {
	return []task.Task{
		{ID: "a", Title: "Lay foundation", Status: task.StatusPending},
		{ID: "b", Title: "Build walls", Status: task.StatusPending,
			Context: task.Context{DependsOn: []string{"a"}}},
		{ID: "c", Title: "Run wiring", Status: task.StatusPending,
			Context: task.Context{DependsOn: []string{"a"}}},
		{ID: "d", Title: "Fit roof", Status: task.StatusPending,
			Context: task.Context{DependsOn: []string{"b", "c"}}},
	}
}

func taskByID(t *testing.T, s *store.Store, id string) task.Task {
	t.Helper()
	tasks, err := s.LoadTasks()
	require.NoError(t, err)
	for _, tk := range tasks {
		if tk.ID == id {
			return tk
		}
	}
	t.Fatalf("task %s not found", id)
	return task.Task{}
}

func TestRunCompletesDiamond(t *testing.T) {
	f := setup(t, diamond(), Options{})

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 4, result.Completed)
	assert.Equal(t, 0, result.Failed)

	sess, err := f.store.LoadSession()
	require.NoError(t, err)
	assert.True(t, sess.IsComplete())

	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, task.StatusCompleted, taskByID(t, f.store, id).Status)
		assert.Equal(t, 1, f.worker.callsFor(id))
	}
}

func TestRunInheritsDependencyContext(t *testing.T) {
	f := setup(t, diamond(), Options{})

	_, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	got := taskByID(t, f.store, "d")
	assert.Contains(t, got.Context.Inherited, "b: finished Build walls")
	assert.Contains(t, got.Context.Inherited, "c: finished Run wiring")
}

func TestRunFailureCascadesSkips(t *testing.T) {
	f := setup(t, diamond(), Options{})
	f.worker.outcomes["b"] = []error{errors.New("walls collapsed")}

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomePartial, result.Outcome)
	assert.Equal(t, task.StatusCompleted, taskByID(t, f.store, "a").Status)
	assert.Equal(t, task.StatusFailed, taskByID(t, f.store, "b").Status)
	assert.Equal(t, task.StatusCompleted, taskByID(t, f.store, "c").Status)

	got := taskByID(t, f.store, "d")
	assert.Equal(t, task.StatusSkipped, got.Status)
	assert.Equal(t, task.SkipReasonDependencyFailed, got.Execution.SkipReason)
	assert.Equal(t, 0, f.worker.callsFor("d"))

	sess, err := f.store.LoadSession()
	require.NoError(t, err)
	require.NotEmpty(t, sess.InterruptionHistory)
	assert.Equal(t, session.KindTaskFailure, sess.InterruptionHistory[0].Kind)
}

func TestRunBlockedStallsWithoutFailure(t *testing.T) {
	f := setup(t, diamond(), Options{})
	f.worker.statuses["b"] = "blocked"

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeBlocked, result.Outcome)
	assert.Equal(t, task.StatusBlocked, taskByID(t, f.store, "b").Status)
	// d waits behind the blocked task instead of being skipped.
	assert.Equal(t, task.StatusPending, taskByID(t, f.store, "d").Status)
}

func TestRunPrompterRetry(t *testing.T) {
	var prompts int
	f := setup(t, diamond(), Options{
		Prompter: PrompterFunc(func(taskID string, cause error) Decision {
			prompts++
			return DecisionRetry
		}),
	})
	f.worker.outcomes["b"] = []error{errors.New("flaky tooling")}

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 1, prompts)
	assert.Equal(t, 2, f.worker.callsFor("b"))
	assert.Equal(t, task.StatusCompleted, taskByID(t, f.store, "d").Status)
}

func TestRunPrompterAbort(t *testing.T) {
	f := setup(t, diamond(), Options{
		Prompter: PrompterFunc(func(taskID string, cause error) Decision {
			return DecisionAbort
		}),
	})
	f.worker.outcomes["b"] = []error{errors.New("walls collapsed")}

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAborted, result.Outcome)
	// Admission stopped: d was never considered.
	assert.Equal(t, 0, f.worker.callsFor("d"))
}

func TestRunCompletionIsIdempotent(t *testing.T) {
	f := setup(t, diamond(), Options{})

	first, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, first.Outcome)

	second, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, second.Outcome)
	assert.Equal(t, 4, second.Completed)

	// No task ran twice.
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, 1, f.worker.callsFor(id))
	}
}

type countingArchiver struct {
	calls int
	last  *session.Session
}

func (a *countingArchiver) Archive(sess *session.Session) error {
	a.calls++
	a.last = sess
	return nil
}

func TestRunArchivesOnceOnCompletion(t *testing.T) {
	arch := &countingArchiver{}
	f := setup(t, diamond(), Options{Archiver: arch})

	_, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	// A re-run of the completed session does not archive again.
	_, err = f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, arch.calls)
	require.NotNil(t, arch.last)
	assert.True(t, arch.last.IsComplete())
}

func TestRunReportsProgressPerWave(t *testing.T) {
	var tallies []Result
	f := setup(t, diamond(), Options{
		Progress: func(r Result) { tallies = append(tallies, r) },
	})

	_, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, tallies)
	last := tallies[len(tallies)-1]
	assert.Equal(t, 4, last.Total)
	assert.Equal(t, 4, last.Completed)
	for i := 1; i < len(tallies); i++ {
		assert.GreaterOrEqual(t, tallies[i].Completed, tallies[i-1].Completed)
	}
}

func TestRunSchedulesInsertedTasks(t *testing.T) {
	f := setup(t, diamond(), Options{})

	// While d is executing, a re-plan appends a new task behind it.
	f.worker.hooks["d"] = func() {
		tasks, err := f.store.LoadTasks()
		if assert.NoError(t, err) {
			tasks = append(tasks, task.Task{
				ID: "e", Title: "Landscape yard", Status: task.StatusPending,
				Context: task.Context{DependsOn: []string{"d"}},
			})
			assert.NoError(t, f.store.SaveTasks(tasks))
		}
	}

	result, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 5, result.Completed)
	assert.Equal(t, task.StatusCompleted, taskByID(t, f.store, "e").Status)
	assert.Equal(t, 1, f.worker.callsFor("e"))
}

func TestRunCancelledContext(t *testing.T) {
	f := setup(t, diamond(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.orch.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeAborted, result.Outcome)
	assert.Equal(t, 0, f.worker.callsFor("a"))
}

func TestRunSkippedDepsGateDependents(t *testing.T) {
	// b was skipped by the operator before the run.
	tasks := []task.Task{
		{ID: "a", Title: "Lay foundation", Status: task.StatusPending},
		{ID: "b", Title: "Build walls", Status: task.StatusSkipped},
		{ID: "c", Title: "Fit roof", Status: task.StatusPending,
			Context: task.Context{DependsOn: []string{"a", "b"}}},
	}

	t.Run("default gates on skip", func(t *testing.T) {
		f := setup(t, tasks, Options{})

		result, err := f.orch.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, OutcomePartial, result.Outcome)
		assert.Equal(t, task.StatusPending, taskByID(t, f.store, "c").Status)
		assert.Equal(t, 0, f.worker.callsFor("c"))
	})

	t.Run("override treats skip as satisfied", func(t *testing.T) {
		f := setup(t, tasks, Options{AllowSkippedDeps: true})

		result, err := f.orch.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, OutcomePartial, result.Outcome)
		assert.Equal(t, task.StatusCompleted, taskByID(t, f.store, "c").Status)
	})
}
