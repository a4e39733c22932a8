package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoy-run/convoy/internal/graph"
	"github.com/convoy-run/convoy/internal/task"
)

type taskDef struct {
	id    string
	deps  []string
	group string
	files []string
}

func buildGraph(t *testing.T, defs []taskDef) *graph.Graph {
	t.Helper()
	var tasks []task.Task
	for _, s := range defs {
		tasks = append(tasks, task.Task{
			ID:          s.id,
			Status:      task.StatusPending,
			Meta:        task.Meta{ExecutionGroup: s.group},
			Context:     task.Context{DependsOn: s.deps},
			FlowControl: task.FlowControl{TargetFiles: s.files},
		})
	}
	g, err := graph.Build(tasks, graph.Options{})
	require.NoError(t, err)
	return g
}

func stateWhere(g *graph.Graph, overrides map[string]task.Status) State {
	state := make(State)
	for _, id := range g.IDs() {
		state[id] = task.StatusPending
	}
	for id, st := range overrides {
		state[id] = st
	}
	return state
}

func TestReady(t *testing.T) {
	g := buildGraph(t, []taskDef{
		{id: "a"},
		{id: "b", deps: []string{"a"}},
		{id: "c", deps: []string{"a"}},
	})

	t.Run("only roots are ready initially", func(t *testing.T) {
		ready := Ready(g, stateWhere(g, nil), Options{})
		assert.Equal(t, []string{"a"}, ready)
	})

	t.Run("dependents become ready after completion", func(t *testing.T) {
		ready := Ready(g, stateWhere(g, map[string]task.Status{"a": task.StatusCompleted}), Options{})
		assert.Equal(t, []string{"b", "c"}, ready)
	})

	t.Run("skipped dependency blocks by default", func(t *testing.T) {
		ready := Ready(g, stateWhere(g, map[string]task.Status{"a": task.StatusSkipped}), Options{})
		assert.Empty(t, ready)
	})

	t.Run("skipped dependency satisfies with override", func(t *testing.T) {
		ready := Ready(g, stateWhere(g, map[string]task.Status{"a": task.StatusSkipped}), Options{AllowSkippedDeps: true})
		assert.Equal(t, []string{"b", "c"}, ready)
	})
}

func TestPartitionDiamondScenario(t *testing.T) {
	// A (no deps), B and C depend on A, no file overlap:
	// wave1 = {A}; after A settles, wave = {B, C} dispatched concurrently.
	g := buildGraph(t, []taskDef{
		{id: "a"},
		{id: "b", deps: []string{"a"}},
		{id: "c", deps: []string{"a"}},
	})

	wave := NextWave(g, stateWhere(g, nil), Options{})
	assert.Equal(t, []string{"a"}, wave)

	wave = NextWave(g, stateWhere(g, map[string]task.Status{"a": task.StatusCompleted}), Options{})
	assert.Equal(t, []string{"b", "c"}, wave)
}

func TestPartitionSerializesFileConflicts(t *testing.T) {
	// A and B both declare target file x, no dependency between them:
	// they are serialized into separate waves, in id order.
	g := buildGraph(t, []taskDef{
		{id: "a", files: []string{"x"}},
		{id: "b", files: []string{"x"}},
	})

	waves := Partition(g, Ready(g, stateWhere(g, nil), Options{}), Options{})
	require.Len(t, waves, 2)
	assert.Equal(t, []string{"a"}, waves[0])
	assert.Equal(t, []string{"b"}, waves[1])
}

func TestPartitionNoWaveHasOverlappingTargetFiles(t *testing.T) {
	g := buildGraph(t, []taskDef{
		{id: "t01", files: []string{"a.go", "b.go"}},
		{id: "t02", files: []string{"b.go", "c.go"}},
		{id: "t03", files: []string{"c.go"}},
		{id: "t04", files: []string{"d.go"}},
		{id: "t05"},
	})

	waves := Partition(g, Ready(g, stateWhere(g, nil), Options{}), Options{MaxConcurrency: 5})
	for _, wave := range waves {
		seen := make(map[string]string)
		for _, id := range wave {
			for _, f := range g.Task(id).FlowControl.TargetFiles {
				if owner, dup := seen[f]; dup {
					t.Fatalf("wave %v: file %s declared by both %s and %s", wave, f, owner, id)
				}
				seen[f] = id
			}
		}
	}
}

func TestPartitionRespectsMaxConcurrency(t *testing.T) {
	g := buildGraph(t, []taskDef{
		{id: "t01"}, {id: "t02"}, {id: "t03"}, {id: "t04"}, {id: "t05"},
	})

	waves := Partition(g, Ready(g, stateWhere(g, nil), Options{}), Options{})
	require.Len(t, waves, 2)
	assert.Equal(t, []string{"t01", "t02", "t03"}, waves[0])
	assert.Equal(t, []string{"t04", "t05"}, waves[1])
}

func TestPartitionExecutionGroups(t *testing.T) {
	t.Run("group members are co-scheduled", func(t *testing.T) {
		g := buildGraph(t, []taskDef{
			{id: "t01", group: "api"},
			{id: "t02"},
			{id: "t03", group: "api"},
		})

		waves := Partition(g, Ready(g, stateWhere(g, nil), Options{}), Options{})
		require.NotEmpty(t, waves)
		assert.Contains(t, waves[0], "t01")
		assert.Contains(t, waves[0], "t03")
	})

	t.Run("file conflict inside a group still spills", func(t *testing.T) {
		g := buildGraph(t, []taskDef{
			{id: "t01", group: "api", files: []string{"x"}},
			{id: "t02", group: "api", files: []string{"x"}},
		})

		waves := Partition(g, Ready(g, stateWhere(g, nil), Options{}), Options{})
		require.Len(t, waves, 2)
		assert.Equal(t, []string{"t01"}, waves[0])
		assert.Equal(t, []string{"t02"}, waves[1])
	})
}

func TestPartitionSchedulesEveryTaskExactlyOnce(t *testing.T) {
	g := buildGraph(t, []taskDef{
		{id: "t01", group: "g1", files: []string{"a"}},
		{id: "t02", group: "g1", files: []string{"b"}},
		{id: "t03", files: []string{"a"}},
		{id: "t04", group: "g2"},
		{id: "t05", group: "g2"},
		{id: "t06"},
	})

	ready := Ready(g, stateWhere(g, nil), Options{})
	waves := Partition(g, ready, Options{MaxConcurrency: 2})

	counts := make(map[string]int)
	for _, wave := range waves {
		for _, id := range wave {
			counts[id]++
		}
	}
	for _, id := range ready {
		assert.Equal(t, 1, counts[id], "task %s scheduled %d times", id, counts[id])
	}
}

func TestWaveDecompositionTerminates(t *testing.T) {
	// Drive a simulated run to completion: every task must be dispatched
	// exactly once and the loop must terminate.
	g := buildGraph(t, []taskDef{
		{id: "t01"},
		{id: "t02", deps: []string{"t01"}},
		{id: "t03", deps: []string{"t01"}, files: []string{"x"}},
		{id: "t04", deps: []string{"t02", "t03"}, files: []string{"x"}},
		{id: "t05", group: "g", deps: []string{"t01"}},
		{id: "t06", group: "g", deps: []string{"t01"}},
	})

	state := stateWhere(g, nil)
	dispatched := make(map[string]int)

	for rounds := 0; ; rounds++ {
		require.Less(t, rounds, 20, "wave loop did not terminate")
		wave := NextWave(g, state, Options{})
		if wave == nil {
			break
		}
		for _, id := range wave {
			dispatched[id]++
			state[id] = task.StatusCompleted
		}
	}

	require.Len(t, dispatched, g.Len())
	for id, n := range dispatched {
		assert.Equal(t, 1, n, "task %s dispatched %d times", id, n)
	}
}
