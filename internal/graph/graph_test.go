package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoy-run/convoy/internal/task"
)

func mkTask(id string, deps ...string) task.Task {
	return task.Task{
		ID:      id,
		Status:  task.StatusPending,
		Context: task.Context{DependsOn: deps},
	}
}

func TestBuild(t *testing.T) {
	g, err := Build([]task.Task{
		mkTask("t01"),
		mkTask("t02", "t01"),
		mkTask("t03", "t01"),
		mkTask("t04", "t02", "t03"),
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 4, g.Len())
	assert.Equal(t, []string{"t01"}, g.Deps("t02"))
	assert.Equal(t, []string{"t02", "t03"}, g.Dependents("t01"))
	assert.Empty(t, g.Deps("t01"))
}

func TestBuildRejectsCycle(t *testing.T) {
	_, err := Build([]task.Task{
		mkTask("t01", "t03"),
		mkTask("t02", "t01"),
		mkTask("t03", "t02"),
	}, Options{})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "dependency cycle detected")
}

func TestBuildRejectsSelfDependency(t *testing.T) {
	_, err := Build([]task.Task{mkTask("t01", "t01")}, Options{})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "depends on itself")
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	_, err := Build([]task.Task{mkTask("t01"), mkTask("t01")}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task id")
}

func TestBuildDanglingReferences(t *testing.T) {
	t.Run("dangling reference is fatal", func(t *testing.T) {
		_, err := Build([]task.Task{mkTask("t01", "ghost")}, Options{})
		require.Error(t, err)
		assert.True(t, IsConfigError(err))
		assert.Contains(t, err.Error(), "unknown task 'ghost'")
	})

	t.Run("flagged external placeholder is allowed", func(t *testing.T) {
		tk := mkTask("t01", "ext-api")
		tk.Context.ExternalDeps = []string{"ext-api"}
		g, err := Build([]task.Task{tk}, Options{})
		require.NoError(t, err)
		// External deps do not become in-session edges.
		assert.Empty(t, g.Deps("t01"))
	})

	t.Run("force demotes dangling to external", func(t *testing.T) {
		g, err := Build([]task.Task{mkTask("t01", "ghost")}, Options{AllowDangling: true})
		require.NoError(t, err)
		assert.Empty(t, g.Deps("t01"))
	})
}

func TestTransitiveDependents(t *testing.T) {
	g, err := Build([]task.Task{
		mkTask("t01"),
		mkTask("t02", "t01"),
		mkTask("t03", "t02"),
		mkTask("t04", "t02"),
		mkTask("t05"),
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"t02", "t03", "t04"}, g.TransitiveDependents("t01"))
	assert.Empty(t, g.TransitiveDependents("t05"))
	assert.Empty(t, g.TransitiveDependents("t03"))
}

func TestDiamondIsNotACycle(t *testing.T) {
	_, err := Build([]task.Task{
		mkTask("t01"),
		mkTask("t02", "t01"),
		mkTask("t03", "t01"),
		mkTask("t04", "t02", "t03"),
	}, Options{})
	assert.NoError(t, err)
}
