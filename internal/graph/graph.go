// Package graph builds and validates the task dependency DAG.
//
// The graph is built once from the task store before any dispatch. Cyclic or
// dangling dependencies are configuration errors that halt execution before
// it begins. A reverse-dependency index is precomputed at build time so that
// failure cascades cost time proportional to the affected tasks, not the
// whole task set.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/convoy-run/convoy/internal/task"
)

// ConfigError marks an invalid task configuration: duplicate ids, dangling
// dependency references, or dependency cycles. It is fatal; execution must
// not begin.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// IsConfigError reports whether err is a fatal configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Options control graph validation.
type Options struct {
	// AllowDangling demotes dangling dependency references to externally
	// satisfied placeholders instead of failing. Set by --force for
	// emergency recovery.
	AllowDangling bool
}

// Graph is the validated dependency DAG. Edges point dependency -> dependent.
type Graph struct {
	tasks map[string]*task.Task
	ids   []string // all task ids, sorted

	deps       map[string][]string // id -> ids it depends on (in-session only)
	dependents map[string][]string // id -> ids that depend on it (reverse index)
}

// Build constructs and validates the graph from the full task set.
func Build(tasks []task.Task, opts Options) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*task.Task, len(tasks)),
		deps:       make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}

	for i := range tasks {
		t := &tasks[i]
		if _, dup := g.tasks[t.ID]; dup {
			return nil, &ConfigError{Msg: fmt.Sprintf("duplicate task id: %s", t.ID)}
		}
		g.tasks[t.ID] = t
		g.ids = append(g.ids, t.ID)
	}
	sort.Strings(g.ids)

	for _, id := range g.ids {
		t := g.tasks[id]
		for _, dep := range t.Context.DependsOn {
			if dep == id {
				return nil, &ConfigError{Msg: fmt.Sprintf("task %s depends on itself", id)}
			}
			if _, ok := g.tasks[dep]; !ok {
				if t.Context.IsExternalDep(dep) || opts.AllowDangling {
					// Externally satisfied; not an edge in this session.
					continue
				}
				return nil, &ConfigError{Msg: fmt.Sprintf("task %s depends on unknown task '%s'", id, dep)}
			}
			g.deps[id] = append(g.deps[id], dep)
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	// Deterministic ordering everywhere: lexicographic by task id.
	for _, m := range []map[string][]string{g.deps, g.dependents} {
		for _, ids := range m {
			sort.Strings(ids)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> "))}
	}

	return g, nil
}

// Task returns the task with the given id, or nil.
func (g *Graph) Task(id string) *task.Task {
	return g.tasks[id]
}

// IDs returns all task ids in lexicographic order.
func (g *Graph) IDs() []string {
	return g.ids
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.ids)
}

// Deps returns the in-session dependencies of a task, sorted by id.
func (g *Graph) Deps(id string) []string {
	return g.deps[id]
}

// Dependents returns the direct dependents of a task, sorted by id.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// TransitiveDependents returns every task downstream of id, sorted by id.
// Used to cascade skips when a task fails.
func (g *Graph) TransitiveDependents(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range g.dependents[cur] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)

	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// findCycle runs a DFS over the dependency edges and reconstructs the cycle
// path when one is found. Returns nil for acyclic graphs.
func (g *Graph) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(id string) []string
	dfs = func(id string) []string {
		visited[id] = true
		onStack[id] = true

		for _, dep := range g.deps[id] {
			if !visited[dep] {
				parent[dep] = id
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if onStack[dep] {
				cycle := []string{dep}
				for cur := id; cur != dep; cur = parent[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				return append([]string{dep}, cycle...)
			}
		}

		onStack[id] = false
		return nil
	}

	for _, id := range g.ids {
		if !visited[id] {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
