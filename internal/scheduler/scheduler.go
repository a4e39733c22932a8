// Package scheduler computes concurrency-safe execution waves.
//
// The scheduler is pure: it reads the dependency graph and a status snapshot
// and returns wave layouts without mutating either. The orchestrator
// recomputes the ready set from scratch after every wave settles, which also
// picks up tasks inserted by incremental re-planning.
package scheduler

import (
	"sort"

	"github.com/convoy-run/convoy/internal/graph"
	"github.com/convoy-run/convoy/internal/task"
)

// DefaultMaxConcurrency caps wave size when no limit is configured.
const DefaultMaxConcurrency = 3

// Options control ready-set and wave computation.
type Options struct {
	// MaxConcurrency caps the number of tasks in one wave.
	// Zero means DefaultMaxConcurrency.
	MaxConcurrency int
	// AllowSkippedDeps treats skipped dependencies as satisfied.
	AllowSkippedDeps bool
}

func (o Options) maxConcurrency() int {
	if o.MaxConcurrency <= 0 {
		return DefaultMaxConcurrency
	}
	return o.MaxConcurrency
}

// State is a snapshot of task statuses keyed by id.
type State map[string]task.Status

// StateOf builds a State from a task slice.
func StateOf(tasks []task.Task) State {
	state := make(State, len(tasks))
	for i := range tasks {
		state[tasks[i].ID] = tasks[i].Status
	}
	return state
}

// Ready returns the ids of all dispatchable tasks in lexicographic order.
// A task is ready when it is pending and every in-session dependency is
// completed (or skipped, with the AllowSkippedDeps override).
func Ready(g *graph.Graph, state State, opts Options) []string {
	var ready []string
	for _, id := range g.IDs() {
		if state[id] != task.StatusPending {
			continue
		}

		ok := true
		for _, dep := range g.Deps(id) {
			if !state[dep].Satisfies(opts.AllowSkippedDeps) {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	// g.IDs() is sorted, so ready already is; keep the guarantee explicit.
	sort.Strings(ready)
	return ready
}

// Partition splits a ready set into dispatch waves using first-fit packing
// in lexicographic id order. Constraints:
//
//   - Two tasks declaring overlapping target_files never share a wave; the
//     earlier id keeps its slot and the later spills to a following wave.
//   - No wave exceeds MaxConcurrency; excess ready tasks wait.
//   - Tasks sharing a non-empty execution_group are co-scheduled in the wave
//     already holding their group, where the two rules above allow it.
//
// Every ready task lands in exactly one wave.
func Partition(g *graph.Graph, ready []string, opts Options) [][]string {
	limit := opts.maxConcurrency()

	var waves [][]string
	for _, id := range ready {
		wi := placeIndex(g, waves, id, limit)
		if wi == len(waves) {
			waves = append(waves, nil)
		}
		waves[wi] = append(waves[wi], id)
	}
	return waves
}

// placeIndex picks the wave index for id: its execution group's wave when one
// exists and fits, otherwise the first wave with room and no file conflict,
// otherwise a new wave at the end.
func placeIndex(g *graph.Graph, waves [][]string, id string, limit int) int {
	grp := g.Task(id).Meta.ExecutionGroup

	if grp != "" {
		for wi, wave := range waves {
			if !waveHasGroup(g, wave, grp) {
				continue
			}
			if len(wave) < limit && !conflictsWithWave(g, id, wave) {
				return wi
			}
			// Group wave is full or conflicting; fall through to first-fit.
			break
		}
	}

	for wi, wave := range waves {
		if len(wave) < limit && !conflictsWithWave(g, id, wave) {
			return wi
		}
	}
	return len(waves)
}

// NextWave computes the ready set and returns the first wave to dispatch.
// Returns nil when nothing is ready.
func NextWave(g *graph.Graph, state State, opts Options) []string {
	ready := Ready(g, state, opts)
	if len(ready) == 0 {
		return nil
	}
	return Partition(g, ready, opts)[0]
}

func waveHasGroup(g *graph.Graph, wave []string, grp string) bool {
	for _, member := range wave {
		if g.Task(member).Meta.ExecutionGroup == grp {
			return true
		}
	}
	return false
}

// conflictsWithWave reports whether candidate declares a target file that any
// wave member also declares.
func conflictsWithWave(g *graph.Graph, candidate string, wave []string) bool {
	files := g.Task(candidate).FlowControl.TargetFiles
	if len(files) == 0 {
		return false
	}

	declared := make(map[string]bool, len(files))
	for _, f := range files {
		declared[f] = true
	}

	for _, member := range wave {
		for _, f := range g.Task(member).FlowControl.TargetFiles {
			if declared[f] {
				return true
			}
		}
	}
	return false
}
