// Package worker defines the external agents that perform task work.
//
// The orchestrator only dispatches to a Worker and waits for a completion or
// failure signal; what the worker does internally is opaque. Workers signal
// success by writing a durable completion summary to the path they are given.
// Selection is registry-based: an explicit meta.agent wins, otherwise the
// task type maps to a worker through a static table.
package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/convoy-run/convoy/internal/flow"
)

// Well-known worker names.
const (
	NameImplementer = "implementer"
	NameTester      = "tester"
	NameGeneralist  = "generalist"
)

// Worker executes the work described by a dispatch payload. Implementations
// must honor ctx cancellation and write their completion summary to
// summaryPath before returning nil.
type Worker interface {
	// Name identifies the worker in the registry and in logs.
	Name() string
	// Execute performs the task. A nil return means the worker believes it
	// finished; the dispatcher still verifies the summary artifact exists.
	Execute(ctx context.Context, payload *flow.Payload, summaryPath string) error
}

// Registry selects workers by name or task type.
type Registry struct {
	workers  map[string]Worker
	byType   map[string]string
	fallback string
}

// NewRegistry creates an empty registry with the given fallback worker name.
func NewRegistry(fallback string) *Registry {
	return &Registry{
		workers:  make(map[string]Worker),
		byType:   make(map[string]string),
		fallback: fallback,
	}
}

// Register adds a worker. Registering the same name twice replaces the
// earlier worker.
func (r *Registry) Register(w Worker) {
	r.workers[w.Name()] = w
}

// MapType routes tasks of the given meta.type to the named worker when no
// explicit agent is set.
func (r *Registry) MapType(taskType, workerName string) {
	r.byType[taskType] = workerName
}

// ForTask picks the worker for a task: the explicit agent if set, otherwise
// the type mapping, otherwise the fallback.
func (r *Registry) ForTask(agent, taskType string) (Worker, error) {
	name := agent
	if name == "" {
		name = r.byType[taskType]
	}
	if name == "" {
		name = r.fallback
	}

	w, ok := r.workers[name]
	if !ok {
		return nil, fmt.Errorf("no worker registered as '%s' (have: %v)", name, r.names())
	}
	return w, nil
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
