package registry

import (
	"strings"

	"github.com/petal-labs/petaltask/core"
)

// Step is one leaf action produced by expanding a task.
type Step struct {
	Task string   `json:"task"`
	Tool string   `json:"tool"`
	Path []string `json:"path,omitempty"` // composite chain that led to Task, outermost first
}

// Via renders the composite chain, e.g. "default > test".
func (s Step) Via() string {
	return strings.Join(s.Path, " > ")
}

// Resolve expands the named tasks, in order, into the flat list of leaf
// steps to run. Composites are expanded depth-first, left-to-right. A task
// reached twice along different branches appears twice.
//
// Unknown task references and reference cycles are reported as
// *core.ConfigurationError.
func (r *Registry) Resolve(names ...string) ([]Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var steps []Step
	for _, name := range names {
		var err error
		steps, err = r.expand(name, nil, make(map[string]bool), steps)
		if err != nil {
			return nil, err
		}
	}
	return steps, nil
}

// expand appends the leaves reachable from name. active holds the composites
// currently on the expansion stack; meeting one of them again is a cycle.
func (r *Registry) expand(name string, path []string, active map[string]bool, steps []Step) ([]Step, error) {
	if active[name] {
		cycle := append(append([]string(nil), path...), name)
		err := core.NewConfigurationError(core.ErrCodeTaskCycle, name,
			"task %q references itself: %s", name, strings.Join(cycle, " > "))
		err.Path = cycle
		return nil, err
	}

	def, ok := r.tasks[name]
	if !ok {
		err := core.NewConfigurationError(core.ErrCodeUnknownTask, name, "task %q is not defined", name)
		if len(path) > 0 {
			err.Path = append([]string(nil), path...)
		}
		return nil, err
	}

	if def.IsLeaf() {
		return append(steps, Step{
			Task: name,
			Tool: def.Tool,
			Path: append([]string(nil), path...),
		}), nil
	}

	active[name] = true
	defer delete(active, name)

	childPath := append(append([]string(nil), path...), name)
	for _, sub := range def.Tasks {
		var err error
		steps, err = r.expand(sub, childPath, active, steps)
		if err != nil {
			return nil, err
		}
	}
	return steps, nil
}
