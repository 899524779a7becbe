// Package registry holds the task definitions and per-tool option snapshots
// for a single petaltask invocation and expands composite tasks into the
// ordered list of leaf steps to run.
package registry

import (
	"strings"
	"sync"

	"github.com/petal-labs/petaltask/core"
)

// Registry holds all known tasks and tool options.
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]core.TaskDef
	order   []string // preserves registration order
	tools   map[string]core.ToolDef
	options map[string]core.OptionSet
}

// New creates a registry populated from cfg. Tasks and tools are registered
// in sorted name order so that Names is deterministic across runs.
func New(cfg core.Config) (*Registry, error) {
	r := newRegistry()
	for _, name := range cfg.ToolNames() {
		def, _ := cfg.Tool(name)
		r.tools[name] = def
		r.options[name] = def.Options.Clone()
	}
	for _, name := range cfg.TaskNames() {
		def, _ := cfg.Task(name)
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func newRegistry() *Registry {
	return &Registry{
		tasks:   make(map[string]core.TaskDef),
		tools:   make(map[string]core.ToolDef),
		options: make(map[string]core.OptionSet),
	}
}

// Register adds a task definition. If a task with the same name already
// exists it is replaced entirely.
func (r *Registry) Register(def core.TaskDef) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return core.NewConfigurationError(core.ErrCodeInvalidTask, "", "task name must not be empty")
	}
	hasTool := strings.TrimSpace(def.Tool) != ""
	hasTasks := def.Tasks != nil
	switch {
	case hasTool && len(def.Tasks) > 0:
		return core.NewConfigurationError(core.ErrCodeInvalidTask, name,
			"task %q sets both a tool and sub-tasks", name)
	case !hasTool && !hasTasks:
		return core.NewConfigurationError(core.ErrCodeInvalidTask, name,
			"task %q has neither a tool nor sub-tasks", name)
	}

	def = def.Clone()
	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tasks[name] = def
	return nil
}

// Get returns a copy of the task definition by name.
func (r *Registry) Get(name string) (core.TaskDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tasks[name]
	if !ok {
		return core.TaskDef{}, false
	}
	return def.Clone(), true
}

// Has returns true if the task name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

// Names returns all task names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// All returns all task definitions in registration order.
func (r *Registry) All() []core.TaskDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]core.TaskDef, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tasks[name].Clone())
	}
	return result
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// SetOptions stores an immutable snapshot of options for tool. A later call
// for the same tool replaces the earlier snapshot; nothing is merged.
func (r *Registry) SetOptions(tool string, options map[string]any) {
	snapshot := core.NewOptionSet(options)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options[tool] = snapshot
}

// Options returns the option snapshot for tool.
func (r *Registry) Options(tool string) (core.OptionSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	opts, ok := r.options[tool]
	return opts, ok
}

// Tool returns the tool definition by name, carrying its current options.
func (r *Registry) Tool(name string) (core.ToolDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	if !ok {
		return core.ToolDef{}, false
	}
	def.Options = r.options[name]
	return def, true
}
