// Package core provides the foundational types and interfaces for petaltask.
//
// This package contains:
//   - Configuration types: Config, TaskDef, ToolDef
//   - Option handling: OptionSet (immutable per-tool options)
//   - Interfaces: Action (the single capability every tool adapter implements)
//   - Error kinds: ConfigurationError, ToolFailureError
package core

import (
	"context"
	"sort"
	"time"
)

// TaskKind identifies whether a task runs a tool or other tasks.
type TaskKind string

const (
	TaskKindLeaf      TaskKind = "leaf"
	TaskKindComposite TaskKind = "composite"
)

// String returns the string representation of the TaskKind.
func (k TaskKind) String() string {
	return string(k)
}

// TaskDef declares a named task. A leaf task sets Tool; a composite task
// sets Tasks. Exactly one of the two is expected.
type TaskDef struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tool        string   `json:"tool,omitempty"`
	Tasks       []string `json:"tasks,omitempty"`
}

// IsLeaf reports whether the task is bound directly to a tool.
func (d TaskDef) IsLeaf() bool {
	return d.Tool != "" && len(d.Tasks) == 0
}

// Kind returns the task kind. Malformed definitions report composite when
// they list sub-tasks and leaf otherwise. An explicitly empty list without a
// tool is an (empty) composite.
func (d TaskDef) Kind() TaskKind {
	if len(d.Tasks) > 0 || (d.Tasks != nil && d.Tool == "") {
		return TaskKindComposite
	}
	return TaskKindLeaf
}

// Clone returns a deep copy of the definition.
func (d TaskDef) Clone() TaskDef {
	out := d
	if d.Tasks != nil {
		out.Tasks = make([]string, len(d.Tasks))
		copy(out.Tasks, d.Tasks)
	}
	return out
}

// ToolDef is a named instance of a built-in tool adapter together with the
// options handed to it on every invocation.
type ToolDef struct {
	Name    string    `json:"name"`
	Adapter string    `json:"adapter"`
	Options OptionSet `json:"options,omitempty"`
}

// Config is the complete, read-only description of one project's tasks and
// tools. It is built once at startup and shared by reference.
type Config struct {
	Version string
	Default string
	Source  string // file the config was loaded from; empty for built-in defaults

	tools map[string]ToolDef
	tasks map[string]TaskDef
}

// DefaultTaskName is run when no task is requested.
const DefaultTaskName = "default"

// NewConfig snapshots tools and tasks into an immutable Config. Map keys win
// over any Name already set on the definitions.
func NewConfig(version, defaultTask string, tools map[string]ToolDef, tasks map[string]TaskDef) Config {
	if defaultTask == "" {
		defaultTask = DefaultTaskName
	}
	cfg := Config{
		Version: version,
		Default: defaultTask,
		tools:   make(map[string]ToolDef, len(tools)),
		tasks:   make(map[string]TaskDef, len(tasks)),
	}
	for name, def := range tools {
		def.Name = name
		def.Options = def.Options.Clone()
		cfg.tools[name] = def
	}
	for name, def := range tasks {
		def = def.Clone()
		def.Name = name
		cfg.tasks[name] = def
	}
	return cfg
}

// WithSource returns a copy of the config tagged with the file it came from.
func (c Config) WithSource(path string) Config {
	c.Source = path
	return c
}

// Tool returns the tool definition with the given name.
func (c Config) Tool(name string) (ToolDef, bool) {
	def, ok := c.tools[name]
	return def, ok
}

// Task returns a copy of the task definition with the given name.
func (c Config) Task(name string) (TaskDef, bool) {
	def, ok := c.tasks[name]
	if !ok {
		return TaskDef{}, false
	}
	return def.Clone(), true
}

// ToolNames returns all tool names, sorted.
func (c Config) ToolNames() []string {
	return sortedKeys(c.tools)
}

// TaskNames returns all task names, sorted.
func (c Config) TaskNames() []string {
	return sortedKeys(c.tasks)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Result is what a tool adapter reports after a successful invocation.
type Result struct {
	Tool     string         // tool name that produced the result
	Output   string         // combined output tail, if captured
	ExitCode int            // process exit code for command-backed tools
	Files    []string       // files the tool operated on
	Skipped  bool           // nothing to do (e.g. no files matched)
	Duration time.Duration  // wall time of the invocation
	Meta     map[string]any // adapter-specific details
}

// Action is the single capability every tool adapter provides.
type Action interface {
	Execute(ctx context.Context, opts OptionSet) (Result, error)
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, opts OptionSet) (Result, error)

// Execute calls f(ctx, opts).
func (f ActionFunc) Execute(ctx context.Context, opts OptionSet) (Result, error) {
	return f(ctx, opts)
}
