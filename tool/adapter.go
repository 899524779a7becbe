package tool

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/petal-labs/petaltask/core"
	"github.com/petal-labs/petaltask/logging"
)

// Adapter kinds available to tool definitions.
const (
	AdapterExec    = "exec"
	AdapterTest    = "test"
	AdapterLint    = "lint"
	AdapterWatch   = "watch"
	AdapterRelease = "release"
)

// RerunFunc runs the named tasks to completion. The watch adapter uses it to
// re-enter the task runner after a change.
type RerunFunc func(ctx context.Context, tasks []string) error

// Env carries the per-invocation surroundings shared by every adapter.
type Env struct {
	Dir    string // project directory; relative paths resolve against it
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger // nil means the logger carried by the run context
	Rerun  RerunFunc
}

func (e Env) withDefaults() Env {
	if e.Dir == "" {
		e.Dir = "."
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
	return e
}

// logger returns the configured logger, or the one carried by ctx.
func (e Env) logger(ctx context.Context) *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.FromContext(ctx)
}

// Factory builds the action for one tool definition.
type Factory func(env Env, def core.ToolDef) (core.Action, error)

// Adapters returns the static list of built-in adapter factories keyed by
// adapter kind. The returned map is a fresh copy.
func Adapters() map[string]Factory {
	return map[string]Factory{
		AdapterExec:    newExecAction,
		AdapterTest:    newTestAction,
		AdapterLint:    newLintAction,
		AdapterWatch:   newWatchAction,
		AdapterRelease: newReleaseAction,
	}
}

// HasAdapter reports whether kind names a built-in adapter.
func HasAdapter(kind string) bool {
	_, ok := Adapters()[kind]
	return ok
}

// AdapterNames returns the built-in adapter kinds in sorted order.
func AdapterNames() []string {
	adapters := Adapters()
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set holds the instantiated actions for every tool in a config.
type Set struct {
	actions map[string]core.Action
}

// NewSet instantiates every tool declared in cfg once. A tool naming an
// unknown adapter kind is a configuration error.
func NewSet(env Env, cfg core.Config) (*Set, error) {
	env = env.withDefaults()
	adapters := Adapters()
	set := &Set{actions: make(map[string]core.Action)}
	for _, name := range cfg.ToolNames() {
		def, _ := cfg.Tool(name)
		factory, ok := adapters[def.Adapter]
		if !ok {
			err := core.NewConfigurationError(core.ErrCodeUnknownAdapter, "",
				"tool %q uses unknown adapter %q", name, def.Adapter)
			return nil, err
		}
		action, err := factory(env, def)
		if err != nil {
			return nil, err
		}
		set.actions[name] = action
	}
	return set, nil
}

// Action returns the action for the named tool.
func (s *Set) Action(name string) (core.Action, bool) {
	if s == nil {
		return nil, false
	}
	action, ok := s.actions[name]
	return action, ok
}

// Len returns the number of instantiated tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.actions)
}
