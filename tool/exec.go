package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"

	"github.com/petal-labs/petaltask/core"
)

// outputTailSize bounds how much combined output is kept for error reports.
const outputTailSize = 4 << 10

// flagBuilder turns adapter-specific options into command-line flags.
type flagBuilder func(env Env, tool string, opts core.OptionSet) ([]string, error)

// execAction runs a command line built from its options. The test and lint
// adapters reuse it with their own defaults and flags.
type execAction struct {
	env      Env
	name     string
	defaults map[string]any
	flags    flagBuilder
}

func newExecAction(env Env, def core.ToolDef) (core.Action, error) {
	return &execAction{env: env.withDefaults(), name: def.Name}, nil
}

// Execute runs the command once and reports a ToolFailureError on a non-zero
// exit. When src is set and matches nothing the run is skipped.
func (a *execAction) Execute(ctx context.Context, opts core.OptionSet) (core.Result, error) {
	if len(a.defaults) > 0 {
		opts = opts.Defaults(a.defaults)
	}
	result := core.Result{Tool: a.name}
	start := time.Now()

	argv, err := a.baseCommand(opts)
	if err != nil {
		return result, err
	}

	var files []string
	if opts.Has("src") {
		files, err = Expand(a.env.Dir, opts.Strings("src"))
		if err != nil {
			return result, invalidOption(a.name, "%v", err)
		}
		if len(files) == 0 {
			a.env.logger(ctx).Warn("no files matched, skipping", "tool", a.name, "src", opts.Strings("src"))
			result.Skipped = true
			return result, nil
		}
	}

	args, err := a.renderArgs(opts, files)
	if err != nil {
		return result, err
	}
	argv = append(argv, args...)
	argv = append(argv, files...)

	timeout, err := opts.Duration("timeout", 0)
	if err != nil {
		return result, invalidOption(a.name, "timeout: %v", err)
	}
	execCtx, cancel := withExecTimeout(ctx, timeout)
	defer cancel()

	tail := newTailBuffer(outputTailSize)
	// #nosec G204 -- command and args come from the project's task config.
	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = a.env.Dir
	cmd.Stdout = io.MultiWriter(a.env.Stdout, tail)
	cmd.Stderr = io.MultiWriter(a.env.Stderr, tail)
	if env := opts.Map("env"); len(env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(env)...)
	}

	a.env.logger(ctx).Debug("running command", "tool", a.name, "argv", argv, "files", len(files))
	runErr := cmd.Run()

	result.Duration = time.Since(start)
	result.Output = tail.String()
	result.Files = files
	result.Meta = map[string]any{"argv": argv}
	if runErr == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return result, core.NewToolFailure(a.name, -1,
			fmt.Sprintf("timed out after %s", timeout), execCtx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, core.NewToolFailure(a.name, result.ExitCode, lastLine(result.Output), runErr).
			WithDetails(map[string]any{"output": result.Output, "argv": argv})
	}
	return result, core.NewToolFailure(a.name, 0, "could not start "+argv[0], runErr)
}

func (a *execAction) baseCommand(opts core.OptionSet) ([]string, error) {
	command := strings.TrimSpace(opts.String("command", ""))
	if command == "" {
		return nil, invalidOption(a.name, "command is required")
	}
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, invalidOption(a.name, "parsing command %q: %v", command, err)
	}
	if len(argv) == 0 {
		return nil, invalidOption(a.name, "command %q is empty", command)
	}
	if a.flags != nil {
		flags, err := a.flags(a.env, a.name, opts)
		if err != nil {
			return nil, err
		}
		argv = append(argv, flags...)
	}
	return argv, nil
}

// renderArgs expands each entry of the args option as a template over the
// option set, with the matched files available as .Files.
func (a *execAction) renderArgs(opts core.OptionSet, files []string) ([]string, error) {
	raw := opts.Strings("args")
	if len(raw) == 0 {
		return nil, nil
	}
	data := opts.Raw()
	data["Files"] = files
	out := make([]string, 0, len(raw))
	for i, arg := range raw {
		rendered, err := renderTemplate(fmt.Sprintf("%s.args[%d]", a.name, i), arg, data)
		if err != nil {
			return nil, invalidOption(a.name, "rendering args[%d]: %v", i, err)
		}
		out = append(out, rendered)
	}
	return out, nil
}

func withExecTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

func invalidOption(tool, format string, args ...any) *core.ConfigurationError {
	return core.NewConfigurationError(core.ErrCodeInvalidConfig, "",
		"tool %q: %s", tool, fmt.Sprintf(format, args...))
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "command exited unsuccessfully"
}

// tailBuffer keeps the last n bytes written to it. Stdout and stderr copy
// into it from separate goroutines.
type tailBuffer struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
