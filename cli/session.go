package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petaltask/core"
	"github.com/petal-labs/petaltask/graph"
	"github.com/petal-labs/petaltask/loader"
	"github.com/petal-labs/petaltask/logging"
	"github.com/petal-labs/petaltask/registry"
	"github.com/petal-labs/petaltask/tool"
)

// session is everything one invocation needs: the loaded configuration, the
// task registry built from it and the instantiated tools.
type session struct {
	dir      string
	config   core.Config
	warnings []graph.Diagnostic
	logger   *slog.Logger
	registry *registry.Registry
	tools    *tool.Set
}

func newLogger(cmd *cobra.Command, opts *globalOptions) *slog.Logger {
	return logging.New(logging.Config{
		Level:  opts.logLevel,
		JSON:   opts.logJSON,
		Quiet:  opts.quiet,
		Output: cmd.ErrOrStderr(),
	})
}

// loadConfig discovers and loads the project configuration, falling back to
// the built-in default when the project has no config file.
func loadConfig(opts *globalOptions, logger *slog.Logger) (core.Config, string, error) {
	dir, err := filepath.Abs(opts.dir)
	if err != nil {
		return core.Config{}, "", fmt.Errorf("resolving project directory: %w", err)
	}

	path, found, err := loader.Discover(opts.configPath, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.Config{}, dir, exitError(exitFileNotFound, "%v", err)
		}
		return core.Config{}, dir, err
	}
	if !found {
		logger.Debug("no config file found, using built-in tasks", "dir", dir)
		return loader.Default(), dir, nil
	}

	logger.Debug("loading config", "path", path)
	cfg, err := loader.Load(path)
	if err != nil {
		return core.Config{}, dir, err
	}
	return cfg, dir, nil
}

// openSession loads and validates the configuration, then builds the
// registry and tool set. Configuration problems surface as diagnostics on
// stderr and an exit code 1 error.
func openSession(cmd *cobra.Command, opts *globalOptions, logger *slog.Logger, rerun tool.RerunFunc) (*session, error) {
	cfg, dir, err := loadConfig(opts, logger)
	if err != nil {
		return nil, reportLoadError(cmd.ErrOrStderr(), err)
	}

	diags := graph.ValidateWithAdapters(cfg, tool.HasAdapter)
	if graph.HasErrors(diags) {
		printDiagnosticsText(cmd.ErrOrStderr(), diags)
		return nil, exitError(exitConfig, "invalid configuration")
	}
	for _, d := range graph.Warnings(diags) {
		logger.Warn(d.Message, "code", d.Code, "path", d.Path)
	}

	reg, err := registry.New(cfg)
	if err != nil {
		return nil, err
	}

	tools, err := tool.NewSet(tool.Env{
		Dir:    dir,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
		Rerun:  rerun,
	}, cfg)
	if err != nil {
		return nil, err
	}

	return &session{
		dir:      dir,
		config:   cfg,
		warnings: graph.Warnings(diags),
		logger:   logger,
		registry: reg,
		tools:    tools,
	}, nil
}

// reportLoadError prints the diagnostics carried by a loader error.
func reportLoadError(w io.Writer, err error) error {
	var diagErr *loader.DiagnosticError
	if errors.As(err, &diagErr) {
		printDiagnosticsText(w, diagErr.Diagnostics)
		return exitError(exitConfig, "invalid configuration")
	}
	return err
}
