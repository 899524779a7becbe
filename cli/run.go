package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petaltask/core"
	"github.com/petal-labs/petaltask/logging"
	"github.com/petal-labs/petaltask/runtime"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run tasks (the default task when none is given)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, opts, args, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve and report the steps without running them")
	return cmd
}

// runContext derives the run context: canceled on SIGINT/SIGTERM and bounded
// by --timeout when set.
func runContext(cmd *cobra.Command, opts *globalOptions) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if opts.timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func runTasks(cmd *cobra.Command, opts *globalOptions, tasks []string, dryRun bool) error {
	logger := newLogger(cmd, opts)

	ctx, cancel := runContext(cmd, opts)
	defer cancel()
	ctx = logging.ContextWithLogger(ctx, logger)

	telem, err := setupTelemetry(ctx, opts.otelEndpoint)
	if err != nil {
		return exitError(exitConfig, "setting up telemetry: %v", err)
	}
	defer func() {
		if err := telem.close(); err != nil {
			logger.Warn("flushing telemetry", "error", err)
		}
	}()

	runOpts := runtime.RunOptions{
		EventHandler:          telem.handlers(logging.NewEventLogger(logger).Handle),
		EventEmitterDecorator: telem.decorator(),
		DryRun:                dryRun,
	}

	// The watch adapter re-enters the runner; it is assigned once the tool
	// set exists.
	var runner *runtime.Runner
	rerun := func(ctx context.Context, names []string) error {
		_, err := runner.Run(ctx, names, runtime.RunOptions{
			EventHandler:          runOpts.EventHandler,
			EventEmitterDecorator: runOpts.EventEmitterDecorator,
		})
		return err
	}

	s, err := openSession(cmd, opts, logger, rerun)
	if err != nil {
		return asExitError(err)
	}
	runner = runtime.NewRunner(s.registry, s.tools)

	report, err := runner.Run(ctx, requestedTasks(s.config, tasks), runOpts)
	if err != nil {
		return asExitError(err)
	}
	if !opts.quiet {
		printRunSummary(cmd, report)
	}
	return nil
}

func printRunSummary(cmd *cobra.Command, report *runtime.Report) {
	out := cmd.OutOrStdout()
	var ran, skipped int
	for _, step := range report.Steps {
		switch step.Status {
		case runtime.StepStatusFinished:
			ran++
		case runtime.StepStatusSkipped:
			skipped++
		}
	}
	if skipped > 0 {
		fmt.Fprintf(out, "\nDone: %d %s, %d skipped (%s)\n",
			ran, pluralize("step", ran), skipped, report.Elapsed.Round(1e6))
		return
	}
	fmt.Fprintf(out, "\nDone: %d %s (%s)\n", ran, pluralize("step", ran), report.Elapsed.Round(1e6))
}

// requestedTasks returns args, or the configured default task when empty.
func requestedTasks(cfg core.Config, args []string) []string {
	if len(args) == 0 {
		return []string{cfg.Default}
	}
	return args
}
