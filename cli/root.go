// Package cli implements the petaltask command line.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath   string
	dir          string
	logLevel     string
	logJSON      bool
	quiet        bool
	otelEndpoint string
	timeout      time.Duration
}

// NewRootCmd builds the petaltask command tree. Running the root command
// with task names runs those tasks; with none it runs the default task.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "petaltask [task...]",
		Short: "Run project tasks",
		Long: "petaltask runs named project tasks. Composite tasks expand into their " +
			"sub-tasks, which run one at a time and stop at the first failure.",
		Args: cobra.ArbitraryArgs,
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, opts, args, false)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (default: petaltask.yaml in --dir, or $PETALTASK_CONFIG)")
	flags.StringVarP(&opts.dir, "dir", "C", ".", "Project directory")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug | info | warn | error")
	flags.BoolVar(&opts.logJSON, "log-json", false, "Write logs as JSON")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress all output except errors")
	flags.StringVar(&opts.otelEndpoint, "otel-endpoint", "", "OTLP/HTTP endpoint for traces (default: $OTEL_EXPORTER_OTLP_ENDPOINT)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Abort the run after this long (0 disables)")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("petaltask version %s\n", version))

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newPlanCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newVersionCmd(version))
	return root
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the petaltask version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "petaltask version %s\n", version)
		},
	}
}
