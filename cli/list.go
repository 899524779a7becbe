package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petaltask/core"
	"github.com/petal-labs/petaltask/registry"
	"github.com/petal-labs/petaltask/runtime"
)

// taskInfo is the list output for one task.
type taskInfo struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description,omitempty"`
	Tool        string   `json:"tool,omitempty"`
	Tasks       []string `json:"tasks,omitempty"`
	Default     bool     `json:"default,omitempty"`
}

func newListCmd(opts *globalOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the available tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, opts, newLogger(cmd, opts), nil)
			if err != nil {
				return asExitError(err)
			}
			infos := make([]taskInfo, 0, s.registry.Len())
			for _, def := range s.registry.All() {
				infos = append(infos, taskInfo{
					Name:        def.Name,
					Kind:        def.Kind().String(),
					Description: def.Description,
					Tool:        def.Tool,
					Tasks:       def.Tasks,
					Default:     def.Name == s.config.Default,
				})
			}
			return printTaskList(cmd.OutOrStdout(), infos, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text | json")
	return cmd
}

func printTaskList(w io.Writer, infos []taskInfo, format string) error {
	switch format {
	case "json":
		return writeJSON(w, infos)
	case "text":
	default:
		return exitError(exitConfig, "unknown format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, info := range infos {
		name := info.Name
		if info.Default {
			name += " (default)"
		}
		target := info.Tool
		if info.Kind == core.TaskKindComposite.String() {
			target = strings.Join(info.Tasks, ", ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, info.Kind, target, info.Description)
	}
	return tw.Flush()
}

func newPlanCmd(opts *globalOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "plan [task...]",
		Short: "Print the steps a run would execute, in order",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts, newLogger(cmd, opts), nil)
			if err != nil {
				return asExitError(err)
			}
			steps, err := runtime.NewRunner(s.registry, s.tools).Plan(requestedTasks(s.config, args)...)
			if err != nil {
				return asExitError(err)
			}
			return printPlan(cmd.OutOrStdout(), steps, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text | json")
	return cmd
}

func printPlan(w io.Writer, steps []registry.Step, format string) error {
	switch format {
	case "json":
		if steps == nil {
			steps = []registry.Step{}
		}
		return writeJSON(w, steps)
	case "text":
	default:
		return exitError(exitConfig, "unknown format %q", format)
	}

	for i, step := range steps {
		if via := step.Via(); via != "" {
			fmt.Fprintf(w, "%d. %s (%s) via %s\n", i+1, step.Task, step.Tool, via)
			continue
		}
		fmt.Fprintf(w, "%d. %s (%s)\n", i+1, step.Task, step.Tool)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
