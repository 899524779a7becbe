// Package graph performs static validation of the task-reference graph
// declared in a petaltask configuration.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/petal-labs/petaltask/core"
)

// Diagnostic represents a validation error or warning produced by
// configuration or task-graph validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "TK-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // config path to offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// Validate checks structural integrity of the configured tasks and tools.
// It checks rules that can be verified without the adapter list:
//   - TK-001: composite references an unknown task
//   - TK-002: reference cycle (Kahn's algorithm)
//   - TK-003: leaf references an unknown tool
//   - TK-005: task is both leaf and composite, or neither
//   - TK-006: default task is not defined
//   - TK-007: tool is never referenced (warning)
//   - TK-008: composite lists no sub-tasks (warning)
//
// TK-004 needs the adapter list and is checked via ValidateWithAdapters.
func Validate(cfg core.Config) []Diagnostic {
	var diags []Diagnostic

	names := cfg.TaskNames()
	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}
	usedTools := make(map[string]bool)

	for _, name := range names {
		def, _ := cfg.Task(name)
		path := "tasks." + name

		hasTool := strings.TrimSpace(def.Tool) != ""
		switch {
		case hasTool && len(def.Tasks) > 0:
			diags = append(diags, Diagnostic{
				Code:     "TK-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Task %q sets both a tool and sub-tasks", name),
				Path:     path,
			})
		case !hasTool && def.Tasks != nil && len(def.Tasks) == 0:
			diags = append(diags, Diagnostic{
				Code:     "TK-008",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Composite task %q has no sub-tasks", name),
				Path:     path,
			})
		case !hasTool && len(def.Tasks) == 0:
			diags = append(diags, Diagnostic{
				Code:     "TK-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Task %q has neither a tool nor sub-tasks", name),
				Path:     path,
			})
		}

		if hasTool {
			usedTools[def.Tool] = true
			if _, ok := cfg.Tool(def.Tool); !ok {
				diags = append(diags, Diagnostic{
					Code:     "TK-003",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Task %q references unknown tool %q", name, def.Tool),
					Path:     path + ".tool",
				})
			}
		}

		for i, sub := range def.Tasks {
			if !known[sub] {
				diags = append(diags, Diagnostic{
					Code:     "TK-001",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Task %q references unknown task %q", name, sub),
					Path:     fmt.Sprintf("%s.tasks[%d]", path, i),
				})
			}
		}
	}

	if !known[cfg.Default] {
		diags = append(diags, Diagnostic{
			Code:     "TK-006",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Default task %q is not defined", cfg.Default),
			Path:     "default",
		})
	}

	for _, tool := range cfg.ToolNames() {
		if !usedTools[tool] {
			diags = append(diags, Diagnostic{
				Code:     "TK-007",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Tool %q is not used by any task", tool),
				Path:     "tools." + tool,
			})
		}
	}

	if cycle := detectCycle(cfg, known); cycle != "" {
		diags = append(diags, Diagnostic{
			Code:     "TK-002",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Task graph contains a cycle: %s", cycle),
		})
	}

	return diags
}

// ValidateWithAdapters runs Validate plus the adapter check:
//   - TK-004: tool names an adapter kind that does not exist
func ValidateWithAdapters(cfg core.Config, hasAdapter func(string) bool) []Diagnostic {
	diags := Validate(cfg)
	if hasAdapter == nil {
		return diags
	}
	for _, name := range cfg.ToolNames() {
		def, _ := cfg.Tool(name)
		if !hasAdapter(def.Adapter) {
			diags = append(diags, Diagnostic{
				Code:     "TK-004",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Tool %q uses unknown adapter %q", name, def.Adapter),
				Path:     "tools." + name + ".adapter",
			})
		}
	}
	return diags
}

// detectCycle uses Kahn's algorithm over composite -> sub-task references.
// Returns a description of the tasks involved, or empty string if acyclic.
// References to unknown tasks are ignored; TK-001 covers them.
func detectCycle(cfg core.Config, known map[string]bool) string {
	names := cfg.TaskNames()
	inDegree := make(map[string]int, len(names))
	successors := make(map[string][]string)
	for _, name := range names {
		inDegree[name] += 0
		def, _ := cfg.Task(name)
		for _, sub := range def.Tasks {
			if !known[sub] {
				continue
			}
			successors[name] = append(successors[name], sub)
			inDegree[sub]++
		}
	}

	queue := make([]string, 0)
	for _, name := range names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range successors[current] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited < len(names) {
		var cycleTasks []string
		for _, name := range names {
			if inDegree[name] > 0 {
				cycleTasks = append(cycleTasks, name)
			}
		}
		sort.Strings(cycleTasks)
		return fmt.Sprintf("tasks involved: %v", cycleTasks)
	}
	return ""
}
