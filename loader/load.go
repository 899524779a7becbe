package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/petal-labs/petaltask/core"
	"github.com/petal-labs/petaltask/graph"
)

// SupportedVersions is the constraint a config file's version must satisfy.
const SupportedVersions = "^1"

// CurrentVersion is written into the built-in configuration.
const CurrentVersion = "1"

// file is the on-disk shape of petaltask.yaml.
type file struct {
	Version any                        `json:"version"`
	Default string                     `json:"default"`
	Tools   map[string]core.ToolDef    `json:"tools"`
	Tasks   map[string]json.RawMessage `json:"tasks"`
}

// taskObject is the mapping form of a task entry.
type taskObject struct {
	Description string   `json:"description"`
	Tool        string   `json:"tool"`
	Tasks       []string `json:"tasks"`
}

// Load reads and validates the config file at path.
func Load(path string) (core.Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return core.Config{}, fmt.Errorf("reading file %s: %w", path, err)
	}
	cfg, err := LoadBytes(data, path)
	if err != nil {
		return core.Config{}, err
	}
	return cfg.WithSource(path), nil
}

// LoadBytes parses and validates config data. The path is used only to pick
// the format and label diagnostics.
func LoadBytes(data []byte, path string) (core.Config, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return core.Config{}, diagError("CF-001", "", "Failed to parse file: %v", err)
	}

	var f file
	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return core.Config{}, diagError("CF-001", "", "Failed to parse config: %v", err)
	}

	version, err := checkVersion(f.Version)
	if err != nil {
		return core.Config{}, diagError("CF-002", "version", "%v", err)
	}

	tasks, diags := decodeTasks(f.Tasks)
	if graph.HasErrors(diags) {
		return core.Config{}, &DiagnosticError{Diagnostics: diags}
	}

	cfg := core.NewConfig(version, strings.TrimSpace(f.Default), f.Tools, tasks)
	diags = append(diags, graph.Validate(cfg)...)
	if graph.HasErrors(diags) {
		return core.Config{}, &DiagnosticError{Diagnostics: diags}
	}
	return cfg, nil
}

// decodeTasks accepts each task either as a list of task names, a single
// task name, or a mapping with tool/tasks/description.
func decodeTasks(raw map[string]json.RawMessage) (map[string]core.TaskDef, []graph.Diagnostic) {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	tasks := make(map[string]core.TaskDef, len(raw))
	var diags []graph.Diagnostic
	for _, name := range names {
		msg := bytes.TrimSpace(raw[name])
		path := "tasks." + name
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case '[':
			var subs []string
			if err := json.Unmarshal(msg, &subs); err != nil {
				diags = append(diags, invalidTask(path, name, err))
				continue
			}
			if subs == nil {
				subs = []string{}
			}
			tasks[name] = core.TaskDef{Tasks: subs}
		case '"':
			var sub string
			if err := json.Unmarshal(msg, &sub); err != nil {
				diags = append(diags, invalidTask(path, name, err))
				continue
			}
			tasks[name] = core.TaskDef{Tasks: []string{sub}}
		case '{':
			var obj taskObject
			dec := json.NewDecoder(bytes.NewReader(msg))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&obj); err != nil {
				diags = append(diags, invalidTask(path, name, err))
				continue
			}
			tasks[name] = core.TaskDef{
				Description: obj.Description,
				Tool:        strings.TrimSpace(obj.Tool),
				Tasks:       obj.Tasks,
			}
		case 'n':
			diags = append(diags, graph.Diagnostic{
				Code:     "CF-003",
				Severity: graph.SeverityError,
				Message:  fmt.Sprintf("Task %q is empty", name),
				Path:     path,
			})
		default:
			diags = append(diags, graph.Diagnostic{
				Code:     "CF-003",
				Severity: graph.SeverityError,
				Message:  fmt.Sprintf("Task %q must be a list of task names or a mapping", name),
				Path:     path,
			})
		}
	}
	return tasks, diags
}

func invalidTask(path, name string, err error) graph.Diagnostic {
	return graph.Diagnostic{
		Code:     "CF-003",
		Severity: graph.SeverityError,
		Message:  fmt.Sprintf("Task %q is malformed: %v", name, err),
		Path:     path,
	}
}

// checkVersion normalizes the version field and checks it against
// SupportedVersions. A missing version means the current one.
func checkVersion(v any) (string, error) {
	var raw string
	switch val := v.(type) {
	case nil:
		return CurrentVersion, nil
	case string:
		raw = strings.TrimSpace(val)
	case float64:
		raw = fmt.Sprint(val)
	default:
		return "", fmt.Errorf("version must be a string, got %T", v)
	}
	if raw == "" {
		return CurrentVersion, nil
	}

	parsed, err := semver.NewVersion(raw)
	if err != nil {
		return "", fmt.Errorf("invalid version %q: %w", raw, err)
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return "", err
	}
	if !constraint.Check(parsed) {
		return "", fmt.Errorf("unsupported config version %q (want %s)", raw, SupportedVersions)
	}
	return raw, nil
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []graph.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := graph.Errors(e.Diagnostics)
	if len(errs) == 0 {
		return "validation failed"
	}
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
}

func diagError(code, path, format string, args ...any) *DiagnosticError {
	return &DiagnosticError{Diagnostics: []graph.Diagnostic{{
		Code:     code,
		Severity: graph.SeverityError,
		Message:  fmt.Sprintf(format, args...),
		Path:     path,
	}}}
}
