package core

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ErrCodeUnknownTask is returned when a task name is not registered.
	ErrCodeUnknownTask = "UNKNOWN_TASK"
	// ErrCodeTaskCycle is returned when composite tasks reference themselves.
	ErrCodeTaskCycle = "TASK_CYCLE"
	// ErrCodeUnknownTool is returned when a leaf task names an undefined tool.
	ErrCodeUnknownTool = "UNKNOWN_TOOL"
	// ErrCodeUnknownAdapter is returned when a tool names an adapter kind that does not exist.
	ErrCodeUnknownAdapter = "UNKNOWN_ADAPTER"
	// ErrCodeInvalidTask is returned for malformed task definitions.
	ErrCodeInvalidTask = "INVALID_TASK"
	// ErrCodeInvalidConfig is returned for malformed tool options or config files.
	ErrCodeInvalidConfig = "INVALID_CONFIG"
)

// ConfigurationError reports a problem with the declared tasks or tools.
// It is raised before or instead of running anything.
type ConfigurationError struct {
	Code    string   `json:"code"`
	Task    string   `json:"task,omitempty"`
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
	Cause   error    `json:"-"`
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration error")
	if e.Code != "" {
		sb.WriteString(" [" + e.Code + "]")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if len(e.Path) > 0 {
		sb.WriteString(" (via " + strings.Join(e.Path, " > ") + ")")
	}
	return sb.String()
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ConfigurationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(code, task, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Code:    code,
		Task:    task,
		Message: fmt.Sprintf(format, args...),
	}
}

// ToolFailureError reports that an external tool ran and failed.
type ToolFailureError struct {
	Tool     string         `json:"tool"`
	Task     string         `json:"task,omitempty"`
	ExitCode int            `json:"exit_code,omitempty"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Cause    error          `json:"-"`
}

func (e *ToolFailureError) Error() string {
	if e == nil {
		return ""
	}
	name := e.Tool
	if e.Task != "" && e.Task != e.Tool {
		name = e.Task + " (" + e.Tool + ")"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s failed with exit code %d: %s", name, e.ExitCode, msg)
	}
	return fmt.Sprintf("%s failed: %s", name, msg)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolFailureError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewToolFailure builds a ToolFailureError for tool.
func NewToolFailure(tool string, exitCode int, message string, cause error) *ToolFailureError {
	return &ToolFailureError{
		Tool:     tool,
		ExitCode: exitCode,
		Message:  strings.TrimSpace(message),
		Cause:    cause,
	}
}

// WithDetails merges details into the error and returns it.
func (e *ToolFailureError) WithDetails(details map[string]any) *ToolFailureError {
	if e == nil || len(details) == 0 {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsToolFailure reports whether err is or wraps a ToolFailureError.
func IsToolFailure(err error) bool {
	var toolErr *ToolFailureError
	return errors.As(err, &toolErr)
}
