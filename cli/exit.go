package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/petal-labs/petaltask/core"
	"github.com/petal-labs/petaltask/loader"
	"github.com/petal-labs/petaltask/runtime"
)

// Process exit codes.
const (
	exitSuccess      = 0
	exitConfig       = 1
	exitToolFailure  = 2
	exitFileNotFound = 3
	exitTimeout      = 10
	exitInterrupted  = 130
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// asExitError classifies err into an ExitError. Nil stays nil.
func asExitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return &ExitError{Code: ExitCode(err), Message: err.Error(), Err: err}
}

// ExitCode maps an error to the process exit code petaltask reports for it.
func ExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var exitErr *ExitError
	var diagErr *loader.DiagnosticError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, runtime.ErrRunCanceled):
		if errors.Is(err, context.DeadlineExceeded) {
			return exitTimeout
		}
		return exitInterrupted
	case core.IsToolFailure(err):
		return exitToolFailure
	case core.IsConfigurationError(err), errors.As(err, &diagErr):
		return exitConfig
	case errors.Is(err, os.ErrNotExist):
		return exitFileNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return exitTimeout
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitConfig
	}
}
