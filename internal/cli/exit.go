package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdejongh/bucketsync/pkg/models"
)

// Process exit codes
const (
	ExitOK        = 0
	ExitUsage     = 1
	ExitFailed    = 2
	ExitCancelled = 3
)

// ExitError carries the process exit code of a command. An ExitError with
// no Err has already been reported to the user.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// usageError marks err as a usage or configuration problem
func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// failedError marks err as a failure of the requested operation
func failedError(err error) error {
	return &ExitError{Code: ExitFailed, Err: err}
}

// resultError maps a job result to the command outcome. The formatter has
// already reported the result.
func resultError(result models.JobResult) error {
	switch result.State {
	case models.StateSucceeded:
		return nil
	case models.StateCancelled:
		return &ExitError{Code: ExitCancelled}
	default:
		return &ExitError{Code: ExitFailed}
	}
}

// ExitCode returns the process exit code for the error a command returned
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	return ExitUsage
}

// Reported reports whether err was already shown to the user
func Reported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Err == nil
}
