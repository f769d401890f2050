package supervisor

import (
	"errors"
	"fmt"
)

// ExitError carries the process exit code the supervisor should exit with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("executor exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the exit code carried by err: 0 for nil, the ExitError
// code when present, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
