package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"automate-metashape/internal/supervisor"
)

func main() {
	cmd := newRootCommand()
	err := cmd.ExecuteContext(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) && !silentExit(err) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(supervisor.ExitCode(err))
}

// silentExit reports whether err only carries the child's exit code; the
// child has already reported the failure on the console.
func silentExit(err error) bool {
	var exitErr *supervisor.ExitError
	return errors.As(err, &exitErr) && exitErr.Err == nil
}
