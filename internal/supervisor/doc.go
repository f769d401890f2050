// Package supervisor runs the pipeline executor as a child process group,
// retries it when the engine cannot check out a floating licence, and
// forwards termination signals to the whole group.
//
// The first LICENSE_CHECK_LINES lines of child output are inspected for a
// licence failure signature. A hit terminates the group at once (SIGTERM,
// then SIGKILL after a grace period) instead of letting the child run for
// hours and fail at save time. All output handling is delegated to
// monitor.Monitor.
package supervisor
