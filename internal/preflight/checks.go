package preflight

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"automate-metashape/internal/deps"
)

// Access modes for CheckDirectoryAccess.
const (
	ReadOnly  = unix.R_OK | unix.X_OK
	ReadWrite = unix.R_OK | unix.W_OK | unix.X_OK
)

// CheckDirectoryAccess verifies that the directory exists and grants mode.
func CheckDirectoryAccess(name, path string, mode uint32) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	label := "read ok"
	if mode&unix.W_OK != 0 {
		label = "read/write ok"
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, label)}
}

// CheckFreeSpace reports the space available under path and fails below
// minimum bytes.
func CheckFreeSpace(name, path string, minimum uint64) Result {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := fs.Bavail * uint64(fs.Bsize)
	detail := fmt.Sprintf("%s free", humanize.IBytes(free))
	if free < minimum {
		return Result{Name: name, Detail: fmt.Sprintf("%s, need at least %s", detail, humanize.IBytes(minimum))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckFile verifies that path is a readable regular file.
func CheckFile(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: unreadable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, humanize.IBytes(uint64(info.Size())))}
}

// FromDependency converts a binary availability status into a Result.
// Missing optional binaries pass as degraded.
func FromDependency(status deps.Status) Result {
	result := Result{Name: status.Name}
	switch {
	case status.Available:
		result.Passed = true
		result.Detail = status.Resolved
	case status.Optional:
		result.Passed = true
		result.Degraded = true
		result.Detail = fmt.Sprintf("%s (optional)", status.Detail)
	default:
		result.Detail = status.Detail
	}
	return result
}
