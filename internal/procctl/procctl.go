// Package procctl implements the daemon control surface described in
// spec.md §6: claiming a PID file for the current process, probing whether
// the process it names is still alive, and stopping it with a bounded
// SIGTERM/SIGKILL escalation. It does not fork or detach a process. The sync and watcher daemons themselves stay oblivious to any
// of this; it is wired in from cmd/*/main.go as a thin wrapper, the same way
// the teacher's CLI layer wraps its long-running binaries.
package procctl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning is returned by Start when a live process already owns
// the PID file.
var ErrAlreadyRunning = errors.New("procctl: daemon already running")

// ErrNotRunning is returned by Stop when there is no PID file. A PID file
// naming a dead process is removed and Stop returns nil.
var ErrNotRunning = errors.New("procctl: daemon not running")

const stopTimeout = 10 * time.Second
const stopPollInterval = 100 * time.Millisecond

// Status reports what CheckStatus observed about a PID file and the process it
// names.
type Status struct {
	Running       bool
	PID           int
	PIDFileExists bool
}

// WritePID writes the current process's PID to path, creating the parent
// directory if needed. Callers invoke this once, after they have confirmed
// via CheckStatus that no other instance is running.
func WritePID(path string) error {
	if dir := dirOf(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("procctl: create pid directory %s: %w", dir, err)
		}
	}
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("procctl: write pid file %s: %w", path, err)
	}
	return nil
}

// RemovePID deletes the PID file at path. Removing an absent file is not an
// error.
func RemovePID(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("procctl: remove pid file %s: %w", path, err)
	}
	return nil
}

// ReadPID reads and parses the PID stored at path. It returns ok=false
// without an error when the file does not exist.
func ReadPID(path string) (pid int, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("procctl: read pid file %s: %w", path, err)
	}
	pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if parseErr != nil {
		return 0, false, fmt.Errorf("procctl: invalid pid in %s: %w", path, parseErr)
	}
	return pid, true, nil
}

// isRunning probes for a live process by sending signal 0, the portable
// Unix idiom for "does this PID exist and am I allowed to signal it" with no
// side effect on the target.
func isRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// CheckStatus reports whether the daemon recorded at pidPath is alive.
func CheckStatus(pidPath string) (Status, error) {
	pid, ok, err := ReadPID(pidPath)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{}, nil
	}
	return Status{Running: isRunning(pid), PID: pid, PIDFileExists: true}, nil
}

// Start claims the PID file for the current process. It fails with
// ErrAlreadyRunning if another live process already owns it, and silently
// clears a stale PID file left by an unclean previous exit.
func Start(pidPath string) error {
	status, err := CheckStatus(pidPath)
	if err != nil {
		return err
	}
	if status.Running {
		return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, status.PID)
	}
	if status.PIDFileExists {
		if err := RemovePID(pidPath); err != nil {
			return err
		}
	}
	return WritePID(pidPath)
}

// Stop signals the process recorded at pidPath to terminate, escalating from
// SIGTERM to SIGKILL if it has not exited within stopTimeout, then removes
// the PID file.
func Stop(pidPath string) error {
	status, err := CheckStatus(pidPath)
	if err != nil {
		return err
	}
	if !status.Running {
		if status.PIDFileExists {
			return RemovePID(pidPath)
		}
		return ErrNotRunning
	}

	process, err := os.FindProcess(status.PID)
	if err != nil {
		return fmt.Errorf("procctl: find process %d: %w", status.PID, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("procctl: signal SIGTERM to %d: %w", status.PID, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for isRunning(status.PID) {
		if time.Now().After(deadline) {
			if err := process.Signal(syscall.SIGKILL); err != nil {
				return fmt.Errorf("procctl: signal SIGKILL to %d: %w", status.PID, err)
			}
			time.Sleep(500 * time.Millisecond)
			break
		}
		time.Sleep(stopPollInterval)
	}

	return RemovePID(pidPath)
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
