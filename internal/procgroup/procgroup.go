// SPDX-License-Identifier: MIT

// Package procgroup spawns worker subprocesses in their own process group
// and terminates the whole group on cancellation: SIGTERM, a grace period,
// then SIGKILL.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

// ErrKillFailed is returned when a process group survives SIGKILL past
// the timeout.
var ErrKillFailed = errors.New("kill operation failed")

// Set configures the command to start in a new process group. Mandatory
// for Terminate to reap the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate gracefully stops a process group: SIGTERM, wait up to grace
// for the exit to arrive on waitCh, then SIGKILL. The error from waitCh is
// consumed and returned. Safe to call on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return terminate(cmd, waitCh, grace)
}
