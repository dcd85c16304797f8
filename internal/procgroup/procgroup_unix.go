// SPDX-License-Identifier: MIT

//go:build !windows

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/unshackle-dl/unshackle/internal/log"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGroup targets the PGID leader and all children. This works because
// Setpgid was set at spawn time.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return
		}
		// Fallback to the single PID if the PGID kill is restricted.
		_ = cmd.Process.Signal(sig)
	}
}

func terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	logger := log.WithComponent("procgroup")
	pid := cmd.Process.Pid

	logger.Debug().Int(log.FieldPID, pid).Msg("sending SIGTERM to process group")
	signalGroup(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	logger.Warn().Int(log.FieldPID, pid).Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	signalGroup(cmd, syscall.SIGKILL)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		return ErrKillFailed
	}
}
