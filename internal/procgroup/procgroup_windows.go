// SPDX-License-Identifier: MIT

//go:build windows

package procgroup

import (
	"os/exec"
	"time"
)

func set(cmd *exec.Cmd) {
	// Process groups are a Unix concept; on Windows the child is killed
	// directly.
}

func terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	_ = cmd.Process.Kill()
	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		return ErrKillFailed
	}
}
