//go:build !windows

package claude

import (
	"fmt"
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the CLI and anything it spawns in its own
// process group so cancellation reaches tool subprocesses too.
func configureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalStop sends SIGTERM to the process group.
func signalStop(cmd *exec.Cmd) error {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process group: %w", err)
	}
	return nil
}

// signalKill sends SIGKILL to the process group.
func signalKill(cmd *exec.Cmd) error {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}
