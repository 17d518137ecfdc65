//go:build unix

package checks

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the child in a new process group and makes
// context cancellation kill the whole group, not just the direct child.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
