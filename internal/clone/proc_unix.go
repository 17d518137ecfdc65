//go:build unix

package clone

import (
	"os/exec"
	"syscall"
)

// killGroupOnCancel puts git in its own process group so cancellation also
// reaches the remote helpers it forks.
func killGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
