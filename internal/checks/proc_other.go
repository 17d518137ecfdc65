//go:build !unix

package checks

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}
