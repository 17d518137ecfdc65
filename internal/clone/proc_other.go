//go:build !unix

package clone

import "os/exec"

func killGroupOnCancel(cmd *exec.Cmd) {}
