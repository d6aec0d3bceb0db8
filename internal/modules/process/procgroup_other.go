//go:build !unix

package process

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

// killGroup на платформах без групп процессов полагается на killTree.
func killGroup(pid int) error { return nil }
