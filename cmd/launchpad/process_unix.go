//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// setupServerProcess detaches the daemon from the terminal's process group
func setupServerProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
