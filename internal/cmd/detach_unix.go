//go:build !windows

package cmd

import (
	"os/exec"
	"syscall"
)

// detach starts proc in its own session so it outlives the terminal.
func detach(proc *exec.Cmd) {
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
