//go:build unix

package utils

import (
	"os/exec"
	"syscall"
)

// SetNewPG 让子进程拥有独立的进程组，便于整组终止
func SetNewPG(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// KillProcessGroup 杀死以pid为组长的整个进程组
func KillProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
