//go:build !unix && !windows

package utils

import (
	"os"
	"os/exec"
)

// SetNewPG 默认实现，用于不支持进程组的构建目标
func SetNewPG(cmd *exec.Cmd) {
}

// KillProcessGroup 默认实现，只杀死进程本身
func KillProcessGroup(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}
