package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/utils"
)

// waitDelay bounds how long Run waits for output pipes after the process was killed.
const waitDelay = 5 * time.Second

/**
 * Command 一次性执行的外部命令
 * @property {string} title - 显示用的名字
 * @property {string} name - 可执行文件
 * @property {[]string} args - 命令参数
 * @property {string} dir - 工作目录
 * @property {[]string} env - 追加到当前进程环境变量之后的 KEY=VALUE
 */
type Command struct {
	Title string
	Name  string
	Args  []string
	Dir   string
	Env   []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// ExitError is a command that ran and exited non-zero.
type ExitError struct {
	Title  string
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s exited with code %d", e.Title, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Title, e.Code, out)
}

/**
 * Run a command to completion
 * @param {context.Context} ctx - Cancelling kills the whole process group
 * @param {Command} c - Command to run
 * @returns {(string, error)} Combined stdout and stderr
 * @throws
 * - *ExitError when the command exits non-zero
 * - Start errors (missing executable, bad directory)
 * - ctx.Err() when the context ended first
 */
func Run(ctx context.Context, c Command) (string, error) {
	title := c.Title
	if title == "" {
		title = c.Name
	}
	logger.Infof("Executing command: %s", c)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	cmd.Env = append(os.Environ(), c.Env...)
	// 独立进程组，取消时连同子进程一起终止
	utils.SetNewPG(cmd)
	cmd.Cancel = func() error {
		return utils.KillProcessGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = waitDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	output := out.String()
	if ctx.Err() != nil {
		logger.Warnf("Command '%s' cancelled after %v", title, time.Since(start))
		return output, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		logger.Errorf("Command '%s' failed with code %d", title, exitErr.ExitCode())
		return output, &ExitError{Title: title, Code: exitErr.ExitCode(), Output: output}
	}
	if err != nil {
		logger.Errorf("Failed to start command '%s', error: %v", title, err)
		return output, err
	}
	logger.Debugf("Command '%s' finished in %v", title, time.Since(start))
	return output, nil
}
