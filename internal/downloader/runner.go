// internal/downloader/runner.go
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Command 描述一次外部进程调用
type Command struct {
	Path string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Process 是一个已经启动的外部进程。
// 调用方必须先把 Stdout 和 Stderr 读到 EOF，再调用 Wait。
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait 返回退出码；只有无法取得退出码时才返回 error
	Wait() (int, error)
}

// Runner 启动外部进程。ctx 结束时进程应被终止。
type Runner interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

// ExecRunner 用 os/exec 启动真实进程。
// ctx 结束后先发 SIGTERM，GracePeriod 之后仍未退出则强制结束。
type ExecRunner struct {
	GracePeriod time.Duration
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

// Start 实现了 Runner 接口
func (r ExecRunner) Start(ctx context.Context, c Command) (Process, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	// 关闭颜色与输出缓冲，进度能逐行实时到达
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1", "FORCE_COLOR=0", "NO_COLOR=1")
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.GracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("无法启动 %s: %w", c.Path, err)
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	case errors.Is(err, exec.ErrWaitDelay):
		return p.cmd.ProcessState.ExitCode(), nil
	default:
		return -1, err
	}
}
