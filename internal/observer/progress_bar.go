// internal/observer/progress_bar.go
package observer

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Slade66/audiobook-fetcher/pkg/task"
)

// ProgressBarObserver 是一个具体的观察者，在终端上为单个任务绘制进度条
type ProgressBarObserver struct {
	taskID   string
	out      io.Writer
	barWidth int
	mu       sync.Mutex
	last     string
	done     bool
}

// NewProgressBarObserver 创建一个只关心 taskID 的进度条观察者
func NewProgressBarObserver(taskID string, out io.Writer) *ProgressBarObserver {
	return &ProgressBarObserver{
		taskID:   taskID,
		out:      out,
		barWidth: 50,
	}
}

// Update 实现了 Observer 接口
func (p *ProgressBarObserver) Update(t task.Task) {
	if t.ID != p.taskID {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}

	line := p.render(t)
	if line == p.last {
		return
	}
	p.last = line
	// 使用 \r 回到行首来刷新进度条，而不是每次都换行
	fmt.Fprintf(p.out, "\r%s", line)
	if t.Status.IsTerminal() {
		p.done = true
		fmt.Fprintln(p.out)
	}
}

// Remove 实现了 Observer 接口
func (p *ProgressBarObserver) Remove(string) {}

func (p *ProgressBarObserver) render(t task.Task) string {
	filled := t.Progress * p.barWidth / 100
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", p.barWidth-filled)
	msg := t.Message
	if r := []rune(msg); len(r) > 40 {
		msg = string(r[:40])
	}
	return fmt.Sprintf("[%s] %3d%% %-40s", bar, t.Progress, msg)
}
