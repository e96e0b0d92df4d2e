// internal/downloader/task.go
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/Slade66/audiobook-fetcher/internal/output"
	"github.com/Slade66/audiobook-fetcher/pkg/task"
)

// 失败时打印的 stderr 行数
const stderrTail = 20

var errNotRunning = errors.New("task is no longer downloading")

// runResult 是外部进程结束后的结果
type runResult struct {
	code   int
	err    error
	stderr []string
}

// buildCommand 组装 audiobook-dl 命令行，输出路径位于任务自己的暂存目录中
func (s *Scheduler) buildCommand(t task.Task, staging, tpl string) Command {
	var args []string
	if s.opts.ConfigPath != "" {
		args = append(args, "--config", s.opts.ConfigPath)
	}
	args = append(args, "-o", filepath.Join(staging, filepath.FromSlash(output.ToolTemplate(tpl))))
	if t.Options.Combine {
		args = append(args, "--combine")
	}
	if t.Options.NoChapters {
		args = append(args, "--no-chapters")
	}
	if t.Options.OutputFormat != "" {
		args = append(args, "--output-format", t.Options.OutputFormat)
	}
	args = append(args, t.URL)
	return Command{Path: s.opts.Binary, Args: args, Dir: staging}
}

// execute 在任务私有的暂存目录中运行一次下载，所有退出路径都会清理目录并归还名额
func (s *Scheduler) execute(ctx context.Context, t task.Task) {
	defer s.release(t.ID)

	staging := filepath.Join(s.opts.DownloadsDir, output.StagingDirName(t.ID))
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			log.Printf("⚠️ 无法删除暂存目录 %s: %v", staging, err)
		}
	}()
	if err := os.MkdirAll(staging, 0o755); err != nil {
		s.fail(t.ID, fmt.Sprintf("Failed to create working directory: %v", err))
		return
	}

	tpl := output.ComposeTemplate(t.Options.OutputTemplate, t.Options.CreateFolder, t.Options.GroupByAuthor)
	cmd := s.buildCommand(t, staging, tpl)
	log.Printf("🚀 开始下载 [ID: %s], 命令: %s", t.ID, cmd)

	proc, err := s.runner.Start(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			s.markCancelled(t.ID)
			return
		}
		s.fail(t.ID, fmt.Sprintf("Failed to start audiobook-dl: %v", err))
		return
	}

	state := output.NewState()
	resultc := make(chan runResult, 1)
	go func() {
		resultc <- s.pump(t.ID, proc, state)
	}()

	var res runResult
	select {
	case res = <-resultc:
	case <-ctx.Done():
		select {
		case res = <-resultc:
		case <-time.After(s.opts.GracePeriod + time.Second):
			// 进程迟迟不退出：任务照样记为 cancelled，进程留给系统回收
			log.Printf("⚠️ 任务 %s 的进程在取消后仍未退出，不再等待", t.ID)
		}
	}
	if ctx.Err() != nil {
		s.markCancelled(t.ID)
		return
	}
	s.finish(ctx, t, staging, tpl, state, res)
}

// pump 把两个输出流合并成一个有序的行序列交给解析器，读完后等待进程退出
func (s *Scheduler) pump(id string, proc Process, state *output.State) runResult {
	lines := make(chan output.Line, 64)
	var wg sync.WaitGroup
	read := func(stream output.Stream, r io.Reader) {
		defer wg.Done()
		if err := output.ReadLines(r, stream, lines); err != nil {
			log.Printf("⚠️ 读取 %s 失败 [ID: %s]: %v", stream, id, err)
		}
	}
	wg.Add(2)
	go read(output.StreamStdout, proc.Stdout())
	go read(output.StreamStderr, proc.Stderr())
	go func() {
		wg.Wait()
		close(lines)
	}()

	tail := newTailLines(stderrTail)
	for line := range lines {
		if line.Stream == output.StreamStderr {
			tail.Add(line.Text)
		}
		s.apply(id, state.Feed(line))
	}

	code, err := proc.Wait()
	return runResult{code: code, err: err, stderr: tail.Lines()}
}

// apply 把解析出的事件写入 Store，任务已不在 downloading 时丢弃
func (s *Scheduler) apply(id string, events []output.Event) {
	if len(events) == 0 {
		return
	}
	_, _ = s.store.Update(id, func(tk *task.Task) error {
		if tk.Status != task.StatusDownloading {
			return errNotRunning
		}
		for _, ev := range events {
			switch ev.Kind {
			case output.KindProgress:
				tk.SetProgress(ev.Progress)
			case output.KindStage:
				tk.Message = ev.Message
			}
		}
		return nil
	})
}

// finish 根据退出码把任务推进到终态
func (s *Scheduler) finish(ctx context.Context, t task.Task, staging, tpl string, state *output.State, res runResult) {
	if res.err != nil {
		s.fail(t.ID, fmt.Sprintf("Failed to wait for audiobook-dl: %v", res.err))
		return
	}

	ev := state.Finish(res.code)
	if ev.Kind == output.KindFailure {
		log.Printf("🔥 任务执行失败 [ID: %s], 退出码: %d", t.ID, res.code)
		for _, line := range res.stderr {
			log.Printf("   %s", line)
		}
		s.fail(t.ID, ev.Error)
		return
	}

	md := task.Metadata{}
	for k, v := range state.Fields {
		md[k] = v
	}

	expected := output.RenderTemplate(tpl, state.Fields)
	outputRel := expected
	if found, ok := output.ResolveOutputFile(staging, ev.Candidates, expected); ok {
		moved, err := s.unwrap(staging, found)
		if err != nil {
			s.fail(t.ID, fmt.Sprintf("Failed to move downloaded files: %v", err))
			return
		}
		outputRel = relToDownloads(s.opts.DownloadsDir, moved)

		if probed, err := s.probe(ctx, moved); err != nil {
			log.Printf("⚠️ 读取元数据失败 [ID: %s]: %v", t.ID, err)
		} else {
			for k, v := range probed {
				md[k] = v
			}
		}
		s.remember(t.URL, moved)
		s.upload(t.ID, outputRel, moved)
	} else {
		log.Printf("⚠️ 进程成功退出但没有找到音频文件 [ID: %s]，使用预期路径", t.ID)
		if _, err := s.unwrap(staging, ""); err != nil {
			log.Printf("⚠️ 无法移动暂存目录内容 [ID: %s]: %v", t.ID, err)
		}
	}
	if outputRel == "" {
		outputRel = output.SanitizeSegment(path.Base(t.URL))
	}

	done, err := s.store.Update(t.ID, func(tk *task.Task) error {
		return tk.Complete(s.now(), outputRel, md)
	})
	if err != nil {
		log.Printf("⚠️ 无法标记任务完成 [ID: %s]: %v", t.ID, err)
		return
	}
	d, _ := done.Duration()
	log.Printf("✅ 任务成功完成 [ID: %s], 耗时: %.1fs, 文件: %s", t.ID, d.Seconds(), outputRel)
}

// unwrap 把暂存目录的内容并入下载目录。同名检查与重命名之间不能有其他任务插入。
func (s *Scheduler) unwrap(staging, outputFile string) (string, error) {
	s.unwrapMu.Lock()
	defer s.unwrapMu.Unlock()
	return output.Unwrap(staging, s.opts.DownloadsDir, outputFile)
}

func (s *Scheduler) upload(id, rel, abs string) {
	if s.uploader == nil {
		return
	}
	if err := s.uploader.UploadFile(rel, abs); err != nil {
		log.Printf("⚠️ 归档上传失败 [ID: %s]: %v", id, err)
	}
}

func (s *Scheduler) fail(id, text string) {
	if _, err := s.store.Update(id, func(tk *task.Task) error {
		return tk.Fail(s.now(), text)
	}); err != nil {
		log.Printf("⚠️ 无法标记任务失败 [ID: %s]: %v", id, err)
		return
	}
	log.Printf("❌ 任务失败 [ID: %s]: %s", id, text)
}

func (s *Scheduler) markCancelled(id string) {
	_, _ = s.store.Update(id, func(tk *task.Task) error {
		return tk.Cancel(s.now())
	})
}
