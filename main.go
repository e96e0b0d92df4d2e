// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Slade66/audiobook-fetcher/internal/config"
	"github.com/Slade66/audiobook-fetcher/internal/downloader"
	"github.com/Slade66/audiobook-fetcher/internal/observer"
	"github.com/Slade66/audiobook-fetcher/internal/status"
	"github.com/Slade66/audiobook-fetcher/pkg/task"
)

// doneObserver 在目标任务进入终态时关闭 done
type doneObserver struct {
	taskID string
	once   sync.Once
	done   chan struct{}
	final  task.Task
}

func (d *doneObserver) Update(t task.Task) {
	if t.ID != d.taskID || !t.Status.IsTerminal() {
		return
	}
	d.once.Do(func() {
		d.final = t
		close(d.done)
	})
}

func (d *doneObserver) Remove(string) {}

func main() {
	// 1. 参数解析
	urlStr := flag.String("url", "", "要下载的有声书 URL (必须)")
	template := flag.String("template", "", "命名模板，例如 {author}/{title} (默认使用全局设置)")
	format := flag.String("format", "", "输出格式，例如 m4b、mp3")
	combine := flag.Bool("combine", false, "把所有分段合并为一个文件")
	noChapters := flag.Bool("no-chapters", false, "不写入章节信息")
	createFolder := flag.Bool("create-folder", false, "为每本书单独创建目录")
	flag.Parse()

	// 2. 参数校验
	if *urlStr == "" {
		fmt.Println("错误: -url 参数是必须的")
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.FromEnv()
	if err := os.MkdirAll(cfg.DownloadsDir, 0o755); err != nil {
		log.Fatalf("❌ 无法创建下载目录: %v", err)
	}
	settings, err := config.NewSettingsStore(cfg.ConfigDir)
	if err != nil {
		log.Fatalf("❌ 无法加载设置: %v", err)
	}

	// 3. 创建调度器并提交任务
	store := status.NewManager()
	sched := downloader.New(store, settings, downloader.ExecRunner{GracePeriod: 10 * time.Second}, downloader.Options{
		DownloadsDir: cfg.DownloadsDir,
		ConfigPath:   settings.Path(),
		Binary:       cfg.AudiobookDLBin,
		FFprobeBin:   cfg.FFprobeBin,
	})
	res := sched.Submit([]string{*urlStr}, downloader.Request{
		OutputTemplate: *template,
		OutputFormat:   *format,
		Combine:        *combine,
		NoChapters:     *noChapters,
		CreateFolder:   *createFolder,
	})
	if len(res.Accepted) == 0 {
		w := res.Warnings[0]
		log.Fatalf("❌ %s: %s", w.Warning, w.Message)
	}
	id := res.Accepted[0]

	// 4. 创建观察者
	done := &doneObserver{taskID: id, done: make(chan struct{})}
	store.AddObserver(observer.NewProgressBarObserver(id, os.Stdout))
	store.AddObserver(done)

	// 5. 启动下载，Ctrl+C 取消任务
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancelRun := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(runCtx)
	}()

	fmt.Println("🚀 开始下载...")
	select {
	case <-done.done:
	case <-ctx.Done():
		_ = sched.Cancel(id)
		<-done.done
	}
	cancelRun()
	<-schedDone

	final := done.final
	switch final.Status {
	case task.StatusCompleted:
		fmt.Printf("✅ 下载完成: %s\n", final.OutputFile)
		for _, k := range []string{"title", "author", "narrator", "duration", "size"} {
			if v := final.Metadata[k]; v != "" {
				fmt.Printf("   %s: %s\n", k, v)
			}
		}
	case task.StatusFailed:
		fmt.Printf("❌ 下载失败:\n%s\n", final.Error)
		os.Exit(1)
	default:
		fmt.Println("🛑 下载已取消")
		os.Exit(130)
	}
}
