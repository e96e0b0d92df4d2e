// internal/downloader/downloader.go
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/Slade66/audiobook-fetcher/internal/config"
	"github.com/Slade66/audiobook-fetcher/internal/output"
	"github.com/Slade66/audiobook-fetcher/internal/services"
	"github.com/Slade66/audiobook-fetcher/internal/status"
	"github.com/Slade66/audiobook-fetcher/internal/uploader"
	"github.com/Slade66/audiobook-fetcher/pkg/fileinfo"
	"github.com/Slade66/audiobook-fetcher/pkg/task"
)

var (
	// ErrNotCancellable 表示任务已经处于终态
	ErrNotCancellable = errors.New("task is not cancellable")
	// ErrNotRetryable 表示只有 failed / cancelled 的任务可以重试
	ErrNotRetryable = errors.New("task is not retryable")
)

// SettingsSource 提供全局设置，每次准入决策都会重新读取
type SettingsSource interface {
	Settings() config.Settings
}

// Prober 读取产物文件的元数据
type Prober func(ctx context.Context, path string) (task.Metadata, error)

// Options 是调度器的静态配置
type Options struct {
	// 下载目录，产物最终都放在这里
	DownloadsDir string
	// 传给 audiobook-dl 的 --config，为空时不传
	ConfigPath string
	// audiobook-dl 可执行文件
	Binary string
	// ffprobe 可执行文件
	FFprobeBin string
	// 取消后等待进程退出的时间
	GracePeriod time.Duration
	// 没有外部唤醒时，准入循环的兜底检查间隔
	PollInterval time.Duration
}

// Request 是一次提交中用户给出的输出配置，空值表示使用全局设置
type Request struct {
	OutputTemplate string
	OutputFormat   string
	Combine        bool
	NoChapters     bool
	CreateFolder   bool
}

// SubmitResult 是一次批量提交的结果，部分成功是正常情况
type SubmitResult struct {
	Accepted []string
	Warnings []services.Warning
}

// Scheduler 负责任务的准入与执行：按提交顺序（FIFO）把 pending 任务
// 提升为 downloading，同时运行的任务数不超过 max_concurrent_downloads。
type Scheduler struct {
	store    *status.Manager
	settings SettingsSource
	runner   Runner
	probe    Prober
	uploader uploader.Uploader
	opts     Options
	now      func() time.Time

	mu      sync.Mutex
	queue   []string
	running map[string]context.CancelFunc
	// 本进程内已完成的 URL -> 产物绝对路径，用于跳过已下载
	completed map[string]string

	// 各任务都向同一个下载目录搬移产物，搬移过程串行执行
	unwrapMu sync.Mutex

	wake chan struct{}
	wg   sync.WaitGroup
}

// New 创建一个调度器，需要调用 Run 才会开始准入
func New(store *status.Manager, settings SettingsSource, runner Runner, opts Options) *Scheduler {
	if opts.Binary == "" {
		opts.Binary = "audiobook-dl"
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if abs, err := filepath.Abs(opts.DownloadsDir); err == nil {
		opts.DownloadsDir = abs
	}
	s := &Scheduler{
		store:     store,
		settings:  settings,
		runner:    runner,
		opts:      opts,
		now:       time.Now,
		running:   make(map[string]context.CancelFunc),
		completed: make(map[string]string),
		wake:      make(chan struct{}, 1),
	}
	s.probe = func(ctx context.Context, path string) (task.Metadata, error) {
		return fileinfo.Probe(ctx, opts.FFprobeBin, path)
	}
	return s
}

// SetProber 替换元数据读取函数
func (s *Scheduler) SetProber(p Prober) {
	s.probe = p
}

// SetUploader 设置可选的归档上传器
func (s *Scheduler) SetUploader(u uploader.Uploader) {
	s.uploader = u
}

// Kick 唤醒准入循环，不阻塞
func (s *Scheduler) Kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Submit 校验每条 URL，合法的各创建一个 pending 任务并排队
func (s *Scheduler) Submit(urls []string, req Request) SubmitResult {
	st := s.settings.Settings()
	opts := task.Options{
		OutputTemplate: req.OutputTemplate,
		OutputFormat:   req.OutputFormat,
		Combine:        req.Combine,
		NoChapters:     req.NoChapters,
		CreateFolder:   req.CreateFolder || st.CreateFolder,
		GroupByAuthor:  st.GroupByAuthor,
	}
	if opts.OutputTemplate == "" {
		opts.OutputTemplate = st.OutputTemplate
	}

	res := SubmitResult{Accepted: []string{}, Warnings: []services.Warning{}}
	for _, u := range urls {
		if w := services.Validate(u); w != nil {
			log.Printf("⚠️ 跳过无效 URL: %s (%s)", u, w.Warning)
			res.Warnings = append(res.Warnings, *w)
			continue
		}
		res.Accepted = append(res.Accepted, s.enqueue(u, opts))
	}
	s.Kick()
	return res
}

func (s *Scheduler) enqueue(url string, opts task.Options) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.store.Create(url, opts)
	s.queue = append(s.queue, t.ID)
	log.Printf("📥 任务已加入队列 [ID: %s], URL: %s", t.ID, url)
	return t.ID
}

// Retry 用失败或已取消任务的 URL 与配置创建一个新任务，原任务保持不变
func (s *Scheduler) Retry(id string) (string, error) {
	t, err := s.store.Get(id)
	if err != nil {
		return "", err
	}
	if t.Status != task.StatusFailed && t.Status != task.StatusCancelled {
		return "", fmt.Errorf("%w: %s (%s)", ErrNotRetryable, id, t.Status)
	}
	newID := s.enqueue(t.URL, t.Options)
	log.Printf("🔁 任务 %s 已重试为新任务 %s", id, newID)
	s.Kick()
	return newID, nil
}

// Cancel 取消一个任务：pending 直接移出队列，downloading 会终止外部进程。
// 终态任务返回 ErrNotCancellable。
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s (%s)", ErrNotCancellable, id, t.Status)
	}

	if _, err := s.store.Update(id, func(tk *task.Task) error {
		return tk.Cancel(s.now())
	}); err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			// 刚好在这一刻进入了终态
			return fmt.Errorf("%w: %s", ErrNotCancellable, id)
		}
		return err
	}

	switch t.Status {
	case task.StatusPending:
		s.dequeueLocked(id)
	case task.StatusDownloading:
		if cancel, ok := s.running[id]; ok {
			cancel()
		}
	}
	log.Printf("🛑 任务已取消 [ID: %s], 原状态: %s", id, t.Status)
	return nil
}

// Remove 删除一个终态任务
func (s *Scheduler) Remove(id string) error {
	if err := s.store.Remove(id); err != nil {
		return err
	}
	log.Printf("🗑️ 任务已删除 [ID: %s]", id)
	return nil
}

// ClearTerminal 删除所有终态任务
func (s *Scheduler) ClearTerminal() int {
	n := s.store.ClearTerminal()
	if n > 0 {
		log.Printf("🧹 已清理 %d 个已结束的任务", n)
	}
	return n
}

// Running 返回正在运行的任务数
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Queued 返回排队等待准入的任务数
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Run 是准入循环，直到 ctx 结束。返回前会等待所有任务协程退出。
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	log.Printf("▶️ 调度器已启动，下载目录: %s", s.opts.DownloadsDir)
	for {
		s.admit(ctx)
		select {
		case <-ctx.Done():
			s.wg.Wait()
			log.Println("⏹️ 调度器已停止")
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// admit 在有空闲名额时按队列顺序准入任务
func (s *Scheduler) admit(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) > 0 {
		// 每次决策都重新读取，调大上限立即生效，调小不会打断运行中的任务
		st := s.settings.Settings()
		if len(s.running) >= st.MaxConcurrentDownloads {
			return
		}

		id := s.queue[0]
		s.queue = s.queue[1:]
		t, err := s.store.Get(id)
		if err != nil || t.Status != task.StatusPending {
			continue
		}

		if st.SkipDownloaded {
			if existing, ok := s.findExistingLocked(t); ok {
				s.wg.Add(1)
				go s.skip(ctx, t, existing)
				continue
			}
		}

		t, err = s.store.Update(id, func(tk *task.Task) error {
			return tk.Start(s.now())
		})
		if err != nil {
			continue
		}
		taskCtx, cancel := context.WithCancel(ctx)
		s.running[id] = cancel
		s.wg.Add(1)
		go s.execute(taskCtx, t)
	}
}

func (s *Scheduler) dequeueLocked(id string) {
	for i, qid := range s.queue {
		if qid == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// release 归还并发名额并唤醒准入循环
func (s *Scheduler) release(id string) {
	s.mu.Lock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
	s.mu.Unlock()
	s.Kick()
	s.wg.Done()
}

func (s *Scheduler) remember(url, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[url] = path
}

// findExistingLocked 查找同一 URL 此前的产物，或纯字面量模板对应的文件
func (s *Scheduler) findExistingLocked(t task.Task) (string, bool) {
	if p, ok := s.completed[t.URL]; ok && fileExists(p) {
		return p, true
	}

	tpl := output.ComposeTemplate(t.Options.OutputTemplate, t.Options.CreateFolder, t.Options.GroupByAuthor)
	if !output.IsLiteral(tpl) {
		return "", false
	}
	rel := output.RenderTemplate(tpl, nil)
	if rel == "" {
		return "", false
	}
	base := filepath.Join(s.opts.DownloadsDir, filepath.FromSlash(rel))
	exts := output.AudioExtensions
	if f := t.Options.OutputFormat; f != "" {
		exts = append([]string{"." + f}, exts...)
	}
	for _, ext := range exts {
		if p := base + ext; fileExists(p) {
			return p, true
		}
	}
	return "", false
}

// skip 不启动进程，直接把任务标记为 completed
func (s *Scheduler) skip(ctx context.Context, t task.Task, existing string) {
	defer s.wg.Done()

	md, err := s.probe(ctx, existing)
	if err != nil {
		log.Printf("⚠️ 读取元数据失败 [ID: %s]: %v", t.ID, err)
		md = task.Metadata{}
	}
	rel := relToDownloads(s.opts.DownloadsDir, existing)
	if _, err := s.store.Update(t.ID, func(tk *task.Task) error {
		if err := tk.Complete(s.now(), rel, md); err != nil {
			return err
		}
		tk.Message = "Already downloaded, skipped"
		return nil
	}); err != nil {
		log.Printf("⚠️ 无法标记跳过的任务 [ID: %s]: %v", t.ID, err)
		return
	}
	log.Printf("⏭️ 已存在，跳过下载 [ID: %s], 文件: %s", t.ID, rel)
}
