package task

import (
	"errors"
	"fmt"
	"time"
)

// Status 是任务状态机中的一个状态
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// ErrInvalidTransition 表示请求的状态迁移不被状态机允许
var ErrInvalidTransition = errors.New("invalid task status transition")

// allowedTransitions 列出所有合法的状态迁移。终态没有出边。
// pending -> completed 只用于“跳过已下载”的短路路径。
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusDownloading: true,
		StatusCompleted:   true,
		StatusCancelled:   true,
	},
	StatusDownloading: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal 对 completed / failed / cancelled 返回 true
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsKnown 判断是否为已定义的状态
func (s Status) IsKnown() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// Options 是提交时的输出配置快照，创建后不可修改。
type Options struct {
	// 命名模板，例如 "{author}/{series}/{title}"。
	OutputTemplate string `json:"output_template,omitempty"`

	// 输出格式，例如 "m4b"、"mp3"。为空时由外部工具决定。
	OutputFormat string `json:"output_format,omitempty"`

	// 是否把所有分段合并为一个文件。
	Combine bool `json:"combine"`

	// 是否不写入章节信息。
	NoChapters bool `json:"no_chapters"`

	// 是否为每本书单独创建一个目录。
	CreateFolder bool `json:"create_folder"`

	// 是否在路径前加上 {author}/ 目录。
	GroupByAuthor bool `json:"group_by_author"`
}

// Metadata 是从产物文件中提取到的书籍属性
// (title, author, narrator, year, duration, size)。
type Metadata map[string]string

// Task 定义了一个有声书下载任务，由 status.Manager 独占持有。
type Task struct {
	// 任务的唯一标识符，由 Store 在创建时分配，不可变。
	ID string `json:"task_id"`

	// 有声书收听页面的 URL，不可变。
	URL string `json:"url"`

	// 当前状态。
	Status Status `json:"status"`

	// 0-100 的整数百分比，downloading 期间单调不减。
	Progress int `json:"progress"`

	// 最近一次输出事件对应的阶段描述。
	Message string `json:"message"`

	// 仅在 completed 时非 nil；提取失败时为空 map。
	Metadata Metadata `json:"metadata,omitempty"`

	// 仅在 failed 时非空，保留原始换行。
	Error string `json:"error,omitempty"`

	// 仅在 completed 时非空，相对下载目录的路径。
	OutputFile string `json:"output_file,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// 提交时的输出配置快照。
	Options Options `json:"options"`

	// Store 内部的插入序号，用于稳定排序。
	Seq uint64 `json:"-"`
}

// Clone 返回一个深拷贝，调用方可以随意修改而不影响 Store 中的记录。
func (t *Task) Clone() Task {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(Metadata, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// Duration 返回终态任务的耗时；未开始或未结束时返回 false。
func (t *Task) Duration() (time.Duration, bool) {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.StartedAt), true
}

func (t *Task) transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s (task_id=%s)", ErrInvalidTransition, t.Status, to, t.ID)
	}
	t.Status = to
	return nil
}

// Start 把 pending 任务推进到 downloading。
func (t *Task) Start(now time.Time) error {
	if err := t.transition(StatusDownloading); err != nil {
		return err
	}
	t.StartedAt = &now
	t.Progress = 0
	t.Message = "Starting download..."
	return nil
}

// SetProgress 只在 downloading 时生效，值会被限制到 0-100，且不会回退。
func (t *Task) SetProgress(p int) {
	if t.Status != StatusDownloading {
		return
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p > t.Progress {
		t.Progress = p
	}
}

// Complete 写入产物路径与元数据并进入 completed。md 为 nil 时写入空 map。
func (t *Task) Complete(now time.Time, outputFile string, md Metadata) error {
	if err := t.transition(StatusCompleted); err != nil {
		return err
	}
	if md == nil {
		md = Metadata{}
	}
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.Progress = 100
	t.Message = "Download completed successfully!"
	t.OutputFile = outputFile
	t.Metadata = md
	t.Error = ""
	t.CompletedAt = &now
	return nil
}

// Fail 进入 failed 并记录错误文本。
func (t *Task) Fail(now time.Time, errText string) error {
	if err := t.transition(StatusFailed); err != nil {
		return err
	}
	if errText == "" {
		errText = "Unknown error"
	}
	t.Progress = 0
	t.Message = "Download failed"
	t.Error = errText
	t.OutputFile = ""
	t.Metadata = nil
	t.CompletedAt = &now
	return nil
}

// Cancel 进入 cancelled。
func (t *Task) Cancel(now time.Time) error {
	if err := t.transition(StatusCancelled); err != nil {
		return err
	}
	t.Message = "Download cancelled by user"
	t.CompletedAt = &now
	return nil
}
