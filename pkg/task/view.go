package task

import "time"

// View 是任务在轮询 API 中的线上格式。
// 可选字段缺失表示“对当前状态不适用”，而不是错误。
type View struct {
	ID          string     `json:"task_id"`
	URL         string     `json:"url"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	Metadata    *Metadata  `json:"metadata,omitempty"`
	Error       string     `json:"error,omitempty"`
	OutputFile  string     `json:"output_file,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// 终态任务的耗时（秒）
	Duration *float64 `json:"duration,omitempty"`
	Options  Options  `json:"options"`
}

// NewView 从 Store 快照构造线上视图
func NewView(t Task) View {
	v := View{
		ID:          t.ID,
		URL:         t.URL,
		Status:      t.Status,
		Progress:    t.Progress,
		Message:     t.Message,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Options:     t.Options,
	}
	switch t.Status {
	case StatusCompleted:
		md := t.Metadata
		if md == nil {
			md = Metadata{}
		}
		v.Metadata = &md
		v.OutputFile = t.OutputFile
	case StatusFailed:
		v.Error = t.Error
	}
	if d, ok := t.Duration(); ok && t.Status.IsTerminal() {
		secs := d.Seconds()
		v.Duration = &secs
	}
	return v
}

// Author 返回用于分组展示的作者，未知时为空
func (v View) Author() string {
	if v.Metadata == nil {
		return ""
	}
	return (*v.Metadata)["author"]
}
