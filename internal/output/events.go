// internal/output/events.go
package output

// Kind 是输出事件的类别
type Kind string

const (
	KindProgress   Kind = "progress"
	KindStage      Kind = "stage-message"
	KindMetadata   Kind = "metadata-field"
	KindCompletion Kind = "completion"
	KindFailure    Kind = "failure"
)

// Event 是从一行外部工具输出中解析出来的结构化事件。
// 只作为转换中间量存在，不会被保存。
type Event struct {
	Kind Kind

	// KindProgress: 已经过单调处理的 0-100 百分比
	Progress int

	// KindStage: 人类可读的阶段描述
	Message string

	// KindMetadata: 字段名与值
	Field string
	Value string

	// KindCompletion: 工具报告的产物路径候选，越晚报告的越靠前
	Candidates []string

	// KindFailure: 多行错误文本
	Error string
}
