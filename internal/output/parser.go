// internal/output/parser.go
package output

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// 这些规则与 audiobook-dl 的输出文本强耦合，相当于一份带版本的契约：
// 工具输出格式变化时只需要改这一个文件。

// AudioExtensions 是被视为有声书产物的扩展名
var AudioExtensions = []string{".m4b", ".mp3", ".m4a"}

// saveKeywords 之后通常紧跟产物路径
var saveKeywords = []string{
	"saved to",
	"written to",
	"output:",
	"saved:",
	"file:",
	"downloading to",
	"writing",
	"created",
	"merged to",
	"combined to",
}

const maxMessageRunes = 100

var (
	rePercent = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reField   = regexp.MustCompile(`(?i)^(title|authors?|narrators?|series|year)\s*:\s*(.+)$`)

	reWindowsPath  = regexp.MustCompile(`(?i)([a-z]:[\\/](?:[^\\/\s<>:"|?*]+[\\/])*[^\\/\s<>:"|?*]+\.(?:m4b|mp3|m4a))`)
	reUnixPath     = regexp.MustCompile(`(?i)(?:^|[\s'"=])(/(?:[^/\s<>"|?*]+/)*[^/\s<>"|?*]+\.(?:m4b|mp3|m4a))`)
	reRelativePath = regexp.MustCompile(`(?i)((?:[^\\/\s<>:"|?*]+[\\/])*[^\\/\s<>:"|?*]+\.(?:m4b|mp3|m4a))`)
)

// stageRule 把关键字映射到进度与阶段描述，按顺序匹配，命中第一条即停止。
type stageRule struct {
	keywords []string
	message  string
	progress func(current int) int
}

func fixed(p int) func(int) int {
	return func(int) int { return p }
}

// 下载阶段至少 20%，之后每行 +5，最多到 70%
func downloadStep(current int) int {
	switch {
	case current < 20:
		return 20
	case current < 70:
		return min(current+5, 70)
	default:
		return current
	}
}

var stageRules = []stageRule{
	{keywords: []string{"authenticating", "login"}, message: "Authenticating with service...", progress: fixed(10)},
	{keywords: []string{"download"}, message: "Downloading audiobook files...", progress: downloadStep},
	{keywords: []string{"combining", "merge", "concat"}, message: "Combining audio files...", progress: fixed(75)},
	{keywords: []string{"chapter"}, message: "Adding chapter information...", progress: fixed(85)},
	{keywords: []string{"saving", "writing"}, message: "Saving audiobook...", progress: fixed(90)},
	{keywords: []string{"complete", "finished", "done"}, message: "Finalizing...", progress: fixed(95)},
}

// State 是调用方为单个任务持有的解析状态。
// 同一个输出流按同样顺序喂两次，总会得到同样的事件序列。
type State struct {
	// 最近一次上报的进度
	Progress int
	// 最近一次的阶段描述
	Stage string
	// 从输出中读到的书籍字段（title/author/narrator/series/year）
	Fields map[string]string
	// 工具报告的产物路径，按出现顺序
	Candidates []string
	// 用于拼装失败信息的错误输出行
	ErrLines []string
}

// NewState 创建一个空的解析状态
func NewState() *State {
	return &State{Fields: map[string]string{}}
}

// Feed 解析一行输出，返回零个或多个事件。
func (s *State) Feed(line Line) []Event {
	text := strings.TrimSpace(line.Text)
	if text == "" {
		return nil
	}

	if line.Stream == StreamStderr || strings.Contains(text, "ERROR:") {
		s.ErrLines = append(s.ErrLines, text)
	}
	s.Candidates = append(s.Candidates, extractPaths(text)...)

	if m := reField.FindStringSubmatch(text); m != nil {
		field := normalizeField(m[1])
		value := strings.TrimSpace(m[2])
		s.Fields[field] = value
		return []Event{{Kind: KindMetadata, Field: field, Value: value}}
	}

	lower := strings.ToLower(text)
	next := s.Progress
	message := truncateRunes(text, maxMessageRunes)
	matched := false
	for _, rule := range stageRules {
		if containsAny(lower, rule.keywords) {
			next = rule.progress(s.Progress)
			message = rule.message
			matched = true
			break
		}
	}
	if m := rePercent.FindStringSubmatch(text); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			next = int(f)
			matched = true
		}
	}

	var events []Event
	if matched {
		next = clamp(next, 0, 100)
		if next < s.Progress {
			next = s.Progress
		}
		s.Progress = next
		events = append(events, Event{Kind: KindProgress, Progress: next})
	}
	s.Stage = message
	events = append(events, Event{Kind: KindStage, Message: message})
	return events
}

// Finish 根据退出码给出终止事件：0 为 completion，其余为 failure。
func (s *State) Finish(exitCode int) Event {
	if exitCode == 0 {
		candidates := make([]string, 0, len(s.Candidates))
		for i := len(s.Candidates) - 1; i >= 0; i-- {
			candidates = append(candidates, s.Candidates[i])
		}
		return Event{Kind: KindCompletion, Candidates: candidates}
	}
	msg := FormatErrors(s.ErrLines)
	if msg == "" {
		msg = fmt.Sprintf("audiobook-dl exited with code %d", exitCode)
	}
	return Event{Kind: KindFailure, Error: msg}
}

// FormatErrors 把错误输出整理成多行文本：丢弃 WARNING 行，
// 一行里的多个 "ERROR:" 片段各占一行。没有可用内容时返回空串。
func FormatErrors(lines []string) string {
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "WARNING:") {
			continue
		}
		if strings.Contains(line, "ERROR:") {
			parts := strings.Split(line, "ERROR:")
			for _, part := range parts[1:] {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, "ERROR: "+p)
				}
			}
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// extractPaths 从一行中找出带音频扩展名的路径。
// 先看 "saved to:" 一类关键字，找不到再按路径形状匹配。
func extractPaths(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range saveKeywords {
		idx := strings.Index(lower, kw)
		if idx < 0 {
			continue
		}
		p := strings.TrimLeft(text[idx+len(kw):], " \t:-")
		if strings.HasPrefix(strings.ToLower(p), "to ") {
			p = strings.TrimLeft(p[3:], " \t:-")
		}
		p = strings.Trim(strings.TrimSpace(p), `'"`)
		if hasAudioExt(p) {
			found = append(found, p)
		}
	}
	if len(found) > 0 {
		return found
	}
	for _, re := range []*regexp.Regexp{reWindowsPath, reUnixPath, reRelativePath} {
		if m := re.FindStringSubmatch(text); m != nil {
			return []string{strings.Trim(m[1], `'"`)}
		}
	}
	return nil
}

func normalizeField(name string) string {
	switch f := strings.ToLower(name); f {
	case "authors":
		return "author"
	case "narrators":
		return "narrator"
	default:
		return f
	}
}

func hasAudioExt(p string) bool {
	lower := strings.ToLower(p)
	for _, ext := range AudioExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
