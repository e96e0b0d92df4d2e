// internal/watch/model.go
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Slade66/audiobook-fetcher/internal/client"
	"github.com/Slade66/audiobook-fetcher/pkg/task"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	maxNotices   = 3
	requestLimit = 10 * time.Second
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	selStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
	groupStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	detailStyle = lipgloss.NewStyle().PaddingLeft(4).Foreground(lipgloss.Color("250"))

	statusStyles = map[task.Status]lipgloss.Style{
		task.StatusPending:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		task.StatusDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		task.StatusCompleted:   okStyle,
		task.StatusFailed:      errorStyle,
		task.StatusCancelled:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

type tasksMsg struct {
	gen  int
	list client.TaskList
	raw  []byte
	err  error
}

type tickMsg struct{ gen int }

type actionMsg struct {
	text string
	err  error
}

// Model 是终端任务面板
type Model struct {
	api *client.API
	rec *Reconciler
	bar progress.Model

	// gen 每次重新开始轮询时递增，过期的 tick 和响应直接丢弃
	gen     int
	polling bool

	list     client.TaskList
	byID     map[string]task.View
	order    []string
	cursor   int
	expanded map[string]bool

	notices []string
	status  string
	err     error
	width   int
}

// NewModel 创建面板
func NewModel(api *client.API, rec *Reconciler) Model {
	return Model{
		api:      api,
		rec:      rec,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(24)),
		polling:  true,
		byID:     map[string]task.View{},
		expanded: map[string]bool{},
	}
}

// Run 启动全屏面板，直到用户退出
func Run(api *client.API, rec *Reconciler) error {
	_, err := tea.NewProgram(NewModel(api, rec), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return fetchCmd(m.api, m.gen)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tasksMsg:
		return m.onTasks(msg)
	case tickMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		return m, fetchCmd(m.api, m.gen)
	case actionMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.status = msg.text
		}
		return m.restart()
	case tea.KeyMsg:
		return m.onKey(msg)
	}
	return m, nil
}

func (m Model) onTasks(msg tasksMsg) (tea.Model, tea.Cmd) {
	if msg.gen != m.gen {
		return m, nil
	}
	if msg.err != nil {
		// 服务暂时不可用时继续以最慢速度重试
		m.err = msg.err
		m.polling = true
		return m, tickCmd(MaxInterval, m.gen)
	}
	m.err = nil

	res := m.rec.Observe(msg.raw, msg.list.Tasks)
	if res.Changed {
		m.setList(msg.list)
	}
	for _, v := range res.Finished {
		m.notify(v)
	}
	m.polling = res.Poll
	if !res.Poll {
		return m, nil
	}
	return m, tickCmd(res.Next, m.gen)
}

// setList 重建展示顺序：开启分组时按分组排列，否则按提交顺序
func (m *Model) setList(list client.TaskList) {
	selected := m.selectedID()
	m.list = list
	m.byID = make(map[string]task.View, len(list.Tasks))
	for _, v := range list.Tasks {
		m.byID[v.ID] = v
	}
	m.order = make([]string, 0, len(list.Tasks))
	if len(list.Groups) > 0 {
		for _, g := range list.Groups {
			for _, id := range g.TaskIDs {
				if _, ok := m.byID[id]; ok {
					m.order = append(m.order, id)
				}
			}
		}
	} else {
		for _, v := range list.Tasks {
			m.order = append(m.order, v.ID)
		}
	}
	for id := range m.expanded {
		if _, ok := m.byID[id]; !ok {
			delete(m.expanded, id)
		}
	}

	// 列表变化后光标尽量停在原来的任务上
	m.cursor = clamp(m.cursor, 0, len(m.order)-1)
	for i, id := range m.order {
		if id == selected {
			m.cursor = i
			break
		}
	}
}

func (m *Model) notify(v task.View) {
	var line string
	switch v.Status {
	case task.StatusCompleted:
		line = okStyle.Render("✔ completed: ") + displayName(v)
	case task.StatusFailed:
		line = errorStyle.Render("✖ failed: ") + displayName(v)
	default:
		line = mutedStyle.Render("■ cancelled: ") + displayName(v)
	}
	m.notices = append(m.notices, line)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

func (m Model) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.order)-1 {
			m.cursor++
		}
	case "enter", " ":
		if id := m.selectedID(); id != "" {
			m.expanded[id] = !m.expanded[id]
		}
	case "r":
		m.status = "refreshing..."
		return m.restart()
	case "c":
		if id := m.selectedID(); id != "" {
			return m, actionCmd("cancel", id, m.api.Cancel)
		}
	case "t":
		if id := m.selectedID(); id != "" {
			return m, actionCmd("retry", id, m.api.Retry)
		}
	case "x":
		if id := m.selectedID(); id != "" {
			return m, actionCmd("remove", id, m.api.Remove)
		}
	case "C":
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestLimit)
			defer cancel()
			res, err := m.api.Clear(ctx)
			return actionMsg{text: fmt.Sprintf("cleared %d finished task(s)", res.Removed), err: err}
		}
	}
	return m, nil
}

// restart 让轮询以最快速度重新开始
func (m Model) restart() (tea.Model, tea.Cmd) {
	m.gen++
	m.polling = true
	m.rec.Reset()
	return m, fetchCmd(m.api, m.gen)
}

func (m Model) selectedID() string {
	if m.cursor < 0 || m.cursor >= len(m.order) {
		return ""
	}
	return m.order[m.cursor]
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("audiobook-dl tasks"))
	b.WriteString("  ")
	b.WriteString(mutedStyle.Render(m.summary()))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(mutedStyle.Render("No tasks yet."))
		b.WriteString("\n")
	}

	author := ""
	for i, id := range m.order {
		v := m.byID[id]
		if len(m.list.Groups) > 0 {
			if a := groupOf(m.list.Groups, id); a != author {
				author = a
				b.WriteString(groupStyle.Render(a))
				b.WriteString("\n")
			}
		}
		b.WriteString(m.renderRow(v, i == m.cursor))
		b.WriteString("\n")
		if m.expanded[id] {
			b.WriteString(detailStyle.Render(details(v)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	for _, n := range m.notices {
		b.WriteString(n)
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(mutedStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render("↑/↓ select • enter details • c cancel • t retry • x remove • C clear finished • r refresh • q quit"))
	return b.String()
}

func (m Model) summary() string {
	counts := map[task.Status]int{}
	for _, v := range m.list.Tasks {
		counts[v.Status]++
	}
	poll := "idle, press r to refresh"
	if m.polling {
		poll = fmt.Sprintf("polling every %s", m.rec.Interval())
	}
	return fmt.Sprintf("%d active • %d queued • %d done • %d failed • %s",
		counts[task.StatusDownloading], counts[task.StatusPending],
		counts[task.StatusCompleted], counts[task.StatusFailed], poll)
}

func (m Model) renderRow(v task.View, selected bool) string {
	cursor := "  "
	name := truncate(displayName(v), 40)
	if selected {
		cursor = "> "
		name = selStyle.Render(name)
	}
	badge := statusStyles[v.Status].Render(fmt.Sprintf("%-11s", v.Status))
	msg := truncate(v.Message, 40)
	if v.Status == task.StatusFailed {
		msg = truncate(firstLine(v.Error), 40)
	}
	return fmt.Sprintf("%s%s %s %s %s", cursor, badge, m.bar.ViewAs(float64(v.Progress)/100), name, mutedStyle.Render(msg))
}

func details(v task.View) string {
	lines := []string{"url: " + v.URL}
	if v.OutputFile != "" {
		lines = append(lines, "file: "+v.OutputFile)
	}
	if v.Metadata != nil {
		md := *v.Metadata
		for _, k := range []string{"author", "narrator", "year", "duration", "size"} {
			if md[k] != "" {
				lines = append(lines, k+": "+md[k])
			}
		}
	}
	if v.Error != "" {
		lines = append(lines, "error: "+v.Error)
	}
	if v.Duration != nil {
		lines = append(lines, fmt.Sprintf("took: %.1fs", *v.Duration))
	}
	return strings.Join(lines, "\n")
}

func displayName(v task.View) string {
	if v.Metadata != nil {
		if t := (*v.Metadata)["title"]; t != "" {
			return t
		}
	}
	return v.URL
}

func groupOf(groups []client.Group, id string) string {
	for _, g := range groups {
		for _, tid := range g.TaskIDs {
			if tid == id {
				return g.Author
			}
		}
	}
	return ""
}

func fetchCmd(api *client.API, gen int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestLimit)
		defer cancel()
		list, raw, err := api.Tasks(ctx)
		return tasksMsg{gen: gen, list: list, raw: raw, err: err}
	}
}

func tickCmd(d time.Duration, gen int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return tickMsg{gen: gen} })
}

func actionCmd(name, id string, fn func(context.Context, string) (client.ActionResult, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestLimit)
		defer cancel()
		res, err := fn(ctx, id)
		if err != nil {
			return actionMsg{err: err}
		}
		if !res.Applied() {
			return actionMsg{text: fmt.Sprintf("%s: %s", name, res.Reason)}
		}
		return actionMsg{text: fmt.Sprintf("%s: %s", name, res.Status)}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
