package watch

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Slade66/audiobook-fetcher/internal/client"
	"github.com/Slade66/audiobook-fetcher/pkg/task"
	tea "github.com/charmbracelet/bubbletea"
)

func newTestModel() Model {
	return NewModel(nil, NewReconciler(time.Second, 5*time.Second))
}

func feed(t *testing.T, m Model, list client.TaskList) (Model, tea.Cmd) {
	t.Helper()
	model, cmd := m.Update(tasksMsg{gen: m.gen, list: list, raw: snapshot(t, list.Tasks...)})
	return model.(Model), cmd
}

func TestModel_PollingFollowsActivity(t *testing.T) {
	m := newTestModel()
	m, cmd := feed(t, m, client.TaskList{Tasks: []task.View{view("a", task.StatusDownloading, 40)}})
	if !m.polling || cmd == nil {
		t.Fatal("active tasks must schedule another poll")
	}
	if !strings.Contains(m.View(), "polling every") {
		t.Errorf("view must show polling state:\n%s", m.View())
	}

	m, cmd = feed(t, m, client.TaskList{Tasks: []task.View{view("a", task.StatusCompleted, 100)}})
	if m.polling || cmd != nil {
		t.Fatal("polling must stop once every task is terminal")
	}
	if len(m.notices) != 1 || !strings.Contains(m.notices[0], "completed") {
		t.Errorf("expected a completion notice, got %v", m.notices)
	}

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	m2 := model.(Model)
	if !m2.polling || cmd == nil || m2.gen != m.gen+1 {
		t.Error("refresh must restart polling with a new generation")
	}
}

func TestModel_IgnoresStaleMessages(t *testing.T) {
	m := newTestModel()
	m.gen = 2
	model, cmd := m.Update(tickMsg{gen: 1})
	if cmd != nil {
		t.Error("stale tick must be ignored")
	}
	model, cmd = model.(Model).Update(tasksMsg{gen: 1, list: client.TaskList{Tasks: []task.View{view("a", task.StatusPending, 0)}}})
	if cmd != nil || len(model.(Model).order) != 0 {
		t.Error("stale response must be ignored")
	}
}

func TestModel_FetchErrorKeepsRetrying(t *testing.T) {
	m := newTestModel()
	model, cmd := m.Update(tasksMsg{gen: m.gen, err: errors.New("connection refused")})
	m = model.(Model)
	if cmd == nil || m.err == nil {
		t.Fatal("fetch errors must be shown and retried")
	}
	if !strings.Contains(m.View(), "connection refused") {
		t.Errorf("error not rendered:\n%s", m.View())
	}
}

func TestModel_NavigationAndDetails(t *testing.T) {
	m := newTestModel()
	done := view("b", task.StatusCompleted, 100)
	done.OutputFile = "Jane Doe/Book.m4b"
	done.Metadata = &task.Metadata{"title": "Book", "author": "Jane Doe"}
	m, _ = feed(t, m, client.TaskList{Tasks: []task.View{view("a", task.StatusDownloading, 10), done}})

	key := func(m Model, k tea.KeyMsg) Model {
		model, _ := m.Update(k)
		return model.(Model)
	}
	m = key(m, tea.KeyMsg{Type: tea.KeyDown})
	m = key(m, tea.KeyMsg{Type: tea.KeyDown})
	if m.selectedID() != "b" {
		t.Fatalf("cursor must stop at the last task, got %q", m.selectedID())
	}
	m = key(m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.expanded["b"] || !strings.Contains(m.View(), "file: Jane Doe/Book.m4b") {
		t.Errorf("enter must expand details:\n%s", m.View())
	}
	m = key(m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.expanded["b"] {
		t.Error("second enter must collapse details")
	}
	m = key(m, tea.KeyMsg{Type: tea.KeyUp})
	if m.selectedID() != "a" {
		t.Errorf("expected cursor on a, got %q", m.selectedID())
	}
}

func TestModel_GroupedOrderKeepsSelection(t *testing.T) {
	m := newTestModel()
	tasks := []task.View{view("a", task.StatusPending, 0), view("b", task.StatusPending, 0), view("c", task.StatusPending, 0)}
	m, _ = feed(t, m, client.TaskList{Tasks: tasks})
	m.cursor = 1

	grouped := client.TaskList{
		Tasks: append(tasks, view("d", task.StatusPending, 0)),
		Groups: []client.Group{
			{Author: "Jane Doe", TaskIDs: []string{"a", "c"}},
			{Author: "Unknown Author", TaskIDs: []string{"b", "d"}},
		},
	}
	m, _ = feed(t, m, grouped)
	if got := strings.Join(m.order, ","); got != "a,c,b,d" {
		t.Errorf("grouped order = %s", got)
	}
	if m.selectedID() != "b" {
		t.Errorf("selection must follow the task, got %q", m.selectedID())
	}
	out := m.View()
	if !strings.Contains(out, "Jane Doe") || !strings.Contains(out, "Unknown Author") {
		t.Errorf("group headings missing:\n%s", out)
	}
}

func TestModel_QuitKeys(t *testing.T) {
	m := newTestModel()
	for _, k := range []tea.KeyMsg{{Type: tea.KeyRunes, Runes: []rune{'q'}}, {Type: tea.KeyCtrlC}} {
		_, cmd := m.Update(k)
		if cmd == nil {
			t.Fatalf("%s must quit", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s must return tea.Quit", k)
		}
	}
}
