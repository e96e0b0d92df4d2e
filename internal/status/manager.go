// internal/status/manager.go
package status

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Slade66/audiobook-fetcher/internal/observer"
	"github.com/Slade66/audiobook-fetcher/pkg/task"
	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound 表示 Store 中没有这个 id
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskActive 表示任务仍处于 pending / downloading，不能删除
	ErrTaskActive = errors.New("task is still active")
)

// Manager 是所有任务记录的唯一持有者（进程内存）。
// 所有读都返回快照，所有写都经过 Update 完成，不存在部分可见的中间状态。
type Manager struct {
	mu        sync.RWMutex
	tasks     map[string]*task.Task
	seq       uint64
	observers []observer.Observer
	now       func() time.Time

	// emitMu 保证观察者收到快照的顺序与提交顺序一致
	emitMu sync.Mutex
}

// NewManager 创建一个新的状态管理器实例
func NewManager() *Manager {
	return &Manager{
		tasks: make(map[string]*task.Task),
		now:   time.Now,
	}
}

// AddObserver 实现了 Observable 接口。观察者在 Store 的锁外被调用，但调用按提交顺序串行。
func (m *Manager) AddObserver(o observer.Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Create 新建一个 pending 任务并返回它的快照
func (m *Manager) Create(url string, opts task.Options) task.Task {
	m.mu.Lock()
	m.seq++
	t := &task.Task{
		ID:        uuid.NewString(),
		URL:       url,
		Status:    task.StatusPending,
		Message:   "Waiting to start...",
		CreatedAt: m.now().UTC(),
		Options:   opts,
		Seq:       m.seq,
	}
	m.tasks[t.ID] = t
	snapshot := t.Clone()
	m.emitLocked(func(o observer.Observer) { o.Update(snapshot) })
	return snapshot
}

// Get 返回任务快照
func (m *Manager) Get(id string) (task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// List 按提交顺序返回所有任务的快照
func (m *Manager) List() []task.Task {
	m.mu.RLock()
	out := make([]task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Update 在写锁内对任务的副本执行 fn，fn 返回 nil 时才整体提交。
// 这样读者要么看到修改前的记录，要么看到修改后的记录。
func (m *Manager) Update(id string, fn func(t *task.Task) error) (task.Task, error) {
	m.mu.Lock()
	cur, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return task.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		return cur.Clone(), err
	}
	m.tasks[id] = &next
	snapshot := next.Clone()
	m.emitLocked(func(o observer.Observer) { o.Update(snapshot) })
	return snapshot, nil
}

// Remove 删除一个终态任务
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !t.Status.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s (%s)", ErrTaskActive, id, t.Status)
	}
	delete(m.tasks, id)
	m.emitLocked(func(o observer.Observer) { o.Remove(id) })
	return nil
}

// ClearTerminal 删除所有终态任务，返回删除的数量
func (m *Manager) ClearTerminal() int {
	m.mu.Lock()
	var removed []string
	for id, t := range m.tasks {
		if t.Status.IsTerminal() {
			delete(m.tasks, id)
			removed = append(removed, id)
		}
	}
	m.emitLocked(func(o observer.Observer) {
		for _, id := range removed {
			o.Remove(id)
		}
	})
	return len(removed)
}

// emitLocked 必须在持有写锁时调用：先拿到 emitMu 再释放写锁，然后通知观察者。
// 后提交的变更要等前一次通知结束才能开始通知，读者则不必等待。
func (m *Manager) emitLocked(fn func(o observer.Observer)) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	observers := m.observers
	m.mu.Unlock()

	for _, o := range observers {
		fn(o)
	}
}

// Counts 按状态统计任务数量
func (m *Manager) Counts() map[task.Status]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[task.Status]int)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	return counts
}
