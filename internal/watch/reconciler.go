// internal/watch/reconciler.go
package watch

import (
	"hash/fnv"
	"time"

	"github.com/Slade66/audiobook-fetcher/pkg/task"
)

const (
	MinInterval = 1 * time.Second
	MaxInterval = 5 * time.Second
)

// Reconciler 维护客户端看到的最后一份快照。
// 只有快照变化时才需要重绘；没有未结束的任务时轮询停止，直到用户操作后重新开始。
type Reconciler struct {
	min, max time.Duration
	interval time.Duration

	seen     bool
	lastHash uint64
	status   map[string]task.Status
	notified map[string]bool
}

// NewReconciler 创建一个间隔在 [min, max] 之间自适应的调和器
func NewReconciler(fastest, slowest time.Duration) *Reconciler {
	if fastest <= 0 {
		fastest = MinInterval
	}
	if slowest < fastest {
		slowest = fastest
	}
	return &Reconciler{
		min:      fastest,
		max:      slowest,
		interval: fastest,
		status:   map[string]task.Status{},
		notified: map[string]bool{},
	}
}

// Result 是一次调和的结论
type Result struct {
	// Changed 为 true 时界面需要重绘
	Changed bool

	// Finished 是本次快照中新进入终态、且尚未通知过的任务
	Finished []task.View

	// Poll 为 false 时应停止轮询
	Poll bool

	// Next 是下一次轮询前的等待时间
	Next time.Duration
}

// Observe 用新的响应体和解析后的任务列表推进调和状态
func (r *Reconciler) Observe(raw []byte, views []task.View) Result {
	h := fnv.New64a()
	h.Write(raw)
	sum := h.Sum64()

	first := !r.seen
	changed := first || sum != r.lastHash
	r.seen = true
	r.lastHash = sum

	var res Result
	res.Changed = changed
	if changed {
		res.Finished = r.transitions(views, first)
		r.interval = r.min
	} else {
		// 没有变化时逐步放慢
		r.interval *= 2
		if r.interval > r.max {
			r.interval = r.max
		}
	}
	res.Poll = anyActive(views)
	res.Next = r.interval
	return res
}

// Reset 在用户操作后调用，下一次轮询立即恢复最快速度
func (r *Reconciler) Reset() {
	r.interval = r.min
}

// Interval 返回当前的轮询间隔
func (r *Reconciler) Interval() time.Duration {
	return r.interval
}

// transitions 找出新进入终态的任务。首个快照中已结束的任务只记录不通知，
// 每个任务最多通知一次。
func (r *Reconciler) transitions(views []task.View, first bool) []task.View {
	var out []task.View
	present := make(map[string]bool, len(views))
	for _, v := range views {
		present[v.ID] = true
		prev, known := r.status[v.ID]
		r.status[v.ID] = v.Status
		if !v.Status.IsTerminal() || r.notified[v.ID] {
			continue
		}
		r.notified[v.ID] = true
		if first || (known && prev.IsTerminal()) {
			continue
		}
		out = append(out, v)
	}
	for id := range r.status {
		if !present[id] {
			delete(r.status, id)
			delete(r.notified, id)
		}
	}
	return out
}

func anyActive(views []task.View) bool {
	for _, v := range views {
		if !v.Status.IsTerminal() {
			return true
		}
	}
	return false
}
