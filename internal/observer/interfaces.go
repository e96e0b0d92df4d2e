// internal/observer/interfaces.go
package observer

import "github.com/Slade66/audiobook-fetcher/pkg/task"

// Observer 观察者接口，每次任务记录变化后收到一份快照。
// 实现不能阻塞，也不能回调 Store。
type Observer interface {
	Update(t task.Task)
	Remove(taskID string)
}

// Observable 被观察者（主题）接口
type Observable interface {
	AddObserver(o Observer)
}
