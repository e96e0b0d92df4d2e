// internal/observer/redis_mirror.go
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/Slade66/audiobook-fetcher/pkg/task"
	"github.com/redis/go-redis/v9"
)

const (
	// EventStreamName 是终态事件写入的 Redis Stream
	EventStreamName = "audiobook_tasks"
	// statusTTL 之后镜像记录自动过期
	statusTTL = 24 * time.Hour
	mirrorBuf = 256
)

// mirrorOp 是排队等待写入 Redis 的一次变更
type mirrorOp struct {
	task    task.Task
	removed string
}

// RedisMirror 把任务快照单向写入 Redis，供外部系统订阅。
// 它从不读回数据，重启后的任务恢复不依赖它。
type RedisMirror struct {
	rdb *redis.Client
	ops chan mirrorOp
}

// NewRedisMirror 创建一个新的镜像观察者，需要调用 Run 才会真正写入
func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{
		rdb: rdb,
		ops: make(chan mirrorOp, mirrorBuf),
	}
}

// taskKey 返回一个任务状态在Redis中的键名
func taskKey(taskID string) string {
	return fmt.Sprintf("task:status:%s", taskID)
}

// Update 实现了 Observer 接口。队列满时丢弃并记录日志，不阻塞 Store。
func (m *RedisMirror) Update(t task.Task) {
	select {
	case m.ops <- mirrorOp{task: t}:
	default:
		log.Printf("⚠️ Redis 镜像队列已满，丢弃任务 %s 的更新", t.ID)
	}
}

// Remove 实现了 Observer 接口
func (m *RedisMirror) Remove(taskID string) {
	select {
	case m.ops <- mirrorOp{removed: taskID}:
	default:
		log.Printf("⚠️ Redis 镜像队列已满，丢弃任务 %s 的删除", taskID)
	}
}

// Run 持续把排队的变更写入 Redis，直到 ctx 结束
func (m *RedisMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-m.ops:
			if err := m.apply(ctx, op); err != nil {
				log.Printf("⚠️ 写入 Redis 镜像失败: %v", err)
			}
		}
	}
}

func (m *RedisMirror) apply(ctx context.Context, op mirrorOp) error {
	if op.removed != "" {
		return m.rdb.Del(ctx, taskKey(op.removed)).Err()
	}

	t := op.task
	key := taskKey(t.ID)
	fields, err := taskToMap(task.NewView(t))
	if err != nil {
		return err
	}

	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, statusTTL)
	if t.Status.IsTerminal() {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: EventStreamName,
			Values: map[string]interface{}{
				"task_id": t.ID,
				"status":  t.Status.String(),
				"url":     t.URL,
			},
		})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// taskToMap 把任务视图转换为 map，嵌套字段序列化为 JSON 字符串
func taskToMap(v task.View) (map[string]interface{}, error) {
	// 使用 json 标签来控制键名
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(raw))
	for k, val := range raw {
		switch vv := val.(type) {
		case string:
			// 删除空的字段，避免在 Redis 中存储空值
			if vv == "" {
				continue
			}
			out[k] = vv
		case map[string]interface{}, []interface{}:
			b, err := json.Marshal(vv)
			if err != nil {
				return nil, err
			}
			out[k] = string(b)
		case nil:
			continue
		default:
			out[k] = fmt.Sprint(vv)
		}
	}
	return out, nil
}
