package watch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Slade66/audiobook-fetcher/pkg/task"
)

func snapshot(t *testing.T, views ...task.View) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"tasks": views})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func view(id string, st task.Status, progress int) task.View {
	return task.View{ID: id, URL: "https://www.storytel.com/" + id, Status: st, Progress: progress}
}

func TestReconciler_ChangeDetectionAndBackoff(t *testing.T) {
	r := NewReconciler(time.Second, 4*time.Second)
	views := []task.View{view("a", task.StatusDownloading, 10)}
	raw := snapshot(t, views...)

	res := r.Observe(raw, views)
	if !res.Changed || !res.Poll || res.Next != time.Second {
		t.Fatalf("first snapshot: %+v", res)
	}

	wantNext := []time.Duration{2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, want := range wantNext {
		res = r.Observe(raw, views)
		if res.Changed {
			t.Fatalf("round %d: identical snapshot reported as changed", i)
		}
		if res.Next != want {
			t.Errorf("round %d: next = %s, want %s", i, res.Next, want)
		}
	}

	views = []task.View{view("a", task.StatusDownloading, 20)}
	res = r.Observe(snapshot(t, views...), views)
	if !res.Changed || res.Next != time.Second {
		t.Errorf("a change must reset the interval: %+v", res)
	}

	r.Observe(raw, views)
	r.Reset()
	if r.Interval() != time.Second {
		t.Errorf("Reset must restore the fastest interval, got %s", r.Interval())
	}
}

func TestReconciler_StopsWhenAllTerminal(t *testing.T) {
	r := NewReconciler(time.Second, 5*time.Second)
	views := []task.View{view("a", task.StatusCompleted, 100), view("b", task.StatusFailed, 30)}
	if res := r.Observe(snapshot(t, views...), views); res.Poll {
		t.Error("polling must stop when no task is pending or downloading")
	}
	views = append(views, view("c", task.StatusPending, 0))
	if res := r.Observe(snapshot(t, views...), views); !res.Poll {
		t.Error("polling must resume when a task is active")
	}
	if res := r.Observe(nil, nil); res.Poll {
		t.Error("empty list must not keep polling")
	}
}

func TestReconciler_NotifiesOncePerTask(t *testing.T) {
	r := NewReconciler(time.Second, 5*time.Second)

	// 首个快照中已经结束的任务不通知
	s1 := []task.View{view("old", task.StatusCompleted, 100), view("a", task.StatusDownloading, 50)}
	if res := r.Observe(snapshot(t, s1...), s1); len(res.Finished) != 0 {
		t.Fatalf("initial terminal tasks must not notify: %+v", res.Finished)
	}

	s2 := []task.View{view("old", task.StatusCompleted, 100), view("a", task.StatusCompleted, 100)}
	res := r.Observe(snapshot(t, s2...), s2)
	if len(res.Finished) != 1 || res.Finished[0].ID != "a" {
		t.Fatalf("expected notification for a, got %+v", res.Finished)
	}

	// 其他字段变化不会重复通知
	s3 := []task.View{view("old", task.StatusCompleted, 100), view("a", task.StatusCompleted, 100), view("b", task.StatusPending, 0)}
	if res := r.Observe(snapshot(t, s3...), s3); len(res.Finished) != 0 {
		t.Errorf("a must only notify once, got %+v", res.Finished)
	}

	// 直接以终态出现的新任务（跳过已下载）也会通知
	s4 := append(s3, view("skip", task.StatusCompleted, 100))
	if res := r.Observe(snapshot(t, s4...), s4); len(res.Finished) != 1 || res.Finished[0].ID != "skip" {
		t.Errorf("expected notification for skip, got %+v", res.Finished)
	}
}
