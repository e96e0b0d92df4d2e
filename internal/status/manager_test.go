package status

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Slade66/audiobook-fetcher/pkg/task"
)

type recordingObserver struct {
	mu      sync.Mutex
	updates []task.Task
	removed []string
}

func (r *recordingObserver) Update(t task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, t)
}

func (r *recordingObserver) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func TestCreateAndGet(t *testing.T) {
	m := NewManager()
	created := m.Create("https://www.storytel.com/books/1", task.Options{Combine: true})

	if created.ID == "" {
		t.Fatal("expected a task id")
	}
	if created.Status != task.StatusPending || created.Progress != 0 {
		t.Errorf("unexpected initial state: %+v", created)
	}

	got, err := m.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.URL != created.URL || !got.Options.Combine {
		t.Errorf("Get returned %+v", got)
	}

	if _, err := m.Get("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestList_SubmissionOrder(t *testing.T) {
	m := NewManager()
	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, m.Create("u", task.Options{}).ID)
	}
	list := m.List()
	if len(list) != len(ids) {
		t.Fatalf("expected %d tasks, got %d", len(ids), len(list))
	}
	for i, tk := range list {
		if tk.ID != ids[i] {
			t.Fatalf("position %d: got %s, expected %s", i, tk.ID, ids[i])
		}
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	m := NewManager()
	id := m.Create("u", task.Options{}).ID

	boom := errors.New("boom")
	_, err := m.Update(id, func(tk *task.Task) error {
		tk.Message = "half written"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := m.Get(id)
	if got.Message == "half written" {
		t.Fatal("failed update must not be visible")
	}

	_, err = m.Update(id, func(tk *task.Task) error {
		return tk.Fail(time.Now(), "x")
	})
	if !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("pending -> failed must be rejected, got %v", err)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	m := NewManager()
	id := m.Create("u", task.Options{}).ID
	_, err := m.Update(id, func(tk *task.Task) error {
		if err := tk.Start(time.Now()); err != nil {
			return err
		}
		return tk.Complete(time.Now(), "a.m4b", task.Metadata{"title": "A"})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap, _ := m.Get(id)
	snap.Metadata["title"] = "changed"
	again, _ := m.Get(id)
	if again.Metadata["title"] != "A" {
		t.Fatal("mutating a snapshot changed the stored record")
	}
}

func TestRemoveAndClear(t *testing.T) {
	m := NewManager()
	obs := &recordingObserver{}
	m.AddObserver(obs)

	active := m.Create("a", task.Options{}).ID
	done := m.Create("b", task.Options{}).ID
	cancelled := m.Create("c", task.Options{}).ID
	m.Update(done, func(tk *task.Task) error { return tk.Complete(time.Now(), "", nil) })
	m.Update(cancelled, func(tk *task.Task) error { return tk.Cancel(time.Now()) })

	if err := m.Remove(active); !errors.Is(err, ErrTaskActive) {
		t.Errorf("expected ErrTaskActive, got %v", err)
	}
	if err := m.Remove(done); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if err := m.Remove(done); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if n := m.ClearTerminal(); n != 1 {
		t.Errorf("expected 1 cleared task, got %d", n)
	}
	if list := m.List(); len(list) != 1 || list[0].ID != active {
		t.Errorf("unexpected remaining tasks: %+v", list)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.updates) != 5 {
		t.Errorf("expected 5 observer updates, got %d", len(obs.updates))
	}
	if len(obs.removed) != 2 {
		t.Errorf("expected 2 observer removals, got %d", len(obs.removed))
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := NewManager()
	id := m.Create("u", task.Options{}).ID
	m.Update(id, func(tk *task.Task) error { return tk.Start(time.Now()) })

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(p int) {
			defer wg.Done()
			m.Update(id, func(tk *task.Task) error {
				tk.SetProgress(p)
				return nil
			})
		}(i)
		go func() {
			defer wg.Done()
			_ = m.List()
		}()
	}
	wg.Wait()

	got, _ := m.Get(id)
	if got.Progress != 50 {
		t.Errorf("expected final progress 50, got %d", got.Progress)
	}
	if m.Counts()[task.StatusDownloading] != 1 {
		t.Errorf("unexpected counts %v", m.Counts())
	}
}

// gateObserver 在收到指定进度的快照时阻塞，直到 release 被关闭
type gateObserver struct {
	recordingObserver
	progress int
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (g *gateObserver) Update(t task.Task) {
	if t.Status == task.StatusDownloading && t.Progress == g.progress {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	g.recordingObserver.Update(t)
}

func TestObserversSeeCommitOrder(t *testing.T) {
	m := NewManager()
	created := m.Create("https://www.storytel.com/x", task.Options{})
	if _, err := m.Update(created.ID, func(tk *task.Task) error { return tk.Start(time.Now()) }); err != nil {
		t.Fatal(err)
	}

	gate := &gateObserver{progress: 40, entered: make(chan struct{}), release: make(chan struct{})}
	m.AddObserver(gate)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Update(created.ID, func(tk *task.Task) error {
			tk.SetProgress(40)
			return nil
		})
	}()
	<-gate.entered

	// 进度快照还在通知途中，此时提交取消
	cancelled := make(chan struct{})
	go func() {
		defer wg.Done()
		m.Update(created.ID, func(tk *task.Task) error { return tk.Cancel(time.Now()) })
		close(cancelled)
	}()
	select {
	case <-cancelled:
		t.Fatal("cancel notification must wait for the earlier progress notification")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)
	wg.Wait()

	gate.mu.Lock()
	defer gate.mu.Unlock()
	if len(gate.updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(gate.updates))
	}
	if gate.updates[0].Status != task.StatusDownloading || gate.updates[1].Status != task.StatusCancelled {
		t.Errorf("observer order = [%s %s], expected [downloading cancelled]", gate.updates[0].Status, gate.updates[1].Status)
	}
	if got, _ := m.Get(created.ID); got.Status != task.StatusCancelled {
		t.Errorf("store status = %s", got.Status)
	}
}
