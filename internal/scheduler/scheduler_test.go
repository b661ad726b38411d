package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/0x5457/fn-index/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu    sync.Mutex
	tasks []models.Task
}

func (r *recorder) handle(_ context.Context, task models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.FilePath
	}
	return out
}

func task(path string, p models.Priority) models.Task {
	return models.Task{FilePath: path, Priority: p, Extension: models.ExtensionAll}
}

func TestBurstOfEnqueuesCoalesces(t *testing.T) {
	rec := &recorder{}
	s := New(Options{Debounce: 50 * time.Millisecond}, rec.handle, nil)
	defer s.Stop()

	for range 3 {
		s.Enqueue(task("/ws/a.py", models.PriorityLow))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(rec.paths()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"/ws/a.py"}, rec.paths())
	assert.Equal(t, 0, s.Pending())
}

func TestHighLaneDrainsFirst(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	handler := func(ctx context.Context, tk models.Task) {
		if tk.FilePath == "/ws/blocker" {
			once.Do(func() { close(started) })
			<-release
		}
		rec.handle(ctx, tk)
	}
	s := New(Options{Debounce: time.Millisecond}, handler, nil)
	defer s.Stop()

	s.Enqueue(task("/ws/blocker", models.PriorityLow))
	<-started

	s.Enqueue(task("/ws/low.py", models.PriorityLow))
	s.Enqueue(task("/ws/high.py", models.PriorityHigh))
	require.Eventually(t, func() bool { return s.Ready() == 2 }, time.Second, time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return len(rec.paths()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"/ws/blocker", "/ws/high.py", "/ws/low.py"}, rec.paths())
}

func TestFIFOWithinLane(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	handler := func(ctx context.Context, tk models.Task) {
		if tk.FilePath == "/ws/blocker" {
			once.Do(func() { close(started) })
			<-release
		}
		rec.handle(ctx, tk)
	}
	s := New(Options{}, handler, nil)
	defer s.Stop()

	s.Enqueue(task("/ws/blocker", models.PriorityHigh))
	<-started
	for i, p := range []string{"/ws/1", "/ws/2", "/ws/3"} {
		s.Enqueue(task(p, models.PriorityHigh))
		require.Eventually(t, func() bool { return s.Ready() == i+1 }, time.Second, time.Millisecond)
	}
	close(release)

	require.Eventually(t, func() bool { return len(rec.paths()) == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"/ws/blocker", "/ws/1", "/ws/2", "/ws/3"}, rec.paths())
}

func TestCoalescingKeepsHigherPriority(t *testing.T) {
	rec := &recorder{}
	s := New(Options{Debounce: 30 * time.Millisecond}, rec.handle, nil)
	defer s.Stop()

	s.Enqueue(models.Task{FilePath: "/ws/a.py", Priority: models.PriorityHigh, InitialLoad: true})
	s.Enqueue(task("/ws/a.py", models.PriorityLow))

	require.Eventually(t, func() bool { return len(rec.paths()) == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, models.PriorityHigh, rec.tasks[0].Priority)
	assert.True(t, rec.tasks[0].InitialLoad)
}

func TestCoalescingWidensExtension(t *testing.T) {
	rec := &recorder{}
	s := New(Options{Debounce: 30 * time.Millisecond}, rec.handle, nil)
	defer s.Stop()

	s.Enqueue(task("/ws/pkg", models.PriorityLow))
	s.Enqueue(models.Task{FilePath: "/ws/pkg", Priority: models.PriorityHigh, Extension: ".py"})

	require.Eventually(t, func() bool { return len(rec.paths()) == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, models.ExtensionAll, rec.tasks[0].Extension)
	assert.Equal(t, models.PriorityHigh, rec.tasks[0].Priority)
}

func TestQueuedTaskWidensExtension(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	handler := func(ctx context.Context, tk models.Task) {
		if tk.FilePath == "/ws/blocker" {
			once.Do(func() { close(started) })
			<-release
		}
		rec.handle(ctx, tk)
	}
	s := New(Options{}, handler, nil)
	defer s.Stop()

	s.Enqueue(task("/ws/blocker", models.PriorityHigh))
	<-started

	s.Enqueue(task("/ws/pkg", models.PriorityHigh))
	require.Eventually(t, func() bool { return s.Ready() == 1 }, time.Second, time.Millisecond)
	s.Enqueue(models.Task{FilePath: "/ws/pkg", Priority: models.PriorityHigh, Extension: ".go"})
	require.Eventually(t, func() bool { return s.Pending() == 2 }, time.Second, time.Millisecond)
	close(release)

	require.Eventually(t, func() bool { return len(rec.paths()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.tasks, 2)
	assert.Equal(t, "/ws/pkg", rec.tasks[1].FilePath)
	assert.Equal(t, models.ExtensionAll, rec.tasks[1].Extension)
}

func TestMaxHighBurstLetsLowThrough(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	handler := func(ctx context.Context, tk models.Task) {
		if tk.FilePath == "/ws/blocker" {
			once.Do(func() { close(started) })
			<-release
		}
		rec.handle(ctx, tk)
	}
	s := New(Options{MaxHighBurst: 2}, handler, nil)
	defer s.Stop()

	s.Enqueue(task("/ws/blocker", models.PriorityLow))
	<-started
	s.Enqueue(task("/ws/low", models.PriorityLow))
	for _, p := range []string{"/ws/h1", "/ws/h2", "/ws/h3"} {
		s.Enqueue(task(p, models.PriorityHigh))
	}
	require.Eventually(t, func() bool { return s.Ready() == 4 }, time.Second, time.Millisecond)
	close(release)

	require.Eventually(t, func() bool { return len(rec.paths()) == 5 }, time.Second, time.Millisecond)
	got := rec.paths()
	assert.Equal(t, "/ws/low", got[3], "low task runs after two high tasks: %v", got)
}

func TestStopDropsPendingTasks(t *testing.T) {
	rec := &recorder{}
	s := New(Options{Debounce: time.Hour}, rec.handle, nil)
	s.Enqueue(task("/ws/a.py", models.PriorityHigh))
	assert.Equal(t, 1, s.Pending())

	s.Stop()
	assert.Equal(t, 0, s.Pending())
	s.Enqueue(task("/ws/b.py", models.PriorityHigh))
	assert.Equal(t, 0, s.Pending())
	assert.Empty(t, rec.paths())
}

func TestStopCancelsRunningHandler(t *testing.T) {
	started := make(chan struct{})
	s := New(Options{}, func(ctx context.Context, _ models.Task) {
		close(started)
		<-ctx.Done()
	}, nil)
	s.Enqueue(task("/ws/a.py", models.PriorityLow))
	<-started
	s.Stop()
}

func TestCommandTasksSkipDebounce(t *testing.T) {
	rec := &recorder{}
	s := New(Options{Debounce: time.Hour}, rec.handle, nil)
	defer s.Stop()

	full := task("/ws", models.PriorityLow)
	full.Source = models.SourceCommand
	s.Enqueue(full)
	s.Enqueue(task("/ws/a.py", models.PriorityHigh))

	require.Eventually(t, func() bool { return len(rec.paths()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"/ws"}, rec.paths())
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, 5*time.Millisecond)
}
