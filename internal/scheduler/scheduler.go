// Package scheduler debounces scan tasks per path and drains them through a
// single loop, all high priority tasks before any low priority one.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/0x5457/fn-index/internal/models"
)

const DefaultDebounce = 2 * time.Second

// Handler runs one task. It may block; the drain loop waits for it.
type Handler func(ctx context.Context, task models.Task)

type Options struct {
	// Debounce is the quiet period before a task becomes ready. Zero makes
	// tasks ready immediately.
	Debounce time.Duration
	// MaxHighBurst, when positive, lets one waiting low priority task run
	// after that many consecutive high priority tasks.
	MaxHighBurst int
}

type pending struct {
	task  models.Task
	timer *time.Timer
	gen   uint64
}

type Scheduler struct {
	opt     Options
	handler Handler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	timers   map[string]*pending
	high     []models.Task
	low      []models.Task
	gen      uint64
	draining bool
	running  int
	burst    int
	stopped  bool
}

func New(opt Options, handler Handler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opt:     opt,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[string]*pending),
	}
}

// Enqueue schedules task after the debounce period. A task already waiting
// for the same path is replaced and its timer restarted; the replacement
// keeps the higher of the two priorities and the wider extension filter.
func (s *Scheduler) Enqueue(task models.Task) {
	if task.Priority == "" {
		task.Priority = models.PriorityLow
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.timers[task.FilePath]; ok {
		prev.timer.Stop()
		task.Priority = task.Priority.Higher(prev.task.Priority)
		task.InitialLoad = task.InitialLoad || prev.task.InitialLoad
		task.Extension = widerExtension(task.Extension, prev.task.Extension)
	}
	s.gen++
	p := &pending{task: task, gen: s.gen}
	path, gen := task.FilePath, s.gen
	p.timer = time.AfterFunc(s.delay(task), func() { s.fire(path, gen) })
	s.timers[path] = p
}

// delay is the debounce for task. Explicit full scans are not edit bursts
// and become ready at once.
func (s *Scheduler) delay(task models.Task) time.Duration {
	if task.Source == models.SourceCommand || task.Source == models.SourceInitialLoad {
		return 0
	}
	return max(s.opt.Debounce, 0)
}

func (s *Scheduler) fire(path string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.timers[path]
	if !ok || p.gen != gen || s.stopped {
		return
	}
	delete(s.timers, path)
	s.push(p.task)
	s.kick()
}

// push appends task to its lane, or updates the task already queued there
// for the same path.
func (s *Scheduler) push(task models.Task) {
	lane := &s.low
	if task.Priority == models.PriorityHigh {
		lane = &s.high
	}
	for i := range *lane {
		if (*lane)[i].FilePath == task.FilePath {
			task.InitialLoad = task.InitialLoad || (*lane)[i].InitialLoad
			task.Extension = widerExtension(task.Extension, (*lane)[i].Extension)
			(*lane)[i] = task
			return
		}
	}
	*lane = append(*lane, task)
}

// widerExtension returns a filter covering both a and b.
func widerExtension(a, b string) string {
	if a == b {
		return a
	}
	return models.ExtensionAll
}

func (s *Scheduler) kick() {
	if s.draining || s.stopped {
		return
	}
	s.draining = true
	s.wg.Add(1)
	go s.drain()
}

func (s *Scheduler) drain() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		task, ok := s.pop()
		if !ok || s.stopped {
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.running++
		s.mu.Unlock()

		s.run(task)

		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}
}

func (s *Scheduler) run(task models.Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked",
				slog.String("path", task.FilePath), slog.Any("panic", r))
		}
	}()
	s.handler(s.ctx, task)
}

func (s *Scheduler) pop() (models.Task, bool) {
	starving := s.opt.MaxHighBurst > 0 && s.burst >= s.opt.MaxHighBurst && len(s.low) > 0
	if len(s.high) > 0 && !starving {
		t := s.high[0]
		s.high = s.high[1:]
		s.burst++
		return t, true
	}
	s.burst = 0
	if len(s.low) > 0 {
		t := s.low[0]
		s.low = s.low[1:]
		return t, true
	}
	return models.Task{}, false
}

// Pending counts debouncing, queued and running tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers) + len(s.high) + len(s.low) + s.running
}

// Ready counts tasks waiting in the lanes.
func (s *Scheduler) Ready() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.high) + len(s.low)
}

// Stop cancels pending timers, drops queued tasks and waits for the running
// task to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for path, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, path)
	}
	s.high, s.low = nil, nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
