package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/0x5457/fn-index/internal/bus"
)

const (
	DefaultHealthTimeout = 10 * time.Second
	minQueueSize         = 16
)

var ErrUnresponsive = errors.New("extraction worker unresponsive")

// SpawnFunc starts a worker generation serving port until ctx is done.
type SpawnFunc func(ctx context.Context, port bus.Port, generation uint64)

// Supervisor owns the extraction worker goroutine and replaces it when it
// stops answering pings.
type Supervisor struct {
	spawn     SpawnFunc
	timeout   time.Duration
	queueSize int
	logger    *slog.Logger
	onRestart func(outstanding int)

	out chan bus.Message

	mu       sync.Mutex
	port     bus.Port
	cancel   context.CancelFunc
	gen      uint64
	pingID   uint64
	pongs    map[uint64]chan struct{}
	sticky   map[bus.Type]bus.Message
	inflight map[string]*outstanding
	restarts int
	stopped  bool
	wg       sync.WaitGroup
}

func NewSupervisor(spawn SpawnFunc, timeout time.Duration, queueSize int, logger *slog.Logger) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	queueSize = max(queueSize, minQueueSize)
	return &Supervisor{
		spawn:     spawn,
		timeout:   timeout,
		queueSize: queueSize,
		logger:    logger,
		out:       make(chan bus.Message, queueSize),
		pongs:     make(map[uint64]chan struct{}),
		sticky:    make(map[bus.Type]bus.Message),
		inflight:  make(map[string]*outstanding),
	}
}

// outstanding is an extraction request the current worker has not answered.
type outstanding struct {
	msg   bus.Message
	count int
}

// OnRestart registers a callback run on each worker replacement, before the
// unanswered extraction requests are replayed to the new worker. It receives
// the number of replayed requests and must not call back into the supervisor.
func (s *Supervisor) OnRestart(fn func(outstanding int)) { s.onRestart = fn }

// Results carries worker output other than pongs, current generation only.
func (s *Supervisor) Results() <-chan bus.Message { return s.out }

func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil && !s.stopped {
		s.startLocked()
	}
}

func (s *Supervisor) startLocked() {
	s.gen++
	gen := s.gen
	host, worker := bus.Pipe(s.queueSize)
	ctx, cancel := context.WithCancel(context.Background())
	s.port, s.cancel = host, cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.spawn(ctx, worker, gen)
	}()
	go func() {
		defer s.wg.Done()
		s.forward(ctx, host, gen)
	}()

	for _, msg := range s.sticky {
		s.replay(ctx, host, msg)
	}
	for _, o := range s.inflight {
		for range o.count {
			s.replay(ctx, host, o.msg)
		}
	}
}

func (s *Supervisor) replay(ctx context.Context, port bus.Port, msg bus.Message) {
	if err := port.Send(ctx, msg); err != nil {
		s.logger.Warn("replay to worker failed", slog.String("type", string(msg.Type)), slog.Any("error", err))
	}
}

func (s *Supervisor) pendingLocked() int {
	n := 0
	for _, o := range s.inflight {
		n += o.count
	}
	return n
}

func (s *Supervisor) forward(ctx context.Context, port bus.Port, gen uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-port.Receive():
			if msg.Type == bus.TypePong {
				pong, _ := msg.Payload.(bus.Pong)
				s.mu.Lock()
				if ch, ok := s.pongs[pong.ID]; ok {
					close(ch)
					delete(s.pongs, pong.ID)
				}
				s.mu.Unlock()
				continue
			}
			if !s.accept(gen, msg) {
				continue
			}
			select {
			case s.out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// accept reports whether msg comes from the current worker and settles the
// requests it answers.
func (s *Supervisor) accept(gen uint64, msg bus.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.stopped {
		return false
	}
	if res, ok := msg.Payload.(bus.FetchedFunctions); ok {
		if o, ok := s.inflight[res.FilePath]; ok {
			o.count -= max(res.Acks, 1)
			if o.count <= 0 {
				delete(s.inflight, res.FilePath)
			}
		}
	}
	return true
}

// Send delivers msg to the current worker. Pattern updates are remembered
// and replayed to replacement workers.
func (s *Supervisor) Send(ctx context.Context, msg bus.Message) error {
	s.mu.Lock()
	if s.stopped || s.port == nil {
		s.mu.Unlock()
		return bus.ErrClosed
	}
	var path string
	switch msg.Type {
	case bus.TypeUpdatePatterns:
		s.sticky[msg.Type] = msg
	case bus.TypeExtractFunctionNames:
		if req, ok := msg.Payload.(bus.ExtractRequest); ok {
			path = req.FilePath
			o, ok := s.inflight[path]
			if !ok {
				o = &outstanding{}
				s.inflight[path] = o
			}
			o.msg = msg
			o.count++
		}
	}
	port := s.port
	s.mu.Unlock()

	err := port.Send(ctx, msg)
	if err != nil && path != "" {
		s.mu.Lock()
		if o, ok := s.inflight[path]; ok {
			if o.count--; o.count <= 0 {
				delete(s.inflight, path)
			}
		}
		s.mu.Unlock()
	}
	return err
}

// Ping checks liveness. When no pong arrives within the timeout the worker is
// replaced and ErrUnresponsive returned.
func (s *Supervisor) Ping(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || s.port == nil {
		s.mu.Unlock()
		return bus.ErrClosed
	}
	s.pingID++
	id := s.pingID
	ch := make(chan struct{})
	s.pongs[id] = ch
	port, gen := s.port, s.gen
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pongs, id)
		s.mu.Unlock()
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := port.Send(sendCtx, bus.Message{Type: bus.TypePing, Payload: bus.Ping{ID: id}})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.restart(gen)
		return ErrUnresponsive
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.restart(gen)
		return ErrUnresponsive
	}
}

// restart replaces the worker if generation gen is still the current one.
func (s *Supervisor) restart(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	replayed := s.pendingLocked()
	s.logger.Warn("restarting unresponsive extraction worker",
		slog.Uint64("generation", gen),
		slog.Int("replayed", replayed))
	s.cancel()
	s.port.Close()
	s.restarts++
	if s.onRestart != nil {
		s.onRestart(replayed)
	}
	s.startLocked()
	s.mu.Unlock()
}

func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *Supervisor) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Stop cancels the current worker and waits for the goroutines of workers
// that honour cancellation.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
		s.port.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
