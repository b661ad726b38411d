// Package worker runs the two indexing stages: discovery, which turns
// scheduled tasks into file lists, and extraction, which turns files into
// function lists. The stages talk to each other and to the host only through
// bus ports.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/0x5457/fn-index/internal/bus"
	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/patterns"
	"github.com/0x5457/fn-index/internal/scanner"
)

type Options struct {
	MaxIngress        int
	PollInterval      time.Duration
	HealthTimeout     time.Duration
	Debounce          time.Duration
	MaxHighBurst      int
	SkipUnchangedDirs bool
}

func (o Options) withDefaults() Options {
	if o.MaxIngress <= 0 {
		o.MaxIngress = DefaultMaxIngress
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = DefaultHealthTimeout
	}
	return o
}

type PoolStatus struct {
	Pending  int
	InFlight int
	Restarts int
}

// Pool wires discovery and extraction together and hands the host one port.
type Pool struct {
	host      bus.Port
	discovery *Discovery
	sup       *Supervisor
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewPool(opt Options, reg *patterns.Registry, filter scanner.Filter, logger *slog.Logger) *Pool {
	return newPool(opt, filter, func(ctx context.Context, port bus.Port, gen uint64) {
		NewExtractor(port, reg, gen, logger).Run(ctx)
	}, logger)
}

func newPool(opt Options, filter scanner.Filter, spawn SpawnFunc, logger *slog.Logger) *Pool {
	opt = opt.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "worker"))
	queue := opt.MaxIngress + 64
	host, inner := bus.Pipe(queue)
	sup := NewSupervisor(spawn, opt.HealthTimeout, queue, logger)
	sc := scanner.New(scanner.Options{Filter: filter, SkipUnchangedDirs: opt.SkipUnchangedDirs}, logger)
	return &Pool{
		host:      host,
		discovery: newDiscovery(inner, sup, sc, opt, logger),
		sup:       sup,
		logger:    logger,
	}
}

// Port is the host end of the pool's message link.
func (p *Pool) Port() bus.Port { return p.host }

func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.sup.Start()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.discovery.serve(ctx)
	}()
}

// Enqueue schedules a scan task.
func (p *Pool) Enqueue(ctx context.Context, task models.Task) error {
	return p.host.Send(ctx, bus.Message{
		Type:     bus.TypeExtractFileNames,
		Priority: task.Priority,
		Payload:  task,
	})
}

func (p *Pool) Status() PoolStatus {
	return PoolStatus{
		Pending:  p.discovery.sched.Pending(),
		InFlight: p.discovery.InFlight(),
		Restarts: p.sup.Restarts(),
	}
}

func (p *Pool) Stop() {
	p.once.Do(func() {
		p.discovery.sched.Stop()
		if p.cancel != nil {
			p.cancel()
		}
		p.sup.Stop()
		p.host.Close()
		p.wg.Wait()
	})
}
