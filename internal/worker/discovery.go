package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0x5457/fn-index/internal/bus"
	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/scanner"
	"github.com/0x5457/fn-index/internal/scheduler"
)

const (
	DefaultMaxIngress   = 1000
	DefaultPollInterval = 10 * time.Millisecond
)

// Discovery is the file discovery stage. It schedules scan tasks, walks the
// file system and feeds the extraction worker while keeping the number of
// unanswered requests under MaxIngress.
type Discovery struct {
	host       bus.Port
	sup        *Supervisor
	sched      *scheduler.Scheduler
	maxIngress int64
	poll       time.Duration
	logger     *slog.Logger

	scanner atomic.Pointer[scanner.Scanner]
	ingress atomic.Int64

	mu         sync.Mutex
	watermarks map[string]int64
}

type discoveryWatermarks struct{ d *Discovery }

func (w discoveryWatermarks) Get(path string) (int64, bool) {
	w.d.mu.Lock()
	defer w.d.mu.Unlock()
	v, ok := w.d.watermarks[path]
	return v, ok
}

func newDiscovery(
	host bus.Port,
	sup *Supervisor,
	sc *scanner.Scanner,
	opt Options,
	logger *slog.Logger,
) *Discovery {
	d := &Discovery{
		host:       host,
		sup:        sup,
		maxIngress: int64(opt.MaxIngress),
		poll:       opt.PollInterval,
		logger:     logger,
		watermarks: make(map[string]int64),
	}
	d.scanner.Store(sc)
	d.sched = scheduler.New(scheduler.Options{
		Debounce:     opt.Debounce,
		MaxHighBurst: opt.MaxHighBurst,
	}, d.runTask, logger)
	sup.OnRestart(func(replayed int) {
		// answers owed by the dead worker are now owed by its replacement
		d.ingress.Store(int64(replayed))
	})
	return d
}

// serve handles messages from the host and results from the worker.
func (d *Discovery) serve(ctx context.Context) {
	mux := bus.NewMux().
		On(bus.TypeExtractFileNames, d.onTask).
		On(bus.TypeFetchedFunctions, d.onFetched).
		On(bus.TypeUpdatePatterns, d.onUpdatePatterns).
		On(bus.TypeUpdateExclusions, d.onUpdateExclusions).
		On(bus.TypeResetWatermarks, d.onResetWatermarks).
		Otherwise(func(_ context.Context, m bus.Message) {
			d.logger.Debug("discovery ignoring message", slog.String("type", string(m.Type)))
		})
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.host.Receive():
			mux.Dispatch(ctx, msg)
		case msg := <-d.sup.Results():
			mux.Dispatch(ctx, msg)
		}
	}
}

func (d *Discovery) onTask(_ context.Context, msg bus.Message) {
	task, ok := msg.Payload.(models.Task)
	if !ok {
		d.logger.Warn("bad task payload")
		return
	}
	if msg.Priority != "" {
		task.Priority = msg.Priority
	}
	d.sched.Enqueue(task)
}

// onFetched forwards a result to the host before releasing its ingress slot,
// so a drained counter implies every result was handed on.
func (d *Discovery) onFetched(ctx context.Context, msg bus.Message) {
	res, ok := msg.Payload.(bus.FetchedFunctions)
	if !ok {
		return
	}
	if err := d.host.Send(ctx, msg); err != nil && ctx.Err() == nil {
		d.logger.Warn("forward result failed", slog.String("path", res.FilePath), slog.Any("error", err))
	}
	d.release(int64(max(res.Acks, 1)))
}

func (d *Discovery) release(n int64) {
	for {
		cur := d.ingress.Load()
		next := max(cur-n, 0)
		if d.ingress.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (d *Discovery) onUpdatePatterns(ctx context.Context, msg bus.Message) {
	if err := d.sup.Send(ctx, msg); err != nil {
		d.logger.Warn("forward pattern update failed", slog.Any("error", err))
	}
	d.resetWatermarks(nil)
}

func (d *Discovery) onUpdateExclusions(_ context.Context, msg bus.Message) {
	upd, ok := msg.Payload.(bus.UpdateExclusions)
	if !ok {
		return
	}
	d.scanner.Store(d.scanner.Load().WithFilter(upd.Filter))
	d.resetWatermarks(nil)
}

func (d *Discovery) onResetWatermarks(_ context.Context, msg bus.Message) {
	reset, _ := msg.Payload.(bus.ResetWatermarks)
	d.resetWatermarks(reset.Seed)
}

func (d *Discovery) resetWatermarks(seed map[string]int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watermarks = make(map[string]int64, len(seed))
	for k, v := range seed {
		d.watermarks[k] = v
	}
}

// runTask is the scheduler handler.
func (d *Discovery) runTask(ctx context.Context, task models.Task) {
	res, err := d.scanner.Load().Scan(ctx, scanner.Request{
		Root:        task.FilePath,
		Workspace:   task.WorkspacePath,
		Extension:   task.Extension,
		FullDescent: task.InitialLoad || task.Source == models.SourceCommand,
	}, discoveryWatermarks{d})
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("scan failed", slog.String("root", task.FilePath), slog.Any("error", err))
		}
		return
	}

	d.mu.Lock()
	for k, v := range res.DirWatermarks {
		d.watermarks[k] = v
	}
	for k, v := range res.FileWatermarks {
		d.watermarks[k] = v
	}
	d.mu.Unlock()

	if len(res.FileWatermarks)+len(res.DirWatermarks) > 0 {
		if err := d.host.Send(ctx, bus.Message{
			Type:    bus.TypeWatermarks,
			Payload: bus.Watermarks{Files: res.FileWatermarks, Dirs: res.DirWatermarks},
		}); err != nil {
			return
		}
	}

	for _, file := range res.Files {
		if err := d.waitCapacity(ctx); err != nil {
			return
		}
		d.ingress.Add(1)
		err := d.sup.Send(ctx, bus.Message{
			Type:     bus.TypeExtractFunctionNames,
			Priority: task.Priority,
			Payload:  bus.ExtractRequest{FilePath: file, WorkspacePath: task.WorkspacePath},
		})
		if err != nil {
			d.release(1)
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("dispatch failed", slog.String("path", file), slog.Any("error", err))
		}
	}

	if task.InitialLoad {
		if err := d.waitDrained(ctx); err != nil {
			return
		}
		_ = d.host.Send(ctx, bus.Message{
			Type:    bus.TypeScanComplete,
			Payload: bus.ScanComplete{Root: task.FilePath, InitialLoad: true, Files: len(res.Files)},
		})
	}
}

// waitCapacity blocks while the ingress counter is saturated, checking the
// worker's health on every poll.
func (d *Discovery) waitCapacity(ctx context.Context) error {
	for d.ingress.Load() >= d.maxIngress {
		if err := d.sleepAndCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discovery) waitDrained(ctx context.Context) error {
	for d.ingress.Load() > 0 {
		if err := d.sleepAndCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discovery) sleepAndCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.poll):
	}
	err := d.sup.Ping(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnresponsive):
		d.logger.Warn("extraction worker replaced", slog.Int("restarts", d.sup.Restarts()))
		return nil
	default:
		return err
	}
}

func (d *Discovery) InFlight() int { return int(d.ingress.Load()) }
