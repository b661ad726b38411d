// Package writer persists the dirty parts of the cache buffers through a
// single goroutine, so that at most one store transaction runs at a time.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0x5457/fn-index/internal/cache"
	"github.com/0x5457/fn-index/internal/storage"
)

const DefaultInterval = 30 * time.Second

var ErrStopped = errors.New("writer stopped")

type Options struct {
	Interval time.Duration
}

type job struct {
	run    func(ctx context.Context) error
	result chan error
}

type Writer struct {
	store   storage.Store
	buffers *cache.Set
	opt     Options
	logger  *slog.Logger

	jobs chan job
	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(store storage.Store, buffers *cache.Set, opt Options, logger *slog.Logger) *Writer {
	if opt.Interval <= 0 {
		opt.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:   store,
		buffers: buffers,
		opt:     opt,
		logger:  logger,
		jobs:    make(chan job),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the writer goroutine and its flush timer.
func (w *Writer) Start() {
	w.startOnce.Do(func() { go w.loop() })
}

func (w *Writer) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.opt.Interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			if err := w.flush(ctx); err != nil {
				w.logger.Warn("periodic flush failed", slog.Any("error", err))
			}
		case j := <-w.jobs:
			j.result <- j.run(ctx)
		}
	}
}

func (w *Writer) submit(ctx context.Context, run func(context.Context) error) error {
	j := job{run: run, result: make(chan error, 1)}
	select {
	case w.jobs <- j:
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush writes all dirty buffers now and returns once the writes finished.
func (w *Writer) Flush(ctx context.Context) error {
	return w.submit(ctx, w.flush)
}

// Clear drops all persisted state and empties the buffers.
func (w *Writer) Clear(ctx context.Context) error {
	return w.submit(ctx, func(ctx context.Context) error {
		if err := w.store.Clear(ctx); err != nil {
			return fmt.Errorf("clear store: %w", err)
		}
		w.buffers.Reset()
		return nil
	})
}

// Stop ends the writer goroutine and performs a final flush.
func (w *Writer) Stop(ctx context.Context) error {
	var err error
	w.stopOnce.Do(func() {
		// a writer that never started has no loop to wait for
		w.startOnce.Do(func() { close(w.done) })
		close(w.quit)
		select {
		case <-w.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		err = w.flush(ctx)
	})
	return err
}

// flush persists function lists before watermarks so a stored watermark
// never refers to a function list that was not written.
func (w *Writer) flush(ctx context.Context) error {
	var errs []error
	if err := flushBuffer(ctx, w.buffers.Functions, w.store.UpsertFunctions); err != nil {
		errs = append(errs, fmt.Errorf("functions: %w", err))
	}
	if err := flushBuffer(ctx, w.buffers.LastAccess, w.store.UpsertLastAccess); err != nil {
		errs = append(errs, fmt.Errorf("last access: %w", err))
	}
	if len(errs) == 0 {
		if err := flushBuffer(ctx, w.buffers.Watermarks, w.store.UpsertWatermarks); err != nil {
			errs = append(errs, fmt.Errorf("watermarks: %w", err))
		}
	}
	return errors.Join(errs...)
}

func flushBuffer[V any](
	ctx context.Context,
	buf *cache.DualBuffer[string, V],
	write func(context.Context, map[string]V) error,
) error {
	if !buf.IsDirty() {
		return nil
	}
	batch := buf.GetNewData()
	if err := write(ctx, batch.Entries); err != nil {
		return err
	}
	buf.ClearNewBuffer(batch)
	return nil
}
