package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/0x5457/fn-index/internal/bus"
	"github.com/0x5457/fn-index/internal/cache"
	"github.com/0x5457/fn-index/internal/indexer"
	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/patterns"
	"github.com/0x5457/fn-index/internal/scanner"
	"github.com/0x5457/fn-index/internal/search"
	"github.com/0x5457/fn-index/internal/storage"
	"github.com/0x5457/fn-index/internal/storage/writer"
	"github.com/0x5457/fn-index/internal/worker"
)

const (
	DefaultActiveFileDebounce = 200 * time.Millisecond
	idlePoll                  = 20 * time.Millisecond
)

type Options struct {
	Workspace string
	// Window is how recently a file must have been accessed to be loaded
	// into memory on startup.
	Window             time.Duration
	ActiveFileDebounce time.Duration
}

// Indexer is the host side of the indexing pipeline. It owns the cache
// buffers and the search list and applies the results coming out of the
// worker pool.
type Indexer struct {
	opt     Options
	store   storage.Store
	buffers *cache.Set
	writer  *writer.Writer
	search  *search.Service
	pool    *worker.Pool
	logger  *slog.Logger
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	pendingWM map[string]int64
	active    *time.Timer
	stopped   bool
}

var _ indexer.Indexer = (*Indexer)(nil)

func New(
	store storage.Store,
	buffers *cache.Set,
	w *writer.Writer,
	svc *search.Service,
	pool *worker.Pool,
	opt Options,
	logger *slog.Logger,
) *Indexer {
	if opt.Window <= 0 {
		opt.Window = search.DefaultWindow
	}
	if opt.ActiveFileDebounce <= 0 {
		opt.ActiveFileDebounce = DefaultActiveFileDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		opt:       opt,
		store:     store,
		buffers:   buffers,
		writer:    w,
		search:    svc,
		pool:      pool,
		logger:    logger.With(slog.String("component", "indexer")),
		now:       time.Now,
		pendingWM: make(map[string]int64),
	}
}

// Start hydrates the cache from the store, starts the pool and the writer
// and schedules the initial full scan.
func (i *Indexer) Start(ctx context.Context) error {
	watermarks, err := i.store.LoadWatermarks(ctx)
	if err != nil {
		return fmt.Errorf("load watermarks: %w", err)
	}
	for path, wm := range watermarks {
		i.buffers.Watermarks.Seed(path, wm)
	}
	recent, err := i.store.LoadRecent(ctx, i.now().Add(-i.opt.Window).UnixMilli())
	if err != nil {
		return fmt.Errorf("load recent files: %w", err)
	}
	index := make(map[string][]models.Function, len(recent))
	for _, ff := range recent {
		i.buffers.Functions.Seed(ff.Path, ff.Functions)
		index[ff.Path] = ff.Functions
	}
	i.search.List().Rebuild(index)
	if i.search.List().Len() > 0 {
		i.search.SetReady(true)
	}
	i.logger.Info("hydrated index",
		slog.Int("watermarks", len(watermarks)),
		slog.Int("recentFiles", len(recent)),
		slog.Int("functions", i.search.List().Len()))

	loopCtx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	i.pool.Start()
	i.writer.Start()
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.receive(loopCtx)
	}()

	port := i.pool.Port()
	if err := port.Send(ctx, bus.Message{
		Type:    bus.TypeResetWatermarks,
		Payload: bus.ResetWatermarks{Seed: watermarks},
	}); err != nil {
		return fmt.Errorf("seed watermarks: %w", err)
	}
	return i.pool.Enqueue(ctx, i.fullScan(models.PriorityLow, models.SourceInitialLoad))
}

func (i *Indexer) fullScan(prio models.Priority, src models.Source) models.Task {
	return models.Task{
		FilePath:      i.opt.Workspace,
		Extension:     models.ExtensionAll,
		Priority:      prio,
		WorkspacePath: i.opt.Workspace,
		Source:        src,
		InitialLoad:   true,
	}
}

// Stop shuts the pool down and flushes what is left in the buffers.
func (i *Indexer) Stop(ctx context.Context) error {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return nil
	}
	i.stopped = true
	if i.active != nil {
		i.active.Stop()
	}
	i.mu.Unlock()

	i.pool.Stop()
	if i.cancel != nil {
		i.cancel()
	}
	i.wg.Wait()
	return i.writer.Stop(ctx)
}

func (i *Indexer) receive(ctx context.Context) {
	mux := bus.NewMux().
		On(bus.TypeWatermarks, i.onWatermarks).
		On(bus.TypeFetchedFunctions, i.onFetched).
		On(bus.TypeScanComplete, i.onScanComplete)
	mux.Serve(ctx, i.pool.Port())
}

// onWatermarks records directory watermarks right away. File watermarks wait
// for the file's functions so a persisted watermark always has its list.
func (i *Indexer) onWatermarks(_ context.Context, msg bus.Message) {
	wm, ok := msg.Payload.(bus.Watermarks)
	if !ok {
		return
	}
	for path, v := range wm.Dirs {
		i.buffers.Watermarks.Set(path, v)
	}
	i.mu.Lock()
	for path, v := range wm.Files {
		i.pendingWM[path] = max(i.pendingWM[path], v)
	}
	i.mu.Unlock()
}

func (i *Indexer) onFetched(_ context.Context, msg bus.Message) {
	res, ok := msg.Payload.(bus.FetchedFunctions)
	if !ok {
		return
	}
	i.mu.Lock()
	wm, hasWM := i.pendingWM[res.FilePath]
	delete(i.pendingWM, res.FilePath)
	i.mu.Unlock()

	if res.Err != "" {
		i.logger.Warn("extraction failed", slog.String("path", res.FilePath), slog.String("error", res.Err))
		return
	}
	i.buffers.Functions.Set(res.FilePath, res.Functions)
	i.search.List().Update(res.FilePath, res.Functions)
	if hasWM {
		i.buffers.Watermarks.Set(res.FilePath, wm)
	}
}

func (i *Indexer) onScanComplete(_ context.Context, msg bus.Message) {
	done, ok := msg.Payload.(bus.ScanComplete)
	if !ok || !done.InitialLoad {
		return
	}
	first := !i.search.Ready()
	i.search.SetReady(true)
	i.logger.Info("full scan complete",
		slog.String("root", done.Root),
		slog.Int("files", done.Files),
		slog.Bool("first", first),
		slog.Int("functions", i.search.List().Len()))
}

// HandleEvent reacts to a file system change. Deletions clear the function
// list of the path, or of every indexed file below it for a directory.
func (i *Indexer) HandleEvent(ev models.FileEvent) {
	switch ev.Kind {
	case models.EventDelete:
		for _, path := range i.indexedUnder(ev.Path) {
			i.buffers.Functions.Set(path, []models.Function{})
			i.search.List().Remove(path)
		}
	case models.EventChange, models.EventCreate:
		i.enqueue(models.Task{
			FilePath:      ev.Path,
			Extension:     models.ExtensionAll,
			Priority:      models.PriorityHigh,
			WorkspacePath: i.opt.Workspace,
			Source:        models.SourceFileWatcher,
		})
	}
}

func (i *Indexer) indexedUnder(path string) []string {
	prefix := path + string(filepath.Separator)
	var out []string
	if fns, ok := i.buffers.Functions.Get(path); ok && len(fns) > 0 {
		out = append(out, path)
	} else if i.search.List().Contains(path) {
		out = append(out, path)
	}
	for file := range i.search.List().Ranges() {
		if strings.HasPrefix(file, prefix) {
			out = append(out, file)
		}
	}
	return out
}

func (i *Indexer) enqueue(task models.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := i.pool.Enqueue(ctx, task); err != nil {
		i.logger.Warn("enqueue failed", slog.String("path", task.FilePath), slog.Any("error", err))
	}
}

// SetActiveFile switches the ranking extension after a short quiet period
// and rescans the file and its directory ahead of other work.
func (i *Indexer) SetActiveFile(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}
	if i.active != nil {
		i.active.Stop()
	}
	i.active = time.AfterFunc(i.opt.ActiveFileDebounce, func() {
		ext := models.Ext(path)
		i.search.List().SetActiveExtension(ext)
		for _, target := range []string{path, filepath.Dir(path)} {
			i.enqueue(models.Task{
				FilePath:      target,
				Extension:     ext,
				Priority:      models.PriorityHigh,
				WorkspacePath: i.opt.Workspace,
				Source:        models.SourceActiveFile,
			})
		}
	})
}

func (i *Indexer) MarkAccessed(path string) {
	i.buffers.LastAccess.Set(path, i.now().UnixMilli())
}

// Search queries the index. Before the first full scan it reports
// search.ErrStillIndexing and starts a scan if nothing is running.
func (i *Indexer) Search(ctx context.Context, query string) ([]models.SearchHit, error) {
	hits, err := i.search.Search(ctx, query)
	if errors.Is(err, search.ErrStillIndexing) && i.Status().Idle() {
		i.enqueue(i.fullScan(models.PriorityLow, models.SourceCommand))
	}
	return hits, err
}

// Reindex forgets the scan watermarks and rescans the whole workspace.
func (i *Indexer) Reindex(ctx context.Context) error {
	if err := i.pool.Port().Send(ctx, bus.Message{Type: bus.TypeResetWatermarks}); err != nil {
		return fmt.Errorf("reset watermarks: %w", err)
	}
	return i.pool.Enqueue(ctx, i.fullScan(models.PriorityHigh, models.SourceCommand))
}

// ClearAll drops every cached and persisted entry and reindexes.
func (i *Indexer) ClearAll(ctx context.Context) error {
	if err := i.writer.Clear(ctx); err != nil {
		return err
	}
	i.search.SetReady(false)
	i.search.List().Reset()
	i.mu.Lock()
	clear(i.pendingWM)
	i.mu.Unlock()
	return i.Reindex(ctx)
}

func (i *Indexer) Flush(ctx context.Context) error {
	return i.writer.Flush(ctx)
}

func (i *Indexer) UpdatePatterns(ctx context.Context, reg *patterns.Registry) error {
	if err := i.pool.Port().Send(ctx, bus.Message{
		Type:    bus.TypeUpdatePatterns,
		Payload: bus.UpdatePatterns{Registry: reg},
	}); err != nil {
		return fmt.Errorf("update patterns: %w", err)
	}
	return i.pool.Enqueue(ctx, i.fullScan(models.PriorityHigh, models.SourceCommand))
}

func (i *Indexer) UpdateExclusions(ctx context.Context, filter scanner.Filter) error {
	if err := i.pool.Port().Send(ctx, bus.Message{
		Type:    bus.TypeUpdateExclusions,
		Payload: bus.UpdateExclusions{Filter: filter},
	}); err != nil {
		return fmt.Errorf("update exclusions: %w", err)
	}
	return i.pool.Enqueue(ctx, i.fullScan(models.PriorityHigh, models.SourceCommand))
}

func (i *Indexer) Status() models.Status {
	ps := i.pool.Status()
	return models.Status{
		Ready:     i.search.Ready(),
		Pending:   ps.Pending,
		InFlight:  ps.InFlight,
		Files:     i.search.List().Files(),
		Functions: i.search.List().Len(),
		Restarts:  ps.Restarts,
	}
}

func (i *Indexer) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	for {
		i.mu.Lock()
		waiting := len(i.pendingWM)
		i.mu.Unlock()
		if st := i.Status(); st.Ready && st.Idle() && waiting == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (i *Indexer) Index() map[string][]models.Function {
	out := make(map[string][]models.Function)
	for path, fns := range i.buffers.Functions.Entries() {
		if len(fns) > 0 {
			out[path] = fns
		}
	}
	return out
}

// Workspace is the root being indexed.
func (i *Indexer) Workspace() string { return i.opt.Workspace }
