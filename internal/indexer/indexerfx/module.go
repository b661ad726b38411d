package indexerfx

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/0x5457/fn-index/internal/cache"
	"github.com/0x5457/fn-index/internal/config"
	"github.com/0x5457/fn-index/internal/indexer"
	"github.com/0x5457/fn-index/internal/indexer/pipeline"
	"github.com/0x5457/fn-index/internal/patterns"
	"github.com/0x5457/fn-index/internal/search"
	"github.com/0x5457/fn-index/internal/storage"
	"github.com/0x5457/fn-index/internal/storage/writer"
	"github.com/0x5457/fn-index/internal/worker"
)

// PoolParams represents dependencies for the worker pool
type PoolParams struct {
	fx.In

	Config   *config.Config
	Registry *patterns.Registry
	Logger   *slog.Logger `optional:"true"`
}

// NewPool creates the discovery and extraction stages
func NewPool(params PoolParams) *worker.Pool {
	cfg := params.Config
	return worker.NewPool(worker.Options{
		MaxIngress:        cfg.Worker.MaxIngress,
		PollInterval:      cfg.Worker.IngressPoll,
		HealthTimeout:     cfg.Worker.HealthTimeout,
		Debounce:          cfg.Scheduler.Debounce,
		MaxHighBurst:      cfg.Scheduler.MaxHighBurst,
		SkipUnchangedDirs: cfg.Scanner.SkipUnchangedDirs,
	}, params.Registry, cfg.Filter(), params.Logger)
}

// Params represents dependencies for the indexer
type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Store     storage.Store
	Buffers   *cache.Set
	Writer    *writer.Writer
	Search    *search.Service
	Pool      *worker.Pool
	Logger    *slog.Logger `optional:"true"`
}

// NewIndexer creates the indexer and ties it to the application lifecycle:
// it hydrates and starts the initial scan on start, flushes on stop.
func NewIndexer(params Params) indexer.Indexer {
	idx := pipeline.New(
		params.Store,
		params.Buffers,
		params.Writer,
		params.Search,
		params.Pool,
		pipeline.Options{
			Workspace:          params.Config.Workspace,
			Window:             params.Config.SearchWindow(),
			ActiveFileDebounce: params.Config.Scheduler.ActiveFileDebounce,
		},
		params.Logger,
	)
	params.Lifecycle.Append(fx.Hook{
		OnStart: idx.Start,
		OnStop:  idx.Stop,
	})
	return idx
}

// Module provides indexer components
var Module = fx.Module("indexer",
	fx.Provide(
		NewPool,
		NewIndexer,
	),
)
