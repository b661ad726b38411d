package storagefx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/0x5457/fn-index/internal/cache"
	"github.com/0x5457/fn-index/internal/config"
	"github.com/0x5457/fn-index/internal/storage"
	"github.com/0x5457/fn-index/internal/storage/sqlite"
	"github.com/0x5457/fn-index/internal/storage/writer"
	"github.com/0x5457/fn-index/internal/workspace"
)

// Params represents dependencies for storage components
type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *slog.Logger `optional:"true"`
}

// NewStore locks the workspace store and opens it. Both are released when
// the application stops.
func NewStore(params Params) (storage.Store, error) {
	cfg := params.Config
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("workspace must be specified")
	}
	dataDir := cfg.Store.DataDir
	if dataDir == "" {
		dataDir = workspace.DefaultDataDir()
	}

	lock, err := workspace.Acquire(dataDir, cfg.Workspace)
	if err != nil {
		return nil, err
	}
	path := workspace.StorePath(dataDir, cfg.Workspace)
	store, err := sqlite.New(path, sqlite.Options{Driver: cfg.Store.Driver})
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	if params.Logger != nil {
		params.Logger.Debug("opened index store",
			slog.String("path", path),
			slog.String("driver", cfg.Store.Driver))
	}

	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return errors.Join(store.Close(), lock.Release())
		},
	})
	return store, nil
}

// NewBuffers creates the in-memory cache buffers
func NewBuffers(cfg *config.Config) *cache.Set {
	return cache.NewSet(cfg.Cache.MaxSize)
}

// WriterParams represents dependencies for the persister
type WriterParams struct {
	fx.In

	Store   storage.Store
	Buffers *cache.Set
	Config  *config.Config
	Logger  *slog.Logger `optional:"true"`
}

// NewWriter creates the single writer that flushes the buffers to the store.
// The indexer owns its start and stop.
func NewWriter(params WriterParams) *writer.Writer {
	return writer.New(
		params.Store,
		params.Buffers,
		writer.Options{Interval: params.Config.Persist.Interval},
		params.Logger,
	)
}

// Module provides storage components
var Module = fx.Module("storage",
	fx.Provide(
		NewStore,
		NewBuffers,
		NewWriter,
	),
)
