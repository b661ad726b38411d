package searchfx

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/0x5457/fn-index/internal/cache"
	"github.com/0x5457/fn-index/internal/config"
	"github.com/0x5457/fn-index/internal/search"
	"github.com/0x5457/fn-index/internal/storage"
)

// Params represents dependencies for search service
type Params struct {
	fx.In

	Buffers *cache.Set
	Store   storage.Store
	Config  *config.Config
	Logger  *slog.Logger `optional:"true"`
}

// NewSearchService creates the search service over an empty list. The
// indexer fills the list on start.
func NewSearchService(params Params) *search.Service {
	return search.NewService(
		search.NewList(),
		params.Buffers.Functions,
		params.Store,
		search.Options{
			Window:     params.Config.SearchWindow(),
			PageSize:   params.Config.Search.PageSize,
			MaxResults: params.Config.Search.MaxResults,
		},
		params.Logger,
	)
}

// Module provides search components
var Module = fx.Module("search",
	fx.Provide(NewSearchService),
)
