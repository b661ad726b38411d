package appfx

import (
	"go.uber.org/fx"

	"github.com/0x5457/fn-index/cmd/cmdsfx"
	"github.com/0x5457/fn-index/internal/config/configfx"
	"github.com/0x5457/fn-index/internal/indexer/indexerfx"
	"github.com/0x5457/fn-index/internal/logging/loggingfx"
	"github.com/0x5457/fn-index/internal/mcp/mcpfx"
	"github.com/0x5457/fn-index/internal/patterns/patternsfx"
	"github.com/0x5457/fn-index/internal/search/searchfx"
	"github.com/0x5457/fn-index/internal/storage/storagefx"
)

// Module combines all application modules
var Module = fx.Options(
	configfx.Module,
	loggingfx.Module,
	loggingfx.WithLogger,
	patternsfx.Module,
	storagefx.Module,
	searchfx.Module,
	indexerfx.Module,
	mcpfx.Module,
	cmdsfx.Module,
)

// NewApp creates an Fx app for the given workspace. Empty values fall back
// to the config file and the defaults.
func NewApp(workspace, dataDir, configPath string, opts ...fx.Option) *fx.App {
	return fx.New(
		Module,
		fx.Supply(
			fx.Annotate(workspace, fx.ResultTags(`name:"workspace"`)),
			fx.Annotate(dataDir, fx.ResultTags(`name:"dataDir"`)),
			fx.Annotate(configPath, fx.ResultTags(`name:"configPath"`)),
		),
		fx.Options(opts...),
	)
}
