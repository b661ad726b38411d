package configfx

import (
	"fmt"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/0x5457/fn-index/internal/config"
)

// Params represents the values the command layer may supply
type Params struct {
	fx.In

	Workspace  string `name:"workspace"  optional:"true"`
	DataDir    string `name:"dataDir"    optional:"true"`
	ConfigPath string `name:"configPath" optional:"true"`
}

// NewConfig loads the config file, if any, and applies command line values
// on top of it.
func NewConfig(params Params) (*config.Config, error) {
	path := params.ConfigPath
	if path == "" {
		path = config.Discover(params.Workspace)
	}
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if params.Workspace != "" {
		abs, err := filepath.Abs(params.Workspace)
		if err != nil {
			return nil, fmt.Errorf("resolve workspace: %w", err)
		}
		cfg.Workspace = abs
	}
	if params.DataDir != "" {
		cfg.Store.DataDir = params.DataDir
	}
	return cfg, nil
}

// Module provides configuration for the application
var Module = fx.Module("config",
	fx.Provide(NewConfig),
)
