package patternsfx

import (
	"log/slog"
	"maps"

	"go.uber.org/fx"

	"github.com/0x5457/fn-index/internal/config"
	"github.com/0x5457/fn-index/internal/patterns"
)

// Params represents dependencies for the pattern registry
type Params struct {
	fx.In

	Config *config.Config
	Logger *slog.Logger `optional:"true"`
}

// NewRegistry builds the built-in rules with the config overrides applied.
// Overrides for extensions no language claims are logged and ignored.
func NewRegistry(params Params) (*patterns.Registry, error) {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	overrides := maps.Clone(params.Config.Patterns)
	for ext := range overrides {
		if _, ok := patterns.LanguageOf(ext); !ok {
			logger.Warn("ignoring patterns for unknown extension", slog.String("extension", ext))
			delete(overrides, ext)
		}
	}
	reg, err := patterns.Default().WithOverrides(overrides)
	if err != nil {
		return nil, err
	}
	if ov := reg.Overridden(); len(ov) > 0 {
		logger.Info("pattern overrides loaded", slog.Any("extensions", ov))
	}
	return reg, nil
}

// Module provides the pattern registry
var Module = fx.Module("patterns",
	fx.Provide(NewRegistry),
)
