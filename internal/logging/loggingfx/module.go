package loggingfx

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/0x5457/fn-index/internal/config"
	"github.com/0x5457/fn-index/internal/logging"
)

// NewLogger builds the application logger from the log section of the config
func NewLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.Log)
}

// NewEventLogger routes fx lifecycle events through the application logger
// at debug level.
func NewEventLogger(logger *slog.Logger) fxevent.Logger {
	l := &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
	l.UseLogLevel(slog.LevelDebug)
	return l
}

// Module provides the logger
var Module = fx.Module("logging",
	fx.Provide(NewLogger),
)

// WithLogger replaces fx's default console logger. It belongs at the
// application level, next to Module.
var WithLogger = fx.WithLogger(NewEventLogger)
