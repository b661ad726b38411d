package loggingfx

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/0x5457/fn-index/internal/config"
)

func TestLoggingModule(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "debug"

	var logger *slog.Logger
	app := fx.New(
		Module,
		WithLogger,
		fx.Supply(cfg),
		fx.Populate(&logger),
	)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer func() {
		require.NoError(t, app.Stop(ctx))
	}()

	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(ctx, slog.LevelDebug))
}
