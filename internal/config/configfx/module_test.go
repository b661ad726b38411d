package configfx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/0x5457/fn-index/internal/config"
)

func TestConfigModule(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, config.FileName), []byte("worker:\n  max_ingress: 5\n"), 0o644))

	var cfg *config.Config
	app := fx.New(
		Module,
		fx.Supply(
			fx.Annotate(ws, fx.ResultTags(`name:"workspace"`)),
			fx.Annotate("/tmp/fn-data", fx.ResultTags(`name:"dataDir"`)),
		),
		fx.Populate(&cfg),
	)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer func() {
		require.NoError(t, app.Stop(ctx))
	}()

	require.NotNil(t, cfg)
	assert.Equal(t, ws, cfg.Workspace)
	assert.Equal(t, "/tmp/fn-data", cfg.Store.DataDir)
	assert.Equal(t, 5, cfg.Worker.MaxIngress)
}

func TestConfigDefaults(t *testing.T) {
	var cfg *config.Config
	app := fx.New(
		Module,
		fx.Populate(&cfg),
	)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer func() {
		require.NoError(t, app.Stop(ctx))
	}()

	require.NotNil(t, cfg)
	assert.Equal(t, config.Default().Worker, cfg.Worker)
	assert.Empty(t, cfg.Workspace)
}

func TestConfigBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))

	app := fx.New(
		Module,
		fx.Supply(fx.Annotate(path, fx.ResultTags(`name:"configPath"`))),
		fx.Invoke(func(*config.Config) {}),
	)
	assert.Error(t, app.Err())
}
