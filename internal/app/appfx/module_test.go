package appfx

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/0x5457/fn-index/cmd/cmdsfx"
	"github.com/0x5457/fn-index/internal/config"
)

func TestAppModule(t *testing.T) {
	// Test that all modules can be loaded together
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "main.rs"), []byte("pub fn start() {}\n"), 0o644))

	var runner *cmdsfx.CommandRunner
	app := NewApp(ws, t.TempDir(), "", fx.Populate(&runner))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))
	defer func() {
		require.NoError(t, app.Stop(context.Background()))
	}()

	require.NotNil(t, runner)
	var out bytes.Buffer
	runner.SetOutput(&out)
	require.NoError(t, runner.RunSearch(ctx, "st", 0))
	assert.Equal(t, "start\tmain.rs:1\n", out.String())
}

func TestAppUsesConfigFile(t *testing.T) {
	ws := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("cache:\n  max_size: 7\n"), 0o644))

	var cfg *config.Config
	app := NewApp(ws, t.TempDir(), cfgPath, fx.Populate(&cfg))
	require.NoError(t, app.Err())

	assert.Equal(t, 7, cfg.Cache.MaxSize)
	assert.Equal(t, ws, cfg.Workspace)
}

func TestAppRejectsBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  driver: postgres\n"), 0o644))

	app := NewApp(t.TempDir(), t.TempDir(), cfgPath, fx.Invoke(func(*cmdsfx.CommandRunner) {}))
	assert.Error(t, app.Err())
}
