package patternsfx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/0x5457/fn-index/internal/config"
	"github.com/0x5457/fn-index/internal/patterns"
)

func TestPatternsModule(t *testing.T) {
	cfg := config.Default()
	cfg.Patterns = map[string][]patterns.RuleSpec{
		".py":  {{Pattern: `^\s*task\s+(\w+)`, Capture: 1}},
		".zzz": {{Pattern: `^(\w+)`, Capture: 1}},
	}

	var reg *patterns.Registry
	app := fx.New(
		Module,
		fx.Supply(cfg),
		fx.Populate(&reg),
	)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer func() {
		require.NoError(t, app.Stop(ctx))
	}()

	require.NotNil(t, reg)
	assert.Equal(t, []string{".py"}, reg.Overridden())
	assert.True(t, reg.Supports(".go"))
	assert.Len(t, cfg.Patterns, 2, "config is left untouched")
}

func TestPatternsModuleBadRule(t *testing.T) {
	cfg := config.Default()
	cfg.Patterns = map[string][]patterns.RuleSpec{".go": {{Pattern: `(unclosed`, Capture: 1}}}

	app := fx.New(
		Module,
		fx.Supply(cfg),
		fx.Invoke(func(*patterns.Registry) {}),
	)
	assert.Error(t, app.Err())
}
