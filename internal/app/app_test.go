package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/gemmcheck/fixtures"
	"github.com/fxnlabs/gemmcheck/internal/config"
	"github.com/fxnlabs/gemmcheck/internal/gpu"
	"github.com/fxnlabs/gemmcheck/internal/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestModule(t *testing.T) {
	cfg := config.Default()
	cfg.Executor.Kernel = gpu.KernelSGEMMStrided

	var runner *suite.Runner
	var scenarios []suite.Scenario
	var manager *gpu.Manager

	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&runner, &scenarios, &manager),
	)
	app.RequireStart()

	assert.Equal(t, "cpu", manager.GetBackendType())
	require.Len(t, scenarios, 3)

	results := runner.Run(context.Background(), scenarios)
	assert.True(t, suite.AllPassed(results))
	for _, res := range results {
		assert.Equal(t, gpu.KernelSGEMMStrided, res.Kernel)
	}

	app.RequireStop()
	assert.Equal(t, "none", manager.GetBackendType())
}

func TestNewScenarios(t *testing.T) {
	t.Run("defaults only", func(t *testing.T) {
		scenarios, err := NewScenarios(config.Default())
		require.NoError(t, err)
		assert.Len(t, scenarios, 3)
	})

	t.Run("with scenario file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scenarios.yaml")
		require.NoError(t, os.WriteFile(path, fixtures.ScenariosTemplate, 0o600))

		cfg := config.Default()
		cfg.Suite.ScenariosPath = path
		scenarios, err := NewScenarios(cfg)
		require.NoError(t, err)
		require.Len(t, scenarios, 4)
		assert.Equal(t, "second batch of both operands", scenarios[3].Name)
	})

	t.Run("missing scenario file", func(t *testing.T) {
		cfg := config.Default()
		cfg.Suite.ScenariosPath = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := NewScenarios(cfg)
		assert.Error(t, err)
	})
}
