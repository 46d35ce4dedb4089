// Package app provides the components shared by every gemmcheck command.
package app

import (
	"context"
	"log/slog"

	"github.com/fxnlabs/gemmcheck/internal/config"
	"github.com/fxnlabs/gemmcheck/internal/gemm"
	"github.com/fxnlabs/gemmcheck/internal/gpu"
	"github.com/fxnlabs/gemmcheck/internal/logger"
	"github.com/fxnlabs/gemmcheck/internal/suite"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the logger, device manager, executor, runner and scenario
// list from a supplied *config.Config.
var Module = fx.Module("gemmcheck",
	fx.Provide(
		NewLogger,
		NewManager,
		NewExecutor,
		NewRunner,
		NewScenarios,
	),
)

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Logger.Verbosity, cfg.Logger.Encoding)
}

// NewManager selects the configured backend and releases it when the
// application stops.
func NewManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gpu.Manager, error) {
	// The gpu package logs through slog.
	manager, err := gpu.NewManager(slog.Default(), cfg.Backend.Name)
	if err != nil {
		log.Error("Failed to create GPU manager", zap.Error(err))
		return nil, err
	}

	info := manager.GetDeviceInfo()
	log.Info("Compute backend initialized",
		zap.String("backend", manager.GetBackendType()),
		zap.String("device", info.Name),
		zap.String("compute_capability", info.ComputeCapability),
		zap.String("driver_version", info.DriverVersion))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return manager.Cleanup()
		},
	})
	return manager, nil
}

func NewExecutor(cfg *config.Config, manager *gpu.Manager, log *zap.Logger) *gemm.Executor {
	return gemm.NewExecutor(manager.GetBackend(), cfg.Executor.Kernel, log.Named("executor"))
}

func NewRunner(cfg *config.Config, exec *gemm.Executor, log *zap.Logger) *suite.Runner {
	return suite.NewRunner(exec, cfg.Executor.Digits, log.Named("suite"))
}

// NewScenarios returns the built-in scenarios followed by any configured
// scenario file.
func NewScenarios(cfg *config.Config) ([]suite.Scenario, error) {
	scenarios := suite.Defaults()
	if cfg.Suite.ScenariosPath == "" {
		return scenarios, nil
	}
	extra, err := suite.LoadScenarios(cfg.Suite.ScenariosPath)
	if err != nil {
		return nil, err
	}
	return append(scenarios, extra...), nil
}
