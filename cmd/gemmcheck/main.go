package main

import (
	"fmt"
	"os"

	"github.com/fxnlabs/gemmcheck/internal/config"
	"github.com/fxnlabs/gemmcheck/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// state is filled by the app's Before hook and shared by every command.
type state struct {
	cfg *config.Config
	log *zap.Logger
}

func newApp() *cli.App {
	st := &state{}
	var configPath, verbosity, kernel, backend string

	return &cli.App{
		Name:  "gemmcheck",
		Usage: "Validate a strided batched GEMM kernel against known results",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to config.yaml (defaults are used when empty)",
				EnvVars:     []string{"GEMMCHECK_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "verbosity",
				Usage:       "Log level override",
				Destination: &verbosity,
			},
			&cli.StringFlag{
				Name:        "kernel",
				Usage:       "Kernel override (sgemm or sgemm_strided)",
				Destination: &kernel,
			},
			&cli.StringFlag{
				Name:        "backend",
				Usage:       "Backend override",
				Destination: &backend,
			},
		},
		Before: func(c *cli.Context) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				cfg, err = config.LoadConfig(configPath)
				if err != nil {
					return err
				}
			}
			if verbosity != "" {
				cfg.Logger.Verbosity = verbosity
			}
			if kernel != "" {
				cfg.Executor.Kernel = kernel
			}
			if backend != "" {
				cfg.Backend.Name = backend
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity, cfg.Logger.Encoding)
			if err != nil {
				return err
			}
			st.cfg = cfg
			st.log = zapLogger.Named("cli")
			return nil
		},
		After: func(c *cli.Context) error {
			if st.log != nil {
				_ = st.log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			devicesCommand(st),
			runCommand(st),
			serveCommand(st),
			initCommand(),
			submitCommand(),
			accountCommands(),
		},
	}
}
