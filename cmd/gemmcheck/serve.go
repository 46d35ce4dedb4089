package main

import (
	"github.com/fxnlabs/gemmcheck/internal/app"
	"github.com/fxnlabs/gemmcheck/internal/config"
	"github.com/fxnlabs/gemmcheck/internal/server"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func serveCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve /gemm, /scenarios and /metrics over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address override",
			},
		},
		Action: func(c *cli.Context) error {
			if addr := c.String("listen"); addr != "" {
				st.cfg.Server.ListenAddress = addr
			}
			newServeApp(st.cfg, st.log).Run()
			return nil
		},
	}
}

func newServeApp(cfg *config.Config, log *zap.Logger) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		app.Module,
		server.Module,
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
}
