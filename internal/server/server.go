package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/fxnlabs/gemmcheck/internal/auth"
	"github.com/fxnlabs/gemmcheck/internal/config"
	"github.com/fxnlabs/gemmcheck/internal/gemm"
	"github.com/fxnlabs/gemmcheck/internal/metrics"
	"github.com/fxnlabs/gemmcheck/internal/suite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the HTTP server. It needs the components of app.Module.
var Module = fx.Module("server",
	fx.Provide(NewNonceCache, NewAllowlist, NewMux, NewHTTPServer),
	fx.Invoke(func(*http.Server) {}),
)

// MuxParams are the dependencies of NewMux.
type MuxParams struct {
	fx.In

	Config    *config.Config
	Executor  *gemm.Executor
	Runner    *suite.Runner
	Scenarios []suite.Scenario
	Log       *zap.Logger

	// Required when server.auth is enabled.
	Nonces    *auth.NonceCache `optional:"true"`
	Allowlist auth.Allowlist   `optional:"true"`
}

// NewMux registers every route behind the response metrics middleware.
// /metrics is never authenticated.
func NewMux(p MuxParams) *http.ServeMux {
	log := p.Log.Named("server")
	protect := func(h http.Handler) http.Handler { return h }
	if p.Config.Server.Auth.Enabled {
		authLog := log.Named("auth")
		protect = func(h http.Handler) http.Handler {
			return auth.Middleware(h, authLog, p.Nonces, p.Allowlist)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/gemm", metrics.Instrument("/gemm", protect(GemmHandler(p.Executor, p.Config.Executor.Digits, log))))
	mux.Handle("/gemm/batch", metrics.Instrument("/gemm/batch", protect(BatchHandler(p.Executor, p.Config.Executor.Digits, log))))
	mux.Handle("/scenarios", metrics.Instrument("/scenarios", protect(ScenariosHandler(p.Runner, p.Scenarios, log))))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// NewNonceCache remembers request nonces for server.auth.nonceTTL.
func NewNonceCache(lc fx.Lifecycle, cfg *config.Config) *auth.NonceCache {
	cache := auth.NewNonceCache(cfg.Server.Auth.NonceTTL, cfg.Server.Auth.CleanupInterval)
	lc.Append(fx.StopHook(cache.Stop))
	return cache
}

func NewAllowlist(cfg *config.Config) (auth.Allowlist, error) {
	set, err := auth.NewAddressSet(cfg.Server.Auth.AllowedAddresses)
	if err != nil {
		return nil, err
	}
	if cfg.Server.Auth.Enabled && len(set) == 0 {
		return nil, errors.New("server.auth is enabled but allowedAddresses is empty")
	}
	return set, nil
}

// NewHTTPServer listens on the configured address when the application
// starts and shuts down gracefully when it stops.
func NewHTTPServer(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux, log *zap.Logger) *http.Server {
	log = log.Named("server")
	srv := &http.Server{Addr: cfg.Server.ListenAddress, Handler: mux}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("Starting server on", zap.String("address", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
