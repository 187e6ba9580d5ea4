package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/webitel/device-gateway-service/config"
	apihandler "github.com/webitel/device-gateway-service/internal/handler/http"
	wshandler "github.com/webitel/device-gateway-service/internal/handler/ws"
)

// NewServer assembles the root router: REST API, websocket stream and
// the liveness probe.
func NewServer(cfg *config.Config, api *apihandler.Handler, ws *wshandler.WSHandler) *http.Server {
	root := chi.NewRouter()
	root.Mount("/", api.Routes())
	root.Get("/ws", ws.ServeHTTP)
	root.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      root,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
}

var Module = fx.Module("http-server",
	fx.Provide(NewServer),

	fx.Invoke(func(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					logger.Info("http server listening", "addr", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("http server error", "error", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
