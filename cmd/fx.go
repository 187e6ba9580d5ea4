package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/webitel/device-gateway-service/config"
	httpserver "github.com/webitel/device-gateway-service/infra/server/http"
	"github.com/webitel/device-gateway-service/internal/adapter/pubsub"
	httphandler "github.com/webitel/device-gateway-service/internal/handler/http"
	wshandler "github.com/webitel/device-gateway-service/internal/handler/ws"
	"github.com/webitel/device-gateway-service/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvidePubSub,
			ProvideDispatcher,
		),
		fx.Invoke(func(lc fx.Lifecycle, provider *pubsub.Provider) {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error { return provider.Close() },
			})
		}),
		service.Module,
		httphandler.Module,
		wshandler.Module,
		httpserver.Module,
	)
}

// ProvideLogger builds the process-wide slog logger: JSON to stdout,
// plus a rotated file when configured.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	})).With("service", ServiceName)

	slog.SetDefault(logger)
	return logger
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvidePubSub(cfg *config.Config, logger *slog.Logger) (*pubsub.Provider, error) {
	return pubsub.NewProvider(cfg, logger)
}

func ProvideDispatcher(provider *pubsub.Provider) pubsub.EventDispatcher {
	return pubsub.NewEventDispatcher(provider)
}
