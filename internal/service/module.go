package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		fx.Annotate(
			NewGateway,
			fx.As(new(Commander)),
		),
	),

	// [DECORATION_LAYER] Intercept Commander to add cross-cutting concerns
	fx.Decorate(func(orig Commander, logger *slog.Logger) Commander {
		return &commanderMiddleware{
			next:   orig,
			logger: logger,
		}
	}),

	fx.Invoke(func(lc fx.Lifecycle, commander Commander) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return commander.Shutdown(ctx)
			},
		})
	}),
)
