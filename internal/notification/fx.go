package notification

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(NewService),
	fx.Provide(func(s *Service) Notifier { return s }),
	fx.Invoke(registerShutdown),
)

func registerShutdown(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return s.Close(ctx)
		},
	})
}
