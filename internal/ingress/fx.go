package ingress

import (
	"github.com/playgroundx/settlement/internal/ingress/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingress.service",
	fx.Provide(service.NewService),
)
