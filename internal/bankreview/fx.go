package bankreview

import (
	"github.com/playgroundx/settlement/internal/bankreview/repository"
	"github.com/playgroundx/settlement/internal/bankreview/service"
	"go.uber.org/fx"
)

var Module = fx.Module("bankreview.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
