package alert

import (
	"github.com/playgroundx/settlement/internal/alert/repository"
	"github.com/playgroundx/settlement/internal/alert/service"
	"go.uber.org/fx"
)

var Module = fx.Module("alert.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
