package fee

import (
	"github.com/playgroundx/settlement/internal/fee/repository"
	"github.com/playgroundx/settlement/internal/fee/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fee.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
