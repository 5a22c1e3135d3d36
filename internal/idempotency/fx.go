package idempotency

import (
	"github.com/playgroundx/settlement/internal/idempotency/repository"
	"github.com/playgroundx/settlement/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
