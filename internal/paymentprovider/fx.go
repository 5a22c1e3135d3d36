package paymentprovider

import (
	"github.com/playgroundx/settlement/internal/paymentprovider/repository"
	"github.com/playgroundx/settlement/internal/paymentprovider/service"
	"go.uber.org/fx"
)

// Module provides gateway credential storage. Webhook verification reads
// secrets through it.
var Module = fx.Module("paymentprovider",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
