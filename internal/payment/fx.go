package payment

import (
	"github.com/playgroundx/settlement/internal/payment/adapters"
	"github.com/playgroundx/settlement/internal/payment/adapters/braintree"
	"github.com/playgroundx/settlement/internal/payment/adapters/stripe"
	"github.com/playgroundx/settlement/internal/payment/repository"
	paymentservice "github.com/playgroundx/settlement/internal/payment/service"
	"github.com/playgroundx/settlement/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

func NewRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		stripe.NewFactory(),
		braintree.NewFactory(),
	)
}
