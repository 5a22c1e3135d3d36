package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/playgroundx/settlement/internal/payment/adapters"
	paymentdomain "github.com/playgroundx/settlement/internal/payment/domain"
	paymentservice "github.com/playgroundx/settlement/internal/payment/service"
	providerdomain "github.com/playgroundx/settlement/internal/paymentprovider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Providers  providerdomain.Service
	Adapters   *adapters.Registry
}

type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	providers  providerdomain.Service
	adapters   *adapters.Registry
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		providers:  p.Providers,
		adapters:   p.Adapters,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.Outcome, error) {
	provider = adapters.Normalize(provider)
	if provider == "" {
		return paymentdomain.Outcome{}, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.Supports(provider) {
		return paymentdomain.Outcome{}, paymentdomain.ErrProviderNotFound
	}
	outcome := paymentdomain.Outcome{Provider: provider}

	creds, err := s.providers.Credentials(ctx, provider)
	if err != nil {
		switch {
		case errors.Is(err, providerdomain.ErrNotFound), errors.Is(err, providerdomain.ErrInactive):
			return outcome, paymentdomain.ErrProviderNotFound
		case errors.Is(err, providerdomain.ErrInvalidConfig):
			return outcome, paymentdomain.ErrInvalidConfig
		}
		return outcome, err
	}

	adapter, err := s.adapters.Build(provider, creds)
	if err != nil {
		return outcome, err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("gateway webhook rejected", zap.String("provider", provider), zap.Error(err))
		return outcome, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			outcome.Ignored = true
			return outcome, nil
		}
		return outcome, err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	return s.paymentSvc.ProcessEvent(ctx, event)
}
