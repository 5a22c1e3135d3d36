package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/internal/clock"
	idemdomain "github.com/playgroundx/settlement/internal/idempotency/domain"
	ingressdomain "github.com/playgroundx/settlement/internal/ingress/domain"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	paymentdomain "github.com/playgroundx/settlement/internal/payment/domain"
	refunddomain "github.com/playgroundx/settlement/internal/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        paymentdomain.Repository
	Ingress     ingressdomain.Service
	Idempotency idemdomain.Service
	Refunds     refunddomain.Service
	AuditSvc    auditdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
	Clock       clock.Clock         `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        paymentdomain.Repository
	ingress     ingressdomain.Service
	idempotency idemdomain.Service
	refunds     refunddomain.Service
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
	clock       clock.Clock
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		ingress:     p.Ingress,
		idempotency: p.Idempotency,
		refunds:     p.Refunds,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
		clock:       clk,
	}
}

// SourceFor is the ingress source a provider's charges are posted under.
func SourceFor(provider string) string {
	return "gateway:" + provider
}

// ProcessEvent records the callback once and routes it. Charges go through
// event ingress keyed by the gateway transaction id. Disputes open a dispute
// against the ledger event that charge produced.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.GatewayEvent) (paymentdomain.Outcome, error) {
	if err := validateEvent(event); err != nil {
		return paymentdomain.Outcome{}, err
	}
	outcome := paymentdomain.Outcome{Provider: event.Provider, EventType: event.Type}

	now := s.clock.Now().UTC()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         rawJSON(event.RawPayload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return outcome, err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return outcome, err
		}
		if stored == nil {
			return outcome, paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			outcome.Duplicate = true
			outcome.LedgerEventID = stored.LedgerEventID
			outcome.RefundRequestID = stored.RefundRequestID
			return outcome, nil
		}
	}

	switch event.Type {
	case paymentdomain.EventTypeCharge:
		result, err := s.ingress.Submit(ctx, ingressdomain.SubmitRequest{
			Source:         SourceFor(event.Provider),
			IdempotencyKey: event.TransactionID,
			Type:           defaultString(event.EventType, "tip"),
			Tier:           event.Tier,
			GrossAmount:    event.Amount,
			Currency:       event.Currency,
			CreatorID:      event.CreatorID,
			FanID:          event.FanID,
			OccurredAt:     occurredAt(event.OccurredAt),
			Metadata: map[string]any{
				"provider":          event.Provider,
				"provider_event_id": event.ProviderEventID,
				"transaction_id":    event.TransactionID,
			},
		})
		if err != nil {
			return outcome, err
		}
		outcome.Duplicate = result.Duplicate
		stored.LedgerEventID = &result.EventID
	case paymentdomain.EventTypeDispute:
		record, err := s.idempotency.Lookup(ctx, SourceFor(event.Provider), event.TransactionID)
		if err != nil {
			if errors.Is(err, idemdomain.ErrNotFound) {
				return outcome, paymentdomain.ErrUnknownCharge
			}
			return outcome, err
		}
		request, err := s.refunds.OpenDispute(ctx, refunddomain.DisputeRequest{
			EventID:     record.EventID,
			Reason:      defaultString(event.Reason, "gateway dispute"),
			ExternalRef: event.Provider + ":" + event.DisputeID,
		})
		if err != nil {
			return outcome, err
		}
		stored.LedgerEventID = &record.EventID
		stored.RefundRequestID = &request.ID
		outcome.RefundRequestID = &request.ID
	}
	outcome.LedgerEventID = stored.LedgerEventID

	processedAt := s.clock.Now().UTC()
	stored.ProcessedAt = &processedAt
	if err := s.repo.MarkProcessed(ctx, s.db, stored); err != nil {
		return outcome, err
	}

	if inserted {
		s.obsMetrics.RecordGatewayEvent(ctx, event.Provider, event.Type)
	}
	s.writeAuditLog(ctx, "payment."+event.Type+"_received", stored, event)
	return outcome, nil
}

func validateEvent(event *paymentdomain.GatewayEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	event.TransactionID = strings.TrimSpace(event.TransactionID)
	if event.ProviderEventID == "" || event.TransactionID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypeCharge:
	case paymentdomain.EventTypeDispute:
		if strings.TrimSpace(event.DisputeID) == "" {
			return paymentdomain.ErrInvalidEvent
		}
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) writeAuditLog(ctx context.Context, action string, stored *paymentdomain.EventRecord, event *paymentdomain.GatewayEvent) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"provider":          stored.Provider,
		"provider_event_id": stored.ProviderEventID,
		"transaction_id":    event.TransactionID,
		"amount":            event.Amount,
		"currency":          event.Currency,
		"payment_event_id":  stored.ID.String(),
	}
	if event.DisputeID != "" {
		metadata["dispute_id"] = event.DisputeID
	}
	if stored.LedgerEventID != nil {
		metadata["ledger_event_id"] = stored.LedgerEventID.String()
	}
	if stored.RefundRequestID != nil {
		metadata["refund_request_id"] = stored.RefundRequestID.String()
	}

	actorID := stored.Provider
	targetID := stored.ID.String()
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeGateway), &actorID, action, "payment_event", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}

func rawJSON(payload []byte) datatypes.JSON {
	if json.Valid(payload) {
		return datatypes.JSON(payload)
	}
	// Braintree bodies are XML and are stored as a JSON string.
	quoted, _ := json.Marshal(string(payload))
	return datatypes.JSON(quoted)
}

func occurredAt(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func defaultString(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}
