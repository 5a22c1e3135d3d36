package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/playgroundx/settlement/internal/alert/domain"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/events"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/internal/notification"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/internal/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Ledger     ledgerdomain.Service
	Payout     payoutdomain.Service
	AuditSvc   auditdomain.Service   `optional:"true"`
	AlertSvc   alertdomain.Service   `optional:"true"`
	Outbox     *events.Outbox        `optional:"true"`
	Notifier   notification.Notifier `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
	Clock      clock.Clock           `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	ledger     ledgerdomain.Service
	payout     payoutdomain.Service
	auditSvc   auditdomain.Service
	alertSvc   alertdomain.Service
	outbox     *events.Outbox
	notifier   notification.Notifier
	obsMetrics *obsmetrics.Metrics
	clock      clock.Clock
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("refund.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ledger:     p.Ledger,
		payout:     p.Payout,
		auditSvc:   p.AuditSvc,
		alertSvc:   p.AlertSvc,
		outbox:     p.Outbox,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
		clock:      clk,
	}
}

// RequestRefund opens a refund request for a posted event. An event with an
// undecided request returns that request.
func (s *Service) RequestRefund(ctx context.Context, req domain.CreateRequest) (*domain.RefundRequest, error) {
	var request *domain.RefundRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := s.refundableEvent(ctx, tx, req.EventID)
		if err != nil {
			return err
		}
		if event.Status == ledgerdomain.EventStatusReversed {
			return domain.ErrEventReversed
		}

		request, err = s.repo.OpenForEvent(ctx, tx, event.ID)
		if err != nil || request != nil {
			return err
		}

		now := s.clock.Now().UTC()
		request = &domain.RefundRequest{
			ID:          s.genID.Generate(),
			EventID:     event.ID,
			Kind:        domain.KindRefund,
			Status:      domain.StatusRequested,
			Reason:      optional(req.Reason),
			RequestedBy: optional(req.RequestedBy),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := s.repo.Insert(ctx, tx, request); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, string(auditdomain.ActorTypeUser), req.RequestedBy, "refund.requested", request.ID, map[string]any{
			"event_id": request.EventID.String(),
			"reason":   req.Reason,
		}); err != nil {
			return err
		}
		return s.publish(ctx, tx, events.EventRefundRequested, request)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) OpenDispute(ctx context.Context, req domain.DisputeRequest) (*domain.RefundRequest, error) {
	ref := strings.TrimSpace(req.ExternalRef)
	if ref == "" {
		return nil, domain.ErrInvalidExternalRef
	}

	var request *domain.RefundRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.GetByExternalRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.EventID != req.EventID {
				return fmt.Errorf("%w: dispute %s belongs to event %s", domain.ErrInvalidEvent, ref, existing.EventID)
			}
			request = existing
			return nil
		}

		event, err := s.refundableEvent(ctx, tx, req.EventID)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		request = &domain.RefundRequest{
			ID:          s.genID.Generate(),
			EventID:     event.ID,
			Kind:        domain.KindDispute,
			Status:      domain.StatusDispute,
			Reason:      optional(req.Reason),
			RequestedBy: event.FanID,
			ExternalRef: &ref,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		inserted, err := s.repo.Insert(ctx, tx, request)
		if err != nil {
			return err
		}
		if !inserted {
			request, err = s.repo.GetByExternalRef(ctx, tx, ref)
			if err != nil {
				return err
			}
			if request == nil {
				return fmt.Errorf("dispute %s neither inserted nor found", ref)
			}
			return nil
		}
		if err := s.audit(ctx, tx, string(auditdomain.ActorTypeGateway), "", "refund.dispute_opened", request.ID, map[string]any{
			"event_id":     request.EventID.String(),
			"external_ref": ref,
		}); err != nil {
			return err
		}
		return s.publish(ctx, tx, events.EventRefundRequested, request)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Decide settles a request. Approval reverses the event in the same
// transaction; when the creator was already paid for it, the paid batch is
// flagged for clawback and the request stays open.
func (s *Service) Decide(ctx context.Context, req domain.DecideRequest) (domain.DecideResult, error) {
	decision := domain.Decision(strings.ToLower(strings.TrimSpace(string(req.Decision))))
	if decision != domain.DecisionApprove && decision != domain.DecisionDecline {
		return domain.DecideResult{}, domain.ErrInvalidDecision
	}
	reviewer := strings.TrimSpace(req.ReviewerID)
	notes := strings.TrimSpace(req.Notes)

	var (
		request  *domain.RefundRequest
		reversal *ledgerdomain.LedgerEvent
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		request, err = s.repo.Get(ctx, tx, req.RequestID, true)
		if err != nil {
			return err
		}
		if request == nil {
			return domain.ErrNotFound
		}
		if request.Status.Terminal() {
			return domain.ErrAlreadyDecided
		}

		now := s.clock.Now().UTC()
		request.DecidedBy = optional(reviewer)
		request.DecidedAt = &now
		request.DecisionNotes = optional(notes)
		request.UpdatedAt = now
		request.Status = domain.StatusDeclined

		if decision == domain.DecisionApprove {
			reason := notes
			if reason == "" && request.Reason != nil {
				reason = *request.Reason
			}
			reversed, err := s.ledger.ReverseTx(ctx, tx, ledgerdomain.ReverseRequest{
				EventID: request.EventID,
				Reason:  reason,
				Ref:     "refund:" + request.ID.String(),
			})
			if err != nil {
				return err
			}
			reversal = reversed.Reversal
			reversalID := reversal.ID
			request.ReversalEventID = &reversalID
			request.Status = domain.StatusApproved
		}

		decided, err := s.repo.Decide(ctx, tx, request)
		if err != nil {
			return err
		}
		if !decided {
			return domain.ErrAlreadyDecided
		}

		metadata := map[string]any{
			"event_id": request.EventID.String(),
			"decision": string(decision),
			"notes":    notes,
		}
		if reversal != nil {
			metadata["reversal_event_id"] = reversal.ID.String()
		}
		if err := s.audit(ctx, tx, string(auditdomain.ActorTypeAdmin), reviewer, "refund."+string(request.Status), request.ID, metadata); err != nil {
			return err
		}
		return s.publish(ctx, tx, events.EventRefundDecided, request)
	})
	switch {
	case errors.Is(err, ledgerdomain.ErrFundsPaidOut):
		return domain.DecideResult{}, s.flagClawback(ctx, req.RequestID, reviewer)
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		s.raise(ctx, alertdomain.KindInsufficientFunds, "", "refund reversal exceeds balance", map[string]any{
			"refund_request_id": req.RequestID.String(),
			"error":             err.Error(),
		})
		return domain.DecideResult{}, err
	case err != nil:
		return domain.DecideResult{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordRefundDecision(ctx, string(request.Kind), string(request.Status))
	}
	s.notify(ctx, request)
	return domain.DecideResult{Request: request, Reversal: reversal}, nil
}

// flagClawback records that a paid batch owes the event's creator share back.
// A request already flagged is not flagged again.
func (s *Service) flagClawback(ctx context.Context, requestID snowflake.ID, reviewer string) error {
	var (
		request *domain.RefundRequest
		event   *ledgerdomain.LedgerEvent
		flagged bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		request, err = s.repo.Get(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		if request == nil {
			return domain.ErrNotFound
		}
		if request.ClawbackBatchID != nil {
			return nil
		}
		event, err = s.ledger.GetEventTx(ctx, tx, request.EventID)
		if err != nil {
			return err
		}
		if event.PayoutBatchID == nil {
			return fmt.Errorf("event %s reported paid out without a batch", event.ID)
		}
		if err := s.payout.FlagClawbackTx(ctx, tx, *event.PayoutBatchID, event.CreatorShare); err != nil {
			return err
		}
		if err := s.repo.SetClawbackBatch(ctx, tx, request.ID, *event.PayoutBatchID); err != nil {
			return err
		}
		flagged = true
		return s.audit(ctx, tx, string(auditdomain.ActorTypeAdmin), reviewer, "refund.clawback_flagged", request.ID, map[string]any{
			"event_id": event.ID.String(),
			"batch_id": event.PayoutBatchID.String(),
			"amount":   event.CreatorShare,
		})
	})
	if err != nil {
		return err
	}

	if flagged {
		batchID := event.PayoutBatchID.String()
		s.raise(ctx, alertdomain.KindClawbackRequired, event.CreatorAccountID(), "refund approved after payout of batch "+batchID, map[string]any{
			"refund_request_id": request.ID.String(),
			"event_id":          event.ID.String(),
			"batch_id":          batchID,
			"amount":            event.CreatorShare,
		})
	}
	return domain.ErrClawbackRequired
}

func (s *Service) refundableEvent(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*ledgerdomain.LedgerEvent, error) {
	event, err := s.ledger.GetEventTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if event.Type == ledgerdomain.EventTypeRefund {
		return nil, domain.ErrInvalidEvent
	}
	return event, nil
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, eventType events.Type, request *domain.RefundRequest) error {
	if s.outbox == nil {
		return nil
	}
	payload := map[string]any{
		"refund_request_id": request.ID.String(),
		"event_id":          request.EventID.String(),
		"kind":              string(request.Kind),
		"status":            string(request.Status),
	}
	if request.ReversalEventID != nil {
		payload["reversal_event_id"] = request.ReversalEventID.String()
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:    eventType,
		Key:     request.EventID.String(),
		Payload: payload,
	})
}

func (s *Service) notify(ctx context.Context, request *domain.RefundRequest) {
	if s.notifier == nil || request.RequestedBy == nil {
		return
	}
	data := map[string]any{
		"event_id": request.EventID.String(),
		"decision": string(request.Status),
		"message":  notification.FriendlyMessage(string(request.Status)),
	}
	if request.DecisionNotes != nil {
		data["notes"] = *request.DecisionNotes
	}
	s.notifier.Notify(ctx, notification.Notification{
		UserID:   *request.RequestedBy,
		Template: notification.TemplateRefundDecided,
		Data:     data,
	})
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actorType, actorID, action string, requestID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	var actor *string
	if actorID = strings.TrimSpace(actorID); actorID != "" {
		actor = &actorID
	} else if actorType != string(auditdomain.ActorTypeGateway) {
		actorType = ""
	}
	id := requestID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, actorType, actor, action, "refund_request", &id, metadata)
}

func (s *Service) raise(ctx context.Context, kind alertdomain.Kind, accountID, subject string, detail map[string]any) {
	s.log.Error(subject, zap.String("account_id", accountID), zap.Any("detail", detail))
	if s.alertSvc == nil {
		return
	}
	if _, err := s.alertSvc.Raise(ctx, alertdomain.RaiseRequest{
		Kind:      kind,
		Severity:  alertdomain.SeverityCritical,
		AccountID: accountID,
		Subject:   subject,
		Detail:    detail,
	}); err != nil {
		s.log.Warn("failed to raise integrity alert", zap.Error(err))
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
