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
	"github.com/playgroundx/settlement/internal/config"
	"github.com/playgroundx/settlement/internal/events"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/internal/notification"
	obslogger "github.com/playgroundx/settlement/internal/observability/logger"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	"github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	SkipBelowMinimum = "below_minimum"
	SkipNoEvents     = "no_claimable_events"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	GenID      *snowflake.Node
	Repo       domain.Repository
	Ledger     ledgerdomain.Service
	AuditSvc   auditdomain.Service   `optional:"true"`
	AlertSvc   alertdomain.Service   `optional:"true"`
	Outbox     *events.Outbox        `optional:"true"`
	Notifier   notification.Notifier `optional:"true"`
	PDF        pdf.Provider          `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
	Clock      clock.Clock           `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	ledger     ledgerdomain.Service
	auditSvc   auditdomain.Service
	alertSvc   alertdomain.Service
	outbox     *events.Outbox
	notifier   notification.Notifier
	pdf        pdf.Provider
	obsMetrics *obsmetrics.Metrics
	clock      clock.Clock

	minimum         int64
	defaultCurrency string
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payout.service"),
		genID:           p.GenID,
		repo:            p.Repo,
		ledger:          p.Ledger,
		auditSvc:        p.AuditSvc,
		alertSvc:        p.AlertSvc,
		outbox:          p.Outbox,
		notifier:        p.Notifier,
		pdf:             p.PDF,
		obsMetrics:      p.ObsMetrics,
		clock:           clk,
		minimum:         p.Cfg.Payout.MinimumAmount,
		defaultCurrency: p.Cfg.Payout.DefaultCurrency,
	}
}

func (s *Service) BuildBatch(ctx context.Context, req domain.BuildRequest) (domain.BuildResult, error) {
	return s.build(ctx, req, nil)
}

func (s *Service) Retry(ctx context.Context, req domain.RetryRequest) (domain.BuildResult, error) {
	failed, err := s.Get(ctx, req.BatchID)
	if err != nil {
		return domain.BuildResult{}, err
	}
	if failed.Status != domain.BatchStatusFailed {
		return domain.BuildResult{}, domain.ErrNotFailed
	}
	existing, err := s.repo.FindRetry(ctx, s.db, failed.ID)
	if err != nil {
		return domain.BuildResult{}, err
	}
	if existing != nil {
		return domain.BuildResult{}, fmt.Errorf("%w: retried by %s", domain.ErrAlreadyRetried, existing.ID)
	}

	return s.build(ctx, domain.BuildRequest{
		CreatorID: failed.CreatorID,
		Currency:  failed.Currency,
		AsOf:      failed.PeriodEnd,
		ActorID:   req.ActorID,
	}, failed)
}

// build claims the eligible events for the creator and holds their creator
// shares. A retry claims only what the failed batch released and is not subject
// to the payout minimum.
func (s *Service) build(ctx context.Context, req domain.BuildRequest, retryOf *domain.PayoutBatch) (domain.BuildResult, error) {
	creatorID := strings.TrimSpace(req.CreatorID)
	if creatorID == "" {
		return domain.BuildResult{}, domain.ErrInvalidCreator
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return domain.BuildResult{}, ledgerdomain.ErrInvalidCurrency
	}

	now := s.clock.Now().UTC()
	asOf := req.AsOf.UTC()
	if req.AsOf.IsZero() {
		asOf = now
	}

	var result domain.BuildResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claimable []domain.ClaimableEvent
		var err error
		if retryOf != nil {
			claimable, err = s.repo.RetryableEvents(ctx, tx, retryOf.ID)
		} else {
			claimable, err = s.repo.ClaimableEvents(ctx, tx, creatorID, currency, asOf)
		}
		if err != nil {
			return err
		}
		if len(claimable) == 0 {
			result = domain.BuildResult{Skipped: true, Reason: SkipNoEvents}
			return nil
		}

		var gross, creatorEarned, platformEarned int64
		for _, event := range claimable {
			gross += event.GrossAmount
			creatorEarned += event.CreatorShare
			platformEarned += event.PlatformShare
		}
		if retryOf == nil && creatorEarned < s.minimum {
			result = domain.BuildResult{Skipped: true, Reason: SkipBelowMinimum}
			return nil
		}

		periodStart := claimable[0].OccurredAt
		batch := &domain.PayoutBatch{
			ID:             s.genID.Generate(),
			CreatorID:      creatorID,
			Currency:       currency,
			PeriodStart:    &periodStart,
			PeriodEnd:      asOf,
			Gross:          gross,
			CreatorEarned:  creatorEarned,
			PlatformEarned: platformEarned,
			EventCount:     len(claimable),
			Status:         domain.BatchStatusPending,
			CreatedBy:      optional(req.ActorID),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if retryOf != nil {
			id := retryOf.ID
			batch.RetryOfBatchID = &id
		}
		if err := s.repo.InsertBatch(ctx, tx, batch); err != nil {
			return err
		}

		items := make([]domain.PayoutBatchItem, 0, len(claimable))
		for _, event := range claimable {
			claimed, err := s.repo.ClaimEvent(ctx, tx, event.ID, batch.ID)
			if err != nil {
				return err
			}
			if !claimed {
				return fmt.Errorf("%w: event %s", domain.ErrClaimConflict, event.ID)
			}
			items = append(items, domain.PayoutBatchItem{
				BatchID:       batch.ID,
				EventID:       event.ID,
				GrossAmount:   event.GrossAmount,
				CreatorShare:  event.CreatorShare,
				PlatformShare: event.PlatformShare,
				CreatedAt:     now,
			})
		}
		if err := s.repo.InsertItems(ctx, tx, items); err != nil {
			return err
		}

		if err := s.ledger.HoldTx(ctx, tx, creatorKey(creatorID, currency), creatorEarned); err != nil {
			return err
		}

		if err := s.transition(ctx, tx, batch, domain.BatchStatusReady); err != nil {
			return err
		}
		if err := s.publish(ctx, tx, events.EventPayoutBatchReady, batch); err != nil {
			return err
		}

		metadata := map[string]any{
			"creator_id":     creatorID,
			"currency":       currency,
			"creator_earned": batch.CreatorEarned,
			"event_count":    batch.EventCount,
		}
		if retryOf != nil {
			metadata["retry_of_batch_id"] = retryOf.ID.String()
		}
		if err := s.audit(ctx, tx, req.ActorID, "payout.batch_built", batch.ID, metadata); err != nil {
			return err
		}

		result = domain.BuildResult{Batch: batch, Items: items}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
			s.raise(ctx, alertdomain.KindInsufficientFunds, ledgerdomain.CreatorAccount(creatorID),
				"payout hold exceeds available balance", map[string]any{"currency": currency, "error": err.Error()})
		}
		return domain.BuildResult{}, err
	}
	if result.Skipped {
		s.log.Debug("payout batch skipped",
			zap.String("creator_id", creatorID),
			zap.String("currency", currency),
			zap.String("reason", result.Reason),
		)
		return result, nil
	}

	s.record(ctx, result.Batch)
	return result, nil
}

func (s *Service) MarkProcessing(ctx context.Context, req domain.MarkProcessingRequest) (*domain.PayoutBatch, error) {
	return s.finalize(ctx, req.BatchID, domain.BatchStatusProcessing, req.ActorID, func(tx *gorm.DB, batch *domain.PayoutBatch) error {
		if ref := strings.TrimSpace(req.ExternalRef); ref != "" {
			batch.ExternalRef = &ref
		}
		return nil
	})
}

func (s *Service) MarkPaid(ctx context.Context, req domain.MarkPaidRequest) (*domain.PayoutBatch, error) {
	batch, err := s.finalize(ctx, req.BatchID, domain.BatchStatusPaid, req.ActorID, func(tx *gorm.DB, batch *domain.PayoutBatch) error {
		if ref := strings.TrimSpace(req.ExternalRef); ref != "" {
			batch.ExternalRef = &ref
		}
		return s.ledger.SettleHoldTx(ctx, tx, creatorKey(batch.CreatorID, batch.Currency), batch.CreatorEarned)
	})
	if err != nil {
		return nil, err
	}
	obslogger.WithCreator(s.log, batch.CreatorID).Info("payout.batch.paid",
		zap.String("batch_id", batch.ID.String()),
		zap.Int64("amount", batch.CreatorEarned),
		obslogger.MaskedReference("external_ref", req.ExternalRef),
	)

	if s.notifier != nil {
		s.notifier.Notify(ctx, notification.Notification{
			UserID:   batch.CreatorID,
			Template: notification.TemplatePayoutPaid,
			Data: map[string]any{
				"batch_id": batch.ID.String(),
				"amount":   notification.FormatAmount(batch.CreatorEarned),
				"currency": batch.Currency,
			},
		})
	}
	return batch, nil
}

func (s *Service) MarkFailed(ctx context.Context, req domain.MarkFailedRequest) (*domain.PayoutBatch, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "payout failed"
	}
	return s.finalize(ctx, req.BatchID, domain.BatchStatusFailed, req.ActorID, func(tx *gorm.DB, batch *domain.PayoutBatch) error {
		batch.FailureReason = &reason
		if err := s.ledger.ReleaseHoldTx(ctx, tx, creatorKey(batch.CreatorID, batch.Currency), batch.CreatorEarned); err != nil {
			return err
		}
		_, err := s.repo.ReleaseClaims(ctx, tx, batch.ID, domain.ReleaseReasonBatchFailed, s.clock.Now().UTC())
		return err
	})
}

// finalize loads the batch under lock, applies mutate and moves it to status.
func (s *Service) finalize(ctx context.Context, id snowflake.ID, to domain.BatchStatus, actorID string, mutate func(tx *gorm.DB, batch *domain.PayoutBatch) error) (*domain.PayoutBatch, error) {
	var (
		batch *domain.PayoutBatch
		from  domain.BatchStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = s.repo.GetBatch(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrNotFound
		}
		from = batch.Status
		if !from.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
		}
		if err := mutate(tx, batch); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, batch, to); err != nil {
			return err
		}

		metadata := map[string]any{"from": string(from), "to": string(to)}
		if batch.ExternalRef != nil {
			metadata["external_ref"] = *batch.ExternalRef
		}
		if batch.FailureReason != nil {
			metadata["failure_reason"] = *batch.FailureReason
		}
		if err := s.audit(ctx, tx, actorID, "payout.batch_"+string(to), batch.ID, metadata); err != nil {
			return err
		}
		return s.publish(ctx, tx, eventForStatus(to), batch)
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientFunds) && batch != nil {
			s.raise(ctx, alertdomain.KindInsufficientFunds, ledgerdomain.CreatorAccount(batch.CreatorID),
				"held balance cannot cover payout batch "+batch.ID.String(),
				map[string]any{"batch_id": batch.ID.String(), "target_status": string(to), "error": err.Error()})
		}
		return nil, err
	}

	s.record(ctx, batch)
	return batch, nil
}

func (s *Service) transition(ctx context.Context, tx *gorm.DB, batch *domain.PayoutBatch, to domain.BatchStatus) error {
	now := s.clock.Now().UTC()
	from := batch.Status
	batch.Status = to
	batch.UpdatedAt = now
	switch to {
	case domain.BatchStatusProcessing:
		batch.ProcessingAt = &now
	case domain.BatchStatusPaid:
		batch.PaidAt = &now
	case domain.BatchStatusFailed:
		batch.FailedAt = &now
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, batch, from, batch.Version)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrConcurrentUpdate
	}
	batch.Version++
	return nil
}

func (s *Service) FlagClawbackTx(ctx context.Context, tx *gorm.DB, batchID snowflake.ID, amount int64) error {
	flagged, err := s.repo.AddClawback(ctx, tx, batchID, amount, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !flagged {
		batch, err := s.repo.GetBatch(ctx, tx, batchID, false)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: clawback on %s batch", domain.ErrInvalidTransition, batch.Status)
	}
	if s.outbox == nil {
		return nil
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type: events.EventPayoutClawbackFlagged,
		Key:  batchID.String(),
		Payload: map[string]any{
			"batch_id": batchID.String(),
			"amount":   amount,
		},
	})
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, eventType events.Type, batch *domain.PayoutBatch) error {
	if s.outbox == nil {
		return nil
	}
	payload := map[string]any{
		"batch_id":        batch.ID.String(),
		"creator_id":      batch.CreatorID,
		"currency":        batch.Currency,
		"status":          string(batch.Status),
		"gross":           batch.Gross,
		"creator_earned":  batch.CreatorEarned,
		"platform_earned": batch.PlatformEarned,
		"event_count":     batch.EventCount,
	}
	if batch.RetryOfBatchID != nil {
		payload["retry_of_batch_id"] = batch.RetryOfBatchID.String()
	}
	if batch.FailureReason != nil {
		payload["failure_reason"] = *batch.FailureReason
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:    eventType,
		Key:     "creator:" + batch.CreatorID,
		Payload: payload,
	})
}

func eventForStatus(status domain.BatchStatus) events.Type {
	switch status {
	case domain.BatchStatusProcessing:
		return events.EventPayoutBatchProcessing
	case domain.BatchStatusPaid:
		return events.EventPayoutBatchPaid
	case domain.BatchStatusFailed:
		return events.EventPayoutBatchFailed
	default:
		return events.EventPayoutBatchReady
	}
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actorID, action string, batchID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	actorType := ""
	var actor *string
	if actorID = strings.TrimSpace(actorID); actorID != "" {
		actorType = string(auditdomain.ActorTypeAdmin)
		actor = &actorID
	}
	id := batchID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, actorType, actor, action, "payout_batch", &id, metadata)
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

func (s *Service) record(ctx context.Context, batch *domain.PayoutBatch) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPayoutBatch(ctx, string(batch.Status), batch.Currency, batch.CreatorEarned)
	}
}

func creatorKey(creatorID, currency string) ledgerdomain.BalanceKey {
	return ledgerdomain.BalanceKey{AccountID: ledgerdomain.CreatorAccount(creatorID), Currency: currency}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
