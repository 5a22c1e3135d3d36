package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/playgroundx/settlement/internal/alert/domain"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/events"
	feedomain "github.com/playgroundx/settlement/internal/fee/domain"
	idemdomain "github.com/playgroundx/settlement/internal/idempotency/domain"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const fullPlatformBps = 10000

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        ledgerdomain.Repository
	Fees        feedomain.Service
	Idempotency idemdomain.Service
	AuditSvc    auditdomain.Service `optional:"true"`
	AlertSvc    alertdomain.Service `optional:"true"`
	Outbox      *events.Outbox      `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
	Clock       clock.Clock         `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        ledgerdomain.Repository
	fees        feedomain.Service
	idempotency idemdomain.Service
	auditSvc    auditdomain.Service
	alertSvc    alertdomain.Service
	outbox      *events.Outbox
	obsMetrics  *obsmetrics.Metrics
	clock       clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ledger.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		fees:        p.Fees,
		idempotency: p.Idempotency,
		auditSvc:    p.AuditSvc,
		alertSvc:    p.AlertSvc,
		outbox:      p.Outbox,
		obsMetrics:  p.ObsMetrics,
		clock:       clk,
	}
}

func (s *Service) Post(ctx context.Context, req ledgerdomain.PostRequest) (ledgerdomain.PostResult, error) {
	var result ledgerdomain.PostResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.PostTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return ledgerdomain.PostResult{}, err
	}

	if result.Duplicate && s.obsMetrics != nil {
		s.obsMetrics.RecordDuplicate(ctx, result.Event.Source)
	}
	return result, nil
}

func (s *Service) PostTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.PostRequest) (ledgerdomain.PostResult, error) {
	post, err := s.normalizePost(req)
	if err != nil {
		return ledgerdomain.PostResult{}, err
	}

	admit, err := s.idempotency.Admit(ctx, tx, idemdomain.AdmitRequest{
		Source:  post.Source,
		Key:     post.IdempotencyKey,
		Payload: fingerprint(post, req.OccurredAt),
	})
	if err != nil {
		return ledgerdomain.PostResult{}, err
	}
	if !admit.Accepted {
		existing, err := s.repo.GetEvent(ctx, tx, admit.EventID, false)
		if err != nil {
			return ledgerdomain.PostResult{}, err
		}
		if existing == nil {
			return ledgerdomain.PostResult{}, fmt.Errorf("%w: %s", ledgerdomain.ErrIdempotencyRecordLost, admit.EventID)
		}
		return ledgerdomain.PostResult{Event: existing, Duplicate: true}, nil
	}

	// Priced only once admitted; a failure below rolls the admission back with tx.
	split, err := s.fees.Split(post.GrossAmount, string(post.Type), post.Tier)
	if err != nil {
		return ledgerdomain.PostResult{}, err
	}
	if post.Type != ledgerdomain.EventTypeWalletTopup && post.CreatorID == "" {
		split.PlatformShare = split.Gross
		split.CreatorShare = 0
		split.PlatformBps = fullPlatformBps
	}

	now := s.clock.Now().UTC()
	metadata := datatypes.JSONMap{}
	for k, v := range post.Metadata {
		metadata[k] = v
	}
	event := &ledgerdomain.LedgerEvent{
		ID:                 admit.EventID,
		Source:             post.Source,
		IdempotencyKey:     post.IdempotencyKey,
		Type:               post.Type,
		Tier:               split.Tier,
		GrossAmount:        split.Gross,
		CreatorShare:       split.CreatorShare,
		PlatformShare:      split.PlatformShare,
		Currency:           post.Currency,
		CreatorID:          optional(post.CreatorID),
		FanID:              optional(post.FanID),
		FundingSource:      post.FundingSource,
		FeeScheduleVersion: split.ScheduleVersion,
		PlatformBps:        split.PlatformBps,
		OccurredAt:         post.OccurredAt,
		Status:             ledgerdomain.EventStatusPosted,
		Metadata:           metadata,
		CreatedAt:          now,
	}

	if event.FundingSource == ledgerdomain.FundingSourceWallet {
		ok, err := s.repo.DebitAvailable(ctx, tx, walletKey(post.FanID, event.Currency), event.GrossAmount, 0, now)
		if err != nil {
			return ledgerdomain.PostResult{}, err
		}
		if !ok && event.GrossAmount > 0 {
			return ledgerdomain.PostResult{}, ledgerdomain.ErrWalletInsufficient
		}
	}

	if err := s.repo.InsertEvent(ctx, tx, event); err != nil {
		return ledgerdomain.PostResult{}, err
	}

	switch {
	case event.Type == ledgerdomain.EventTypeWalletTopup:
		if err := s.repo.Credit(ctx, tx, walletKey(post.FanID, event.Currency), ledgerdomain.AccountTypeWallet, event.CreatorShare, event.CreatorShare, now); err != nil {
			return ledgerdomain.PostResult{}, err
		}
	case post.CreatorID != "":
		if err := s.repo.Credit(ctx, tx, creatorKey(post.CreatorID, event.Currency), ledgerdomain.AccountTypeCreator, event.CreatorShare, event.CreatorShare, now); err != nil {
			return ledgerdomain.PostResult{}, err
		}
	}
	if event.PlatformShare != 0 {
		if err := s.repo.Credit(ctx, tx, platformKey(event.Currency), ledgerdomain.AccountTypePlatform, event.PlatformShare, event.PlatformShare, now); err != nil {
			return ledgerdomain.PostResult{}, err
		}
	}

	if s.outbox != nil {
		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			Type:    events.EventLedgerEventPosted,
			Key:     partitionKey(event),
			Payload: eventPayload(event),
		}); err != nil {
			return ledgerdomain.PostResult{}, err
		}
	}

	if err := s.audit(ctx, tx, "ledger.event_posted", event.ID, map[string]any{
		"source":               event.Source,
		"idempotency_key":      event.IdempotencyKey,
		"type":                 string(event.Type),
		"gross_amount":         event.GrossAmount,
		"creator_share":        event.CreatorShare,
		"platform_share":       event.PlatformShare,
		"currency":             event.Currency,
		"fee_schedule_version": event.FeeScheduleVersion,
	}); err != nil {
		return ledgerdomain.PostResult{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordEventPosted(ctx, event.Source, string(event.Type), event.Currency, event.GrossAmount)
	}
	return ledgerdomain.PostResult{Event: event}, nil
}

func (s *Service) Reverse(ctx context.Context, req ledgerdomain.ReverseRequest) (ledgerdomain.ReverseResult, error) {
	var result ledgerdomain.ReverseResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.ReverseTx(ctx, tx, req)
		return err
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
			s.raiseShortfall(ctx, req.EventID, err)
		}
		return ledgerdomain.ReverseResult{}, err
	}
	return result, nil
}

// ReverseTx posts the paired refund event for req.EventID. Where the original's
// creator share sits decides which bucket pays for it: available when
// unclaimed, held when an open batch claimed it. A batch already at the bank or
// paid cannot give the money back.
func (s *Service) ReverseTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.ReverseRequest) (ledgerdomain.ReverseResult, error) {
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		return ledgerdomain.ReverseResult{}, ledgerdomain.ErrInvalidReference
	}

	original, err := s.repo.GetEvent(ctx, tx, req.EventID, true)
	if err != nil {
		return ledgerdomain.ReverseResult{}, err
	}
	if original == nil {
		return ledgerdomain.ReverseResult{}, ledgerdomain.ErrNotFound
	}
	if original.Type == ledgerdomain.EventTypeRefund {
		return ledgerdomain.ReverseResult{}, ledgerdomain.ErrNotReversible
	}

	if original.Status == ledgerdomain.EventStatusReversed {
		reversal, err := s.repo.GetReversalOf(ctx, tx, original.ID)
		if err != nil {
			return ledgerdomain.ReverseResult{}, err
		}
		if reversal != nil && reversal.ReversalRef != nil && *reversal.ReversalRef == ref {
			return ledgerdomain.ReverseResult{Original: original, Reversal: reversal, Replayed: true}, nil
		}
		return ledgerdomain.ReverseResult{}, ledgerdomain.ErrAlreadyReversed
	}

	var openBatch *snowflake.ID
	if original.PayoutBatchID != nil {
		claim, err := s.repo.GetClaim(ctx, tx, *original.PayoutBatchID, true)
		if err != nil {
			return ledgerdomain.ReverseResult{}, err
		}
		if claim != nil {
			switch claim.Status {
			case "processing":
				return ledgerdomain.ReverseResult{}, ledgerdomain.ErrBatchInFlight
			case "paid":
				return ledgerdomain.ReverseResult{}, ledgerdomain.ErrFundsPaidOut
			case "pending", "ready":
				id := claim.BatchID
				openBatch = &id
			}
		}
	}

	now := s.clock.Now().UTC()
	reason := strings.TrimSpace(req.Reason)
	originalID := original.ID
	reversal := &ledgerdomain.LedgerEvent{
		ID:                 s.genID.Generate(),
		Source:             ledgerdomain.ReversalSource,
		IdempotencyKey:     ledgerdomain.ReversalKey(original.ID),
		Type:               ledgerdomain.EventTypeRefund,
		Tier:               original.Tier,
		GrossAmount:        -original.GrossAmount,
		CreatorShare:       -original.CreatorShare,
		PlatformShare:      -original.PlatformShare,
		Currency:           original.Currency,
		CreatorID:          original.CreatorID,
		FanID:              original.FanID,
		FundingSource:      original.FundingSource,
		FeeScheduleVersion: original.FeeScheduleVersion,
		PlatformBps:        original.PlatformBps,
		OccurredAt:         now.Truncate(time.Microsecond),
		Status:             ledgerdomain.EventStatusPosted,
		ReversesEventID:    &originalID,
		ReversalRef:        &ref,
		Reason:             optional(reason),
		Metadata:           datatypes.JSONMap{"original_type": string(original.Type)},
		CreatedAt:          now,
	}

	marked, err := s.repo.MarkReversed(ctx, tx, original.ID)
	if err != nil {
		return ledgerdomain.ReverseResult{}, err
	}
	if !marked {
		return ledgerdomain.ReverseResult{}, ledgerdomain.ErrConcurrentUpdate
	}
	if err := s.repo.InsertEvent(ctx, tx, reversal); err != nil {
		return ledgerdomain.ReverseResult{}, err
	}

	if err := s.unwindBalances(ctx, tx, original, openBatch, now); err != nil {
		return ledgerdomain.ReverseResult{}, err
	}

	if s.outbox != nil {
		payload := eventPayload(reversal)
		payload["reverses_event_id"] = original.ID.String()
		payload["reversal_ref"] = ref
		if openBatch != nil {
			payload["payout_batch_id"] = openBatch.String()
		}
		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			Type:    events.EventLedgerEventReversed,
			Key:     partitionKey(original),
			Payload: payload,
		}); err != nil {
			return ledgerdomain.ReverseResult{}, err
		}
	}

	metadata := map[string]any{
		"original_event_id": original.ID.String(),
		"ref":               ref,
		"reason":            reason,
	}
	if openBatch != nil {
		metadata["payout_batch_id"] = openBatch.String()
	}
	if err := s.audit(ctx, tx, "ledger.event_reversed", reversal.ID, metadata); err != nil {
		return ledgerdomain.ReverseResult{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordReversal(ctx, string(original.Type))
	}

	original.Status = ledgerdomain.EventStatusReversed
	if openBatch != nil {
		original.PayoutBatchID = nil
	}
	return ledgerdomain.ReverseResult{Original: original, Reversal: reversal, AdjustedBatchID: openBatch}, nil
}

func (s *Service) unwindBalances(ctx context.Context, tx *gorm.DB, original *ledgerdomain.LedgerEvent, openBatch *snowflake.ID, now time.Time) error {
	currency := original.Currency
	fanID := derefString(original.FanID)

	switch {
	case original.Type == ledgerdomain.EventTypeWalletTopup:
		if original.CreatorShare > 0 {
			ok, err := s.repo.DebitAvailable(ctx, tx, walletKey(fanID, currency), original.CreatorShare, original.CreatorShare, now)
			if err != nil {
				return err
			}
			if !ok {
				return ledgerdomain.ErrWalletInsufficient
			}
		}
	case original.CreatorAccountID() != "" && original.CreatorShare > 0:
		key := ledgerdomain.BalanceKey{AccountID: original.CreatorAccountID(), Currency: currency}
		debit := s.repo.DebitAvailable
		if openBatch != nil {
			debit = s.repo.DebitHeld
		}
		ok, err := debit(ctx, tx, key, original.CreatorShare, original.CreatorShare, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s cannot cover reversal of %s", ledgerdomain.ErrInsufficientFunds, key.AccountID, original.ID)
		}
		if openBatch != nil {
			if err := s.repo.ReleaseFromBatch(ctx, tx, original, "reversed", now); err != nil {
				return err
			}
		}
	}

	if original.PlatformShare != 0 {
		if err := s.repo.Credit(ctx, tx, platformKey(currency), ledgerdomain.AccountTypePlatform, -original.PlatformShare, -original.PlatformShare, now); err != nil {
			return err
		}
	}
	if original.FundingSource == ledgerdomain.FundingSourceWallet && original.GrossAmount != 0 {
		if err := s.repo.Credit(ctx, tx, walletKey(fanID, currency), ledgerdomain.AccountTypeWallet, original.GrossAmount, 0, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) raiseShortfall(ctx context.Context, eventID snowflake.ID, cause error) {
	s.log.Error("balance cannot cover ledger movement",
		zap.String("event_id", eventID.String()),
		zap.Error(cause),
	)
	if s.alertSvc == nil {
		return
	}
	if _, err := s.alertSvc.Raise(ctx, alertdomain.RaiseRequest{
		Kind:     alertdomain.KindInsufficientFunds,
		Severity: alertdomain.SeverityCritical,
		Subject:  "reversal of event " + eventID.String() + " exceeds balance",
		Detail:   map[string]any{"event_id": eventID.String(), "error": cause.Error()},
	}); err != nil {
		s.log.Warn("failed to raise integrity alert", zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, targetID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	id := targetID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, "", nil, action, "ledger_event", &id, metadata)
}
