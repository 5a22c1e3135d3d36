package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	feedomain "github.com/playgroundx/settlement/internal/fee/domain"
	"github.com/playgroundx/settlement/internal/ingress/domain"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	"github.com/playgroundx/settlement/internal/ratelimit"
	refunddomain "github.com/playgroundx/settlement/internal/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxKeyLength = 255

type Params struct {
	fx.In

	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	Refunds    refunddomain.Service      `optional:"true"`
	Limiter    *ratelimit.IngressLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	ledger     ledgerdomain.Service
	refunds    refunddomain.Service
	limiter    *ratelimit.IngressLimiter
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:        p.Log.Named("ingress.service"),
		ledger:     p.Ledger,
		refunds:    p.Refunds,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmitResult, error) {
	req, err := normalize(req)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if err := s.allow(ctx, req); err != nil {
		return domain.SubmitResult{}, err
	}

	if req.Type == domain.TypeRefundRequest {
		return s.requestRefund(ctx, req)
	}

	posted, err := s.ledger.Post(ctx, postRequest(req))
	if err != nil {
		s.log.Info("event rejected",
			zap.String("source", req.Source),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("type", req.Type),
			zap.Error(err),
		)
		return domain.SubmitResult{}, err
	}
	return result(posted), nil
}

func (s *Service) SubmitTx(ctx context.Context, tx *gorm.DB, req domain.SubmitRequest) (domain.SubmitResult, error) {
	req, err := normalize(req)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if req.Type == domain.TypeRefundRequest {
		return domain.SubmitResult{}, fmt.Errorf("%w: refund requests cannot join a transaction", domain.ErrInvalidType)
	}
	posted, err := s.ledger.PostTx(ctx, tx, postRequest(req))
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return result(posted), nil
}

func (s *Service) requestRefund(ctx context.Context, req domain.SubmitRequest) (domain.SubmitResult, error) {
	if s.refunds == nil {
		return domain.SubmitResult{}, fmt.Errorf("%w: refund routing unavailable", domain.ErrInvalidType)
	}
	eventID, err := snowflake.ParseString(req.EventID)
	if err != nil || eventID == 0 {
		return domain.SubmitResult{}, domain.ErrInvalidEventID
	}
	request, err := s.refunds.RequestRefund(ctx, refunddomain.CreateRequest{
		EventID:     eventID,
		Reason:      req.Reason,
		RequestedBy: req.FanID,
	})
	if err != nil {
		return domain.SubmitResult{}, err
	}
	id := request.ID
	return domain.SubmitResult{
		EventID:         request.EventID,
		Status:          string(request.Status),
		RefundRequestID: &id,
	}, nil
}

// allow applies the per-fan token bucket. A limiter outage lets the request
// through since idempotency already guards the write path.
func (s *Service) allow(ctx context.Context, req domain.SubmitRequest) error {
	if !s.limiter.Enabled() || req.FanID == "" {
		return nil
	}
	res, err := s.limiter.Allow(ctx, req.Source, req.FanID)
	if err != nil {
		s.log.Warn("ingress rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !res.Allowed {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitDenied(ctx, req.Source, "ingress", "fan_bucket")
		}
		return fmt.Errorf("%w: retry after %s", domain.ErrRateLimited, res.RetryAfter)
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitAllowed(ctx, req.Source, "ingress")
	}
	return nil
}

func normalize(req domain.SubmitRequest) (domain.SubmitRequest, error) {
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.Tier = strings.ToLower(strings.TrimSpace(req.Tier))
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.CreatorID = strings.TrimSpace(req.CreatorID)
	req.FanID = strings.TrimSpace(req.FanID)
	req.FundingSource = strings.ToLower(strings.TrimSpace(req.FundingSource))
	req.EventID = strings.TrimSpace(req.EventID)
	req.Reason = strings.TrimSpace(req.Reason)

	if req.Source == "" {
		return req, domain.ErrInvalidSource
	}
	if req.Type == domain.TypeRefundRequest {
		return req, nil
	}
	if req.IdempotencyKey == "" || len(req.IdempotencyKey) > maxKeyLength {
		return req, domain.ErrInvalidIdempotencyKey
	}
	eventType := ledgerdomain.EventType(req.Type)
	if !eventType.Postable() {
		return req, domain.ErrInvalidType
	}
	if req.GrossAmount < 0 || req.GrossAmount > feedomain.MaxAmount {
		return req, domain.ErrInvalidAmount
	}
	return req, nil
}

func postRequest(req domain.SubmitRequest) ledgerdomain.PostRequest {
	post := ledgerdomain.PostRequest{
		Source:         req.Source,
		IdempotencyKey: req.IdempotencyKey,
		Type:           ledgerdomain.EventType(req.Type),
		Tier:           req.Tier,
		GrossAmount:    req.GrossAmount,
		Currency:       req.Currency,
		CreatorID:      req.CreatorID,
		FanID:          req.FanID,
		FundingSource:  ledgerdomain.FundingSource(req.FundingSource),
		Metadata:       req.Metadata,
	}
	if req.OccurredAt != nil {
		post.OccurredAt = *req.OccurredAt
	}
	return post
}

func result(posted ledgerdomain.PostResult) domain.SubmitResult {
	return domain.SubmitResult{
		EventID:   posted.Event.ID,
		Status:    string(posted.Event.Status),
		Duplicate: posted.Duplicate,
	}
}
