package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TypeRefundRequest routes a submission to the refund resolver instead of the ledger.
const TypeRefundRequest = "refund_request"

type SubmitRequest struct {
	Source         string         `json:"source"`
	IdempotencyKey string         `json:"idempotency_key"`
	Type           string         `json:"type"`
	Tier           string         `json:"tier,omitempty"`
	GrossAmount    int64          `json:"gross_amount"`
	Currency       string         `json:"currency"`
	CreatorID      string         `json:"creator_id,omitempty"`
	FanID          string         `json:"fan_id,omitempty"`
	FundingSource  string         `json:"funding_source,omitempty"`
	OccurredAt     *time.Time     `json:"occurred_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	// EventID and Reason are read for refund_request submissions.
	EventID string `json:"event_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type SubmitResult struct {
	EventID         snowflake.ID  `json:"event_id"`
	Status          string        `json:"status"`
	Duplicate       bool          `json:"duplicate"`
	RefundRequestID *snowflake.ID `json:"refund_request_id,omitempty"`
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	// SubmitTx posts inside the caller's transaction. Refund requests are not
	// accepted here.
	SubmitTx(ctx context.Context, tx *gorm.DB, req SubmitRequest) (SubmitResult, error)
}

var (
	ErrInvalidSource         = errors.New("invalid_source")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidType           = errors.New("invalid_event_type")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidEventID        = errors.New("invalid_event_id")
	ErrRateLimited           = errors.New("rate_limited")
)
