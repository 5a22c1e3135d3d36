package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusReady      BatchStatus = "ready"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusPaid       BatchStatus = "paid"
	BatchStatusFailed     BatchStatus = "failed"
)

// Terminal batches never change again.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusPaid || s == BatchStatusFailed
}

// CanTransition lists the moves a batch may make after it was built.
func (s BatchStatus) CanTransition(to BatchStatus) bool {
	switch s {
	case BatchStatusPending:
		return to == BatchStatusReady || to == BatchStatusFailed
	case BatchStatusReady:
		return to == BatchStatusProcessing || to == BatchStatusFailed
	case BatchStatusProcessing:
		return to == BatchStatusPaid || to == BatchStatusFailed
	default:
		return false
	}
}

type PayoutBatch struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	CreatorID        string        `gorm:"type:text;not null" json:"creator_id"`
	Currency         string        `gorm:"type:text;not null" json:"currency"`
	PeriodStart      *time.Time    `json:"period_start,omitempty"`
	PeriodEnd        time.Time     `gorm:"not null" json:"period_end"`
	Gross            int64         `gorm:"not null" json:"gross"`
	CreatorEarned    int64         `gorm:"not null" json:"creator_earned"`
	PlatformEarned   int64         `gorm:"not null" json:"platform_earned"`
	EventCount       int           `gorm:"not null" json:"event_count"`
	Status           BatchStatus   `gorm:"type:text;not null" json:"status"`
	RetryOfBatchID   *snowflake.ID `json:"retry_of_batch_id,omitempty"`
	ClawbackRequired bool          `gorm:"not null" json:"clawback_required"`
	ClawbackAmount   int64         `gorm:"not null" json:"clawback_amount"`
	FailureReason    *string       `gorm:"type:text" json:"failure_reason,omitempty"`
	ExternalRef      *string       `gorm:"type:text" json:"external_ref,omitempty"`
	CreatedBy        *string       `gorm:"type:text" json:"created_by,omitempty"`
	Version          int64         `gorm:"not null" json:"version"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
	ProcessingAt     *time.Time    `json:"processing_at,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	FailedAt         *time.Time    `json:"failed_at,omitempty"`
}

func (PayoutBatch) TableName() string { return "payout_batches" }

// PayoutBatchItem records that a batch claimed an event. Rows are kept after
// the claim is released so the claim history survives.
type PayoutBatchItem struct {
	BatchID       snowflake.ID `gorm:"primaryKey" json:"batch_id"`
	EventID       snowflake.ID `gorm:"primaryKey" json:"event_id"`
	GrossAmount   int64        `gorm:"not null" json:"gross_amount"`
	CreatorShare  int64        `gorm:"not null" json:"creator_share"`
	PlatformShare int64        `gorm:"not null" json:"platform_share"`
	ReleasedAt    *time.Time   `json:"released_at,omitempty"`
	ReleaseReason *string      `gorm:"type:text" json:"release_reason,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (PayoutBatchItem) TableName() string { return "payout_batch_items" }

// ReleaseReasonBatchFailed marks items whose claim was dropped by MarkFailed.
// Only those events are carried into a retry batch.
const ReleaseReasonBatchFailed = "batch_failed"

// ClaimableEvent is a posted, unclaimed creator event eligible for a batch.
type ClaimableEvent struct {
	ID            snowflake.ID
	Type          string
	GrossAmount   int64
	CreatorShare  int64
	PlatformShare int64
	OccurredAt    time.Time
}

// Candidate is a creator whose unclaimed earnings reach the payout minimum.
type Candidate struct {
	CreatorID string
	Currency  string
	Amount    int64
}
