package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindRefund  Kind = "refund"
	KindDispute Kind = "dispute"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusDispute   Status = "dispute"
	StatusApproved  Status = "approved"
	StatusDeclined  Status = "declined"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDeclined
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDecline Decision = "decline"
)

type RefundRequest struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	EventID         snowflake.ID  `gorm:"not null" json:"event_id"`
	Kind            Kind          `gorm:"type:text;not null" json:"kind"`
	Status          Status        `gorm:"type:text;not null" json:"status"`
	Reason          *string       `gorm:"type:text" json:"reason,omitempty"`
	RequestedBy     *string       `gorm:"type:text" json:"requested_by,omitempty"`
	ExternalRef     *string       `gorm:"type:text" json:"external_ref,omitempty"`
	DecidedBy       *string       `gorm:"type:text" json:"decided_by,omitempty"`
	DecidedAt       *time.Time    `json:"decided_at,omitempty"`
	DecisionNotes   *string       `gorm:"type:text" json:"decision_notes,omitempty"`
	ReversalEventID *snowflake.ID `json:"reversal_event_id,omitempty"`
	ClawbackBatchID *snowflake.ID `json:"clawback_batch_id,omitempty"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (RefundRequest) TableName() string { return "refund_requests" }
