// Package events carries state-change notifications from the settlement
// services to kafka through a transactional outbox.
package events

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/config"
	"gorm.io/datatypes"
)

type Type string

const (
	EventLedgerEventPosted   Type = "ledger.event_posted"
	EventLedgerEventReversed Type = "ledger.event_reversed"

	EventRefundRequested Type = "refund.requested"
	EventRefundDecided   Type = "refund.decided"

	EventPayoutBatchReady      Type = "payout.batch_ready"
	EventPayoutBatchProcessing Type = "payout.batch_processing"
	EventPayoutBatchPaid       Type = "payout.batch_paid"
	EventPayoutBatchFailed     Type = "payout.batch_failed"
	EventPayoutClawbackFlagged Type = "payout.clawback_flagged"

	EventBankSubmissionCreated  Type = "bank_review.submitted"
	EventBankSubmissionReviewed Type = "bank_review.decided"

	EventIntegrityAlert Type = "alert.integrity"
)

// Event is a state change queued for delivery. Key is the kafka partition key;
// events sharing a key are delivered in the order they were written.
type Event struct {
	Type    Type
	Key     string
	Payload map[string]any
}

const (
	OutboxStatusPending    = "pending"
	OutboxStatusDispatched = "dispatched"
	OutboxStatusDead       = "dead"
)

type OutboxEvent struct {
	ID           snowflake.ID   `gorm:"primaryKey"`
	Topic        string         `gorm:"type:text;not null"`
	EventKey     string         `gorm:"type:text;not null"`
	EventType    string         `gorm:"type:text;not null"`
	Payload      datatypes.JSON `gorm:"type:jsonb;not null"`
	Status       string         `gorm:"type:text;not null"`
	Attempts     int            `gorm:"not null"`
	LastError    *string        `gorm:"type:text"`
	AvailableAt  time.Time      `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null"`
	DispatchedAt *time.Time
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// TopicFor routes an event type to its kafka topic.
func TopicFor(cfg config.KafkaConfig, eventType Type) string {
	switch {
	case strings.HasPrefix(string(eventType), "alert."):
		return cfg.AlertTopic
	default:
		return cfg.LedgerTopic
	}
}
