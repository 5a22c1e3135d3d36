package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord is the raw gateway callback, stored once per provider event id.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	LedgerEventID   *snowflake.ID  `json:"ledger_event_id,omitempty"`
	RefundRequestID *snowflake.ID  `json:"refund_request_id,omitempty"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypeCharge  = "charge"
	EventTypeDispute = "dispute"
)

// GatewayEvent is the canonical callback parsed by adapters.
type GatewayEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	// TransactionID is the gateway charge id. Charges are posted under it and
	// disputes find their ledger event through it.
	TransactionID string
	DisputeID     string
	Amount        int64
	Currency      string
	CreatorID     string
	FanID         string
	EventType     string
	Tier          string
	Reason        string
	OccurredAt    time.Time
	RawPayload    []byte
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*GatewayEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// Outcome reports what a webhook caused.
type Outcome struct {
	Provider        string        `json:"provider"`
	EventType       string        `json:"event_type,omitempty"`
	Ignored         bool          `json:"ignored,omitempty"`
	Duplicate       bool          `json:"duplicate,omitempty"`
	LedgerEventID   *snowflake.ID `json:"ledger_event_id,omitempty"`
	RefundRequestID *snowflake.ID `json:"refund_request_id,omitempty"`
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (Outcome, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, event *EventRecord) error
}

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_gateway_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrUnknownCharge    = errors.New("dispute_for_unknown_charge")
)
