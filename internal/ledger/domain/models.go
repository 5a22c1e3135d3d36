package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventTypeTip                EventType = "tip"
	EventTypeUnlock             EventType = "unlock"
	EventTypeEntryFee           EventType = "entry_fee"
	EventTypeSubscriptionCharge EventType = "subscription_charge"
	EventTypeRefund             EventType = "refund"
	EventTypeWalletTopup        EventType = "wallet_topup"
)

// Postable reports whether callers may post the type directly. Refund events
// are only produced by a reversal.
func (t EventType) Postable() bool {
	switch t {
	case EventTypeTip, EventTypeUnlock, EventTypeEntryFee, EventTypeSubscriptionCharge, EventTypeWalletTopup:
		return true
	default:
		return false
	}
}

type EventStatus string

const (
	EventStatusPosted   EventStatus = "posted"
	EventStatusReversed EventStatus = "reversed"
)

type FundingSource string

const (
	FundingSourceExternal FundingSource = "external"
	FundingSourceWallet   FundingSource = "wallet"
)

type AccountType string

const (
	AccountTypeCreator  AccountType = "creator"
	AccountTypeWallet   AccountType = "wallet"
	AccountTypePlatform AccountType = "platform"
)

const (
	PlatformAccountID = "platform"
	ReversalSource    = "ledger"
)

func CreatorAccount(creatorID string) string { return "creator:" + creatorID }

func WalletAccount(fanID string) string { return "wallet:" + fanID }

// AccountTypeOf derives the account type from an account id.
func AccountTypeOf(accountID string) (AccountType, bool) {
	switch {
	case accountID == PlatformAccountID:
		return AccountTypePlatform, true
	case strings.HasPrefix(accountID, "creator:") && len(accountID) > len("creator:"):
		return AccountTypeCreator, true
	case strings.HasPrefix(accountID, "wallet:") && len(accountID) > len("wallet:"):
		return AccountTypeWallet, true
	default:
		return "", false
	}
}

// ReversalKey is the idempotency key of the refund event that reverses eventID.
func ReversalKey(eventID snowflake.ID) string { return "reversal:" + eventID.String() }

// LedgerEvent is an immutable monetization fact. Only Status and PayoutBatchID
// move after insert.
type LedgerEvent struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	Source             string            `gorm:"type:text;not null" json:"source"`
	IdempotencyKey     string            `gorm:"type:text;not null" json:"idempotency_key"`
	Type               EventType         `gorm:"type:text;not null" json:"type"`
	Tier               string            `gorm:"type:text;not null" json:"tier"`
	GrossAmount        int64             `gorm:"not null" json:"gross_amount"`
	CreatorShare       int64             `gorm:"not null" json:"creator_share"`
	PlatformShare      int64             `gorm:"not null" json:"platform_share"`
	Currency           string            `gorm:"type:text;not null" json:"currency"`
	CreatorID          *string           `gorm:"type:text" json:"creator_id,omitempty"`
	FanID              *string           `gorm:"type:text" json:"fan_id,omitempty"`
	FundingSource      FundingSource     `gorm:"type:text;not null" json:"funding_source"`
	FeeScheduleVersion string            `gorm:"type:text;not null" json:"fee_schedule_version"`
	PlatformBps        int64             `gorm:"not null" json:"platform_bps"`
	OccurredAt         time.Time         `gorm:"not null" json:"occurred_at"`
	Status             EventStatus       `gorm:"type:text;not null" json:"status"`
	ReversesEventID    *snowflake.ID     `json:"reverses_event_id,omitempty"`
	ReversalRef        *string           `gorm:"type:text" json:"reversal_ref,omitempty"`
	Reason             *string           `gorm:"type:text" json:"reason,omitempty"`
	PayoutBatchID      *snowflake.ID     `json:"payout_batch_id,omitempty"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb;not null" json:"metadata"`
	CreatedAt          time.Time         `gorm:"not null" json:"created_at"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }

// CreatorAccountID returns the creator account credited by the event, if any.
func (e LedgerEvent) CreatorAccountID() string {
	if e.CreatorID == nil || *e.CreatorID == "" {
		return ""
	}
	return CreatorAccount(*e.CreatorID)
}

// Balance is the materialized view of one account in one currency.
// For creator accounts available + held + lifetime_paid_out equals the sum of
// creator shares of every non-reversed event.
type Balance struct {
	AccountID       string      `gorm:"primaryKey;type:text" json:"account_id"`
	Currency        string      `gorm:"primaryKey;type:text" json:"currency"`
	AccountType     AccountType `gorm:"type:text;not null" json:"account_type"`
	Available       int64       `gorm:"not null" json:"available"`
	Held            int64       `gorm:"not null" json:"held"`
	LifetimeGross   int64       `gorm:"not null" json:"lifetime_gross"`
	LifetimePaidOut int64       `gorm:"not null" json:"lifetime_paid_out"`
	Version         int64       `gorm:"not null" json:"version"`
	UpdatedAt       time.Time   `gorm:"not null" json:"updated_at"`
}

func (Balance) TableName() string { return "balances" }

// BalanceKey identifies a balance row.
type BalanceKey struct {
	AccountID string
	Currency  string
}
