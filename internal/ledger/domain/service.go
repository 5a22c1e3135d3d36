package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

type PostRequest struct {
	Source         string
	IdempotencyKey string
	Type           EventType
	Tier           string
	GrossAmount    int64
	Currency       string
	CreatorID      string
	FanID          string
	FundingSource  FundingSource
	OccurredAt     time.Time
	Metadata       map[string]any
}

type PostResult struct {
	Event     *LedgerEvent
	Duplicate bool
}

type ReverseRequest struct {
	EventID snowflake.ID
	Reason  string
	// Ref names the decision that caused the reversal, usually the refund
	// request id. Retrying with the same ref replays the first result.
	Ref string
}

type ReverseResult struct {
	Original *LedgerEvent
	Reversal *LedgerEvent
	Replayed bool
	// AdjustedBatchID is set when the event was held by an open payout batch
	// whose totals shrank.
	AdjustedBatchID *snowflake.ID
}

type ListEventsRequest struct {
	pagination.Pagination
	CreatorID string
	FanID     string
	Type      string
	Status    string
	Currency  string
}

type ListEventsResponse struct {
	Events   []LedgerEvent       `json:"events"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type ListBalancesRequest struct {
	pagination.Pagination
	AccountType string
	Currency    string
}

type ListBalancesResponse struct {
	Balances []Balance           `json:"balances"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// Drift is one field of a stored balance that disagrees with the replayed log.
type Drift struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
	Field     string `json:"field"`
	Expected  int64  `json:"expected"`
	Actual    int64  `json:"actual"`
}

type ReconcileResult struct {
	Accounts int     `json:"accounts"`
	Drifts   []Drift `json:"drifts"`
}

type RebuildResult struct {
	Accounts int     `json:"accounts"`
	Repaired []Drift `json:"repaired"`
}

type Service interface {
	Post(ctx context.Context, req PostRequest) (PostResult, error)
	// PostTx posts inside the caller's transaction. The caller owns auditing.
	PostTx(ctx context.Context, tx *gorm.DB, req PostRequest) (PostResult, error)
	Reverse(ctx context.Context, req ReverseRequest) (ReverseResult, error)
	ReverseTx(ctx context.Context, tx *gorm.DB, req ReverseRequest) (ReverseResult, error)

	GetEvent(ctx context.Context, id snowflake.ID) (*LedgerEvent, error)
	GetEventTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*LedgerEvent, error)
	ListEvents(ctx context.Context, req ListEventsRequest) (ListEventsResponse, error)
	GetBalance(ctx context.Context, accountID, currency string) (*Balance, error)
	ListBalances(ctx context.Context, req ListBalancesRequest) (ListBalancesResponse, error)

	// HoldTx moves amount from available to held under an optimistic version check.
	HoldTx(ctx context.Context, tx *gorm.DB, key BalanceKey, amount int64) error
	// SettleHoldTx retires held funds into lifetime_paid_out.
	SettleHoldTx(ctx context.Context, tx *gorm.DB, key BalanceKey, amount int64) error
	// ReleaseHoldTx returns held funds to available.
	ReleaseHoldTx(ctx context.Context, tx *gorm.DB, key BalanceKey, amount int64) error

	Rebuild(ctx context.Context) (RebuildResult, error)
	Reconcile(ctx context.Context) (ReconcileResult, error)
}

// Claim describes where an event's creator share currently sits.
type Claim struct {
	BatchID snowflake.ID
	Status  string
}

type EventFilter struct {
	CreatorID string
	FanID     string
	Type      string
	Status    string
	Currency  string
	BeforeID  *snowflake.ID
	Limit     int
}

type BalanceFilter struct {
	AccountType string
	Currency    string
	After       *BalanceKey
	Limit       int
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *LedgerEvent) error
	GetEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*LedgerEvent, error)
	GetReversalOf(ctx context.Context, db *gorm.DB, id snowflake.ID) (*LedgerEvent, error)
	MarkReversed(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	ListEvents(ctx context.Context, db *gorm.DB, filter EventFilter) ([]*LedgerEvent, error)
	ScanEvents(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]LedgerEvent, error)

	GetClaim(ctx context.Context, db *gorm.DB, batchID snowflake.ID, forUpdate bool) (*Claim, error)
	ReleaseFromBatch(ctx context.Context, db *gorm.DB, event *LedgerEvent, reason string, at time.Time) error
	BatchStatuses(ctx context.Context, db *gorm.DB) (map[snowflake.ID]string, error)

	// Credit adds amount to available and lifetime to lifetime_gross, creating
	// the row when missing. Negative values are allowed.
	Credit(ctx context.Context, db *gorm.DB, key BalanceKey, accountType AccountType, amount, lifetime int64, at time.Time) error
	DebitAvailable(ctx context.Context, db *gorm.DB, key BalanceKey, amount, lifetime int64, at time.Time) (bool, error)
	DebitHeld(ctx context.Context, db *gorm.DB, key BalanceKey, amount, lifetime int64, at time.Time) (bool, error)
	MoveToHeld(ctx context.Context, db *gorm.DB, key BalanceKey, amount, version int64, at time.Time) (bool, error)
	MoveHeldToPaid(ctx context.Context, db *gorm.DB, key BalanceKey, amount int64, at time.Time) (bool, error)
	MoveHeldToAvailable(ctx context.Context, db *gorm.DB, key BalanceKey, amount int64, at time.Time) (bool, error)
	GetBalance(ctx context.Context, db *gorm.DB, key BalanceKey) (*Balance, error)
	ListBalances(ctx context.Context, db *gorm.DB, filter BalanceFilter) ([]*Balance, error)
	AllBalances(ctx context.Context, db *gorm.DB) ([]Balance, error)
	ReplaceBalance(ctx context.Context, db *gorm.DB, balance *Balance) error
}

var (
	ErrNotFound              = errors.New("ledger_event_not_found")
	ErrInvalidSource         = errors.New("invalid_source")
	ErrInvalidEventType      = errors.New("invalid_event_type")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidFundingSource  = errors.New("invalid_funding_source")
	ErrMissingFan            = errors.New("fan_id_required")
	ErrUnexpectedCreator     = errors.New("creator_not_allowed_for_event_type")
	ErrInvalidReference      = errors.New("reversal_ref_required")
	ErrInvalidAccount        = errors.New("invalid_account")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
	ErrNotReversible         = errors.New("event_not_reversible")
	ErrAlreadyReversed       = errors.New("already_reversed")
	ErrBatchInFlight         = errors.New("payout_batch_in_flight")
	ErrFundsPaidOut          = errors.New("funds_already_paid_out")
	ErrConcurrentUpdate      = errors.New("concurrent_update")
	ErrWalletInsufficient    = errors.New("wallet_insufficient_funds")
	ErrInsufficientFunds     = errors.New("insufficient_funds")
	ErrIdempotencyRecordLost = errors.New("idempotency_record_without_event")
)
