package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateRequest struct {
	EventID     snowflake.ID
	Reason      string
	RequestedBy string
}

type DisputeRequest struct {
	EventID snowflake.ID
	Reason  string
	// ExternalRef is the gateway's dispute id. Opening the same dispute twice
	// returns the first request.
	ExternalRef string
}

type DecideRequest struct {
	RequestID  snowflake.ID
	Decision   Decision
	ReviewerID string
	Notes      string
}

type DecideResult struct {
	Request  *RefundRequest            `json:"request"`
	Reversal *ledgerdomain.LedgerEvent `json:"reversal,omitempty"`
}

type ListRequest struct {
	pagination.Pagination
	Status  string
	EventID string
}

type ListResponse struct {
	Requests []RefundRequest     `json:"requests"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	RequestRefund(ctx context.Context, req CreateRequest) (*RefundRequest, error)
	OpenDispute(ctx context.Context, req DisputeRequest) (*RefundRequest, error)
	Decide(ctx context.Context, req DecideRequest) (DecideResult, error)
	Get(ctx context.Context, id snowflake.ID) (*RefundRequest, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type ListFilter struct {
	Status   string
	EventID  *snowflake.ID
	BeforeID *snowflake.ID
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, req *RefundRequest) (bool, error)
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*RefundRequest, error)
	GetByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*RefundRequest, error)
	// OpenForEvent returns an undecided request for the event, if any.
	OpenForEvent(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (*RefundRequest, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*RefundRequest, error)
	// Decide records a terminal decision on a request that is still open.
	Decide(ctx context.Context, db *gorm.DB, req *RefundRequest) (bool, error)
	SetClawbackBatch(ctx context.Context, db *gorm.DB, id, batchID snowflake.ID) error
}

var (
	ErrNotFound           = errors.New("refund_request_not_found")
	ErrInvalidEvent       = errors.New("invalid_refund_event")
	ErrInvalidDecision    = errors.New("invalid_decision")
	ErrInvalidExternalRef = errors.New("external_ref_required")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
	ErrAlreadyDecided     = errors.New("refund_already_decided")
	ErrEventReversed      = errors.New("event_already_reversed")
	ErrClawbackRequired   = errors.New("clawback_required")
)
