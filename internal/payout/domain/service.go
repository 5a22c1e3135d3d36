package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

type BuildRequest struct {
	CreatorID string
	Currency  string
	AsOf      time.Time
	ActorID   string
}

type BuildResult struct {
	Batch   *PayoutBatch      `json:"batch,omitempty"`
	Items   []PayoutBatchItem `json:"items,omitempty"`
	Skipped bool              `json:"skipped"`
	Reason  string            `json:"reason,omitempty"`
}

type MarkProcessingRequest struct {
	BatchID     snowflake.ID
	ExternalRef string
	ActorID     string
}

type MarkPaidRequest struct {
	BatchID     snowflake.ID
	ExternalRef string
	ActorID     string
}

type MarkFailedRequest struct {
	BatchID snowflake.ID
	Reason  string
	ActorID string
}

type RetryRequest struct {
	BatchID snowflake.ID
	ActorID string
}

type ListRequest struct {
	pagination.Pagination
	CreatorID string
	Status    string
}

type ListResponse struct {
	Batches  []PayoutBatch       `json:"batches"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	BuildBatch(ctx context.Context, req BuildRequest) (BuildResult, error)
	MarkProcessing(ctx context.Context, req MarkProcessingRequest) (*PayoutBatch, error)
	MarkPaid(ctx context.Context, req MarkPaidRequest) (*PayoutBatch, error)
	MarkFailed(ctx context.Context, req MarkFailedRequest) (*PayoutBatch, error)
	Retry(ctx context.Context, req RetryRequest) (BuildResult, error)
	Get(ctx context.Context, id snowflake.ID) (*PayoutBatch, error)
	Items(ctx context.Context, id snowflake.ID) ([]PayoutBatchItem, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Statement(ctx context.Context, id snowflake.ID) (io.Reader, error)

	// FlagClawbackTx marks a paid batch as owing amount back to the platform.
	FlagClawbackTx(ctx context.Context, tx *gorm.DB, batchID snowflake.ID, amount int64) error
	// Candidates lists creators whose unclaimed earnings reach minimum.
	Candidates(ctx context.Context, asOf time.Time, minimum int64) ([]Candidate, error)
	// StaleProcessing lists batches that entered processing before cutoff.
	StaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]PayoutBatch, error)
}

type ListFilter struct {
	CreatorID string
	Status    string
	BeforeID  *snowflake.ID
	Limit     int
}

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, batch *PayoutBatch) error
	InsertItems(ctx context.Context, db *gorm.DB, items []PayoutBatchItem) error
	GetBatch(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*PayoutBatch, error)
	ListBatches(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*PayoutBatch, error)
	ListItems(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]PayoutBatchItem, error)
	FindRetry(ctx context.Context, db *gorm.DB, batchID snowflake.ID) (*PayoutBatch, error)

	ClaimableEvents(ctx context.Context, db *gorm.DB, creatorID, currency string, asOf time.Time) ([]ClaimableEvent, error)
	// RetryableEvents returns the events a failed batch released that are still
	// posted and unclaimed.
	RetryableEvents(ctx context.Context, db *gorm.DB, failedBatchID snowflake.ID) ([]ClaimableEvent, error)
	// ClaimEvent sets the event's payout_batch_id when no batch holds it.
	ClaimEvent(ctx context.Context, db *gorm.DB, eventID, batchID snowflake.ID) (bool, error)
	// ReleaseClaims clears every claim the batch still holds.
	ReleaseClaims(ctx context.Context, db *gorm.DB, batchID snowflake.ID, reason string, at time.Time) (int64, error)

	// UpdateStatus moves the batch from one status to another under a version check.
	UpdateStatus(ctx context.Context, db *gorm.DB, batch *PayoutBatch, from BatchStatus, version int64) (bool, error)
	AddClawback(ctx context.Context, db *gorm.DB, batchID snowflake.ID, amount int64, at time.Time) (bool, error)

	Candidates(ctx context.Context, db *gorm.DB, asOf time.Time, minimum int64) ([]Candidate, error)
	StaleProcessing(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]PayoutBatch, error)
}

var (
	ErrNotFound          = errors.New("payout_batch_not_found")
	ErrInvalidCreator    = errors.New("invalid_creator")
	ErrInvalidTransition = errors.New("invalid_batch_transition")
	ErrNotFailed         = errors.New("payout_batch_not_failed")
	ErrAlreadyRetried    = errors.New("payout_batch_already_retried")
	ErrClaimConflict     = errors.New("payout_claim_conflict")
	ErrConcurrentUpdate  = errors.New("payout_batch_concurrent_update")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
)
