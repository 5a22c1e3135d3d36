package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

type SubmitRequest struct {
	UserID     string
	Amount     int64
	Currency   string
	PaymentFor string
	ReceiptURL string
}

type ReviewRequest struct {
	SubmissionID snowflake.ID
	Decision     Decision
	ReviewerID   string
	Notes        string
	// Email receives the decision notice when set.
	Email string
}

type ReviewResult struct {
	Submission *BankPaymentSubmission `json:"submission"`
	State      *UserPaymentState      `json:"state"`
}

type ListRequest struct {
	pagination.Pagination
	Status string
	UserID string
}

type ListResponse struct {
	Submissions []BankPaymentSubmission `json:"submissions"`
	PageInfo    pagination.PageInfo     `json:"page_info"`
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*BankPaymentSubmission, error)
	Review(ctx context.Context, req ReviewRequest) (ReviewResult, error)
	Get(ctx context.Context, id snowflake.ID) (*BankPaymentSubmission, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	State(ctx context.Context, userID string) (*UserPaymentState, error)
}

type ListFilter struct {
	Status   string
	UserID   string
	BeforeID *snowflake.ID
	Limit    int
}

type Repository interface {
	InsertSubmission(ctx context.Context, db *gorm.DB, submission *BankPaymentSubmission) error
	GetSubmission(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*BankPaymentSubmission, error)
	ListSubmissions(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*BankPaymentSubmission, error)
	// MarkReviewed records the decision while the submission is still pending.
	MarkReviewed(ctx context.Context, db *gorm.DB, submission *BankPaymentSubmission) (bool, error)
	CountPending(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	GetState(ctx context.Context, db *gorm.DB, userID string) (*UserPaymentState, error)
	SetPending(ctx context.Context, db *gorm.DB, userID string, pending bool, at time.Time) error
	ActivateAccountType(ctx context.Context, db *gorm.DB, userID, accountType string, at time.Time) error
}

var (
	ErrNotFound          = errors.New("bank_submission_not_found")
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidPaymentFor = errors.New("invalid_payment_for")
	ErrInvalidReceipt    = errors.New("invalid_receipt_url")
	ErrInvalidDecision   = errors.New("invalid_decision")
	ErrNotesRequired     = errors.New("review_notes_required")
	ErrAlreadyReviewed   = errors.New("submission_already_reviewed")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
)
