package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

const (
	PaymentForWalletTopup    = "wallet_topup"
	accountTypePaymentPrefix = "account_type:"
)

// AccountTypePayment builds the payment_for value that activates code.
func AccountTypePayment(code string) string {
	return accountTypePaymentPrefix + code
}

// AccountTypeCode extracts the purchased account type from payment_for.
func AccountTypeCode(paymentFor string) (string, bool) {
	if !strings.HasPrefix(paymentFor, accountTypePaymentPrefix) {
		return "", false
	}
	code := strings.TrimPrefix(paymentFor, accountTypePaymentPrefix)
	return code, code != ""
}

type BankPaymentSubmission struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	UserID        string        `gorm:"type:text;not null" json:"user_id"`
	Amount        int64         `gorm:"not null" json:"amount"`
	Currency      string        `gorm:"type:text;not null" json:"currency"`
	PaymentFor    string        `gorm:"type:text;not null" json:"payment_for"`
	ReceiptURL    string        `gorm:"type:text;not null" json:"receipt_url"`
	Status        Status        `gorm:"type:text;not null" json:"status"`
	ReviewedBy    *string       `gorm:"type:text" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time    `json:"reviewed_at,omitempty"`
	ReviewNotes   *string       `gorm:"type:text" json:"review_notes,omitempty"`
	LedgerEventID *snowflake.ID `json:"ledger_event_id,omitempty"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"not null" json:"updated_at"`
}

func (BankPaymentSubmission) TableName() string { return "bank_payment_submissions" }

type UserPaymentState struct {
	UserID                 string     `gorm:"primaryKey;type:text" json:"user_id"`
	PendingPayment         bool       `gorm:"not null" json:"pending_payment"`
	AccountType            *string    `gorm:"type:text" json:"account_type,omitempty"`
	AccountTypeActivatedAt *time.Time `json:"account_type_activated_at,omitempty"`
	UpdatedAt              time.Time  `gorm:"not null" json:"updated_at"`
}

func (UserPaymentState) TableName() string { return "user_payment_states" }
