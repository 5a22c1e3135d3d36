package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Kind string

const (
	KindInsufficientFunds Kind = "insufficient_funds"
	KindBalanceDrift      Kind = "balance_drift"
	KindStaleProcessing   Kind = "stale_processing"
	KindClawbackRequired  Kind = "clawback_required"
	KindWalletOverdraw    Kind = "wallet_overdraw"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IntegrityAlert records a fault an operator must look at. Alerts are never
// resolved automatically.
type IntegrityAlert struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	Kind       Kind              `gorm:"type:text;not null" json:"kind"`
	Severity   Severity          `gorm:"type:text;not null" json:"severity"`
	AccountID  *string           `gorm:"type:text" json:"account_id,omitempty"`
	Subject    string            `gorm:"type:text;not null" json:"subject"`
	Detail     datatypes.JSONMap `gorm:"type:jsonb;not null" json:"detail"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

func (IntegrityAlert) TableName() string { return "integrity_alerts" }

type RaiseRequest struct {
	Kind      Kind
	Severity  Severity
	AccountID string
	Subject   string
	Detail    map[string]any
}

type ListFilter struct {
	Kind           Kind
	OnlyUnresolved bool
	Limit          int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, alert *IntegrityAlert) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]IntegrityAlert, error)
	Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
}

type Service interface {
	// Raise persists the alert in its own transaction. Call it after the
	// transaction that detected the fault has finished.
	Raise(ctx context.Context, req RaiseRequest) (*IntegrityAlert, error)
	List(ctx context.Context, filter ListFilter) ([]IntegrityAlert, error)
	Resolve(ctx context.Context, id snowflake.ID, actorID string) error
}

var (
	ErrInvalidKind = errors.New("invalid_alert_kind")
	ErrNotFound    = errors.New("alert_not_found")
)
