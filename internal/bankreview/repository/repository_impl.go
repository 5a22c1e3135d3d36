package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/bankreview/domain"
	"github.com/playgroundx/settlement/pkg/db"
	"gorm.io/gorm"
)

const submissionColumns = `id, user_id, amount, currency, payment_for, receipt_url, status, reviewed_by, reviewed_at,
	review_notes, ledger_event_id, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSubmission(ctx context.Context, conn *gorm.DB, submission *domain.BankPaymentSubmission) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO bank_payment_submissions (`+submissionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		submission.ID,
		submission.UserID,
		submission.Amount,
		submission.Currency,
		submission.PaymentFor,
		submission.ReceiptURL,
		submission.Status,
		submission.ReviewedBy,
		submission.ReviewedAt,
		submission.ReviewNotes,
		submission.LedgerEventID,
		submission.CreatedAt,
		submission.UpdatedAt,
	).Error
}

func (r *repo) GetSubmission(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.BankPaymentSubmission, error) {
	query := `SELECT ` + submissionColumns + ` FROM bank_payment_submissions WHERE id = ?`
	if forUpdate {
		query += db.ForUpdate(conn)
	}
	var rows []domain.BankPaymentSubmission
	if err := conn.WithContext(ctx).Raw(query, id).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) ListSubmissions(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.BankPaymentSubmission, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.BeforeID != nil {
		clauses = append(clauses, "id < ?")
		args = append(args, *filter.BeforeID)
	}

	query := `SELECT ` + submissionColumns + ` FROM bank_payment_submissions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, filter.Limit+1)

	var rows []*domain.BankPaymentSubmission
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkReviewed(ctx context.Context, conn *gorm.DB, submission *domain.BankPaymentSubmission) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE bank_payment_submissions
		 SET status = ?, reviewed_by = ?, reviewed_at = ?, review_notes = ?, ledger_event_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		submission.Status,
		submission.ReviewedBy,
		submission.ReviewedAt,
		submission.ReviewNotes,
		submission.LedgerEventID,
		submission.UpdatedAt,
		submission.ID,
		domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) CountPending(ctx context.Context, conn *gorm.DB, userID string) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM bank_payment_submissions WHERE user_id = ? AND status = ?`,
		userID, domain.StatusPending,
	).Scan(&count).Error
	return count, err
}

func (r *repo) GetState(ctx context.Context, conn *gorm.DB, userID string) (*domain.UserPaymentState, error) {
	var rows []domain.UserPaymentState
	err := conn.WithContext(ctx).Raw(
		`SELECT user_id, pending_payment, account_type, account_type_activated_at, updated_at
		 FROM user_payment_states WHERE user_id = ?`,
		userID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) SetPending(ctx context.Context, conn *gorm.DB, userID string, pending bool, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO user_payment_states (user_id, pending_payment, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET pending_payment = excluded.pending_payment, updated_at = excluded.updated_at`,
		userID, pending, at,
	).Error
}

func (r *repo) ActivateAccountType(ctx context.Context, conn *gorm.DB, userID, accountType string, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO user_payment_states (user_id, pending_payment, account_type, account_type_activated_at, updated_at)
		 VALUES (?, FALSE, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   account_type = excluded.account_type,
		   account_type_activated_at = excluded.account_type_activated_at,
		   updated_at = excluded.updated_at`,
		userID, accountType, at, at,
	).Error
}
