package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/refund/domain"
	"github.com/playgroundx/settlement/pkg/db"
	"gorm.io/gorm"
)

const requestColumns = `id, event_id, kind, status, reason, requested_by, external_ref, decided_by, decided_at,
	decision_notes, reversal_event_id, clawback_batch_id, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, req *domain.RefundRequest) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`INSERT INTO refund_requests (`+requestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		req.ID,
		req.EventID,
		req.Kind,
		req.Status,
		req.Reason,
		req.RequestedBy,
		req.ExternalRef,
		req.DecidedBy,
		req.DecidedAt,
		req.DecisionNotes,
		req.ReversalEventID,
		req.ClawbackBatchID,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Get(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.RefundRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM refund_requests WHERE id = ?`
	if forUpdate {
		query += db.ForUpdate(conn)
	}
	return first(conn.WithContext(ctx).Raw(query, id))
}

func (r *repo) GetByExternalRef(ctx context.Context, conn *gorm.DB, ref string) (*domain.RefundRequest, error) {
	return first(conn.WithContext(ctx).Raw(
		`SELECT `+requestColumns+` FROM refund_requests WHERE external_ref = ?`, ref,
	))
}

func (r *repo) OpenForEvent(ctx context.Context, conn *gorm.DB, eventID snowflake.ID) (*domain.RefundRequest, error) {
	return first(conn.WithContext(ctx).Raw(
		`SELECT `+requestColumns+` FROM refund_requests
		 WHERE event_id = ? AND status IN (?, ?)
		 ORDER BY id ASC LIMIT 1`,
		eventID, domain.StatusRequested, domain.StatusDispute,
	))
}

func first(query *gorm.DB) (*domain.RefundRequest, error) {
	var rows []domain.RefundRequest
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.RefundRequest, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.EventID != nil {
		clauses = append(clauses, "event_id = ?")
		args = append(args, *filter.EventID)
	}
	if filter.BeforeID != nil {
		clauses = append(clauses, "id < ?")
		args = append(args, *filter.BeforeID)
	}

	query := `SELECT ` + requestColumns + ` FROM refund_requests`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, filter.Limit+1)

	var rows []*domain.RefundRequest
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Decide(ctx context.Context, conn *gorm.DB, req *domain.RefundRequest) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE refund_requests
		 SET status = ?, decided_by = ?, decided_at = ?, decision_notes = ?, reversal_event_id = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		req.Status,
		req.DecidedBy,
		req.DecidedAt,
		req.DecisionNotes,
		req.ReversalEventID,
		req.UpdatedAt,
		req.ID,
		domain.StatusRequested,
		domain.StatusDispute,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SetClawbackBatch(ctx context.Context, conn *gorm.DB, id, batchID snowflake.ID) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE refund_requests SET clawback_batch_id = ? WHERE id = ?`, batchID, id,
	).Error
}
