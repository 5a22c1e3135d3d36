package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/pkg/db"
	"gorm.io/gorm"
)

const batchColumns = `id, creator_id, currency, period_start, period_end, gross, creator_earned, platform_earned,
	event_count, status, retry_of_batch_id, clawback_required, clawback_amount, failure_reason, external_ref,
	created_by, version, created_at, updated_at, processing_at, paid_at, failed_at`

const itemColumns = `batch_id, event_id, gross_amount, creator_share, platform_share, released_at, release_reason, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, conn *gorm.DB, batch *domain.PayoutBatch) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payout_batches (`+batchColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.CreatorID,
		batch.Currency,
		batch.PeriodStart,
		batch.PeriodEnd,
		batch.Gross,
		batch.CreatorEarned,
		batch.PlatformEarned,
		batch.EventCount,
		batch.Status,
		batch.RetryOfBatchID,
		batch.ClawbackRequired,
		batch.ClawbackAmount,
		batch.FailureReason,
		batch.ExternalRef,
		batch.CreatedBy,
		batch.Version,
		batch.CreatedAt,
		batch.UpdatedAt,
		batch.ProcessingAt,
		batch.PaidAt,
		batch.FailedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, conn *gorm.DB, items []domain.PayoutBatchItem) error {
	for _, item := range items {
		if err := conn.WithContext(ctx).Exec(
			`INSERT INTO payout_batch_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.BatchID,
			item.EventID,
			item.GrossAmount,
			item.CreatorShare,
			item.PlatformShare,
			item.ReleasedAt,
			item.ReleaseReason,
			item.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) GetBatch(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.PayoutBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM payout_batches WHERE id = ?`
	if forUpdate {
		query += db.ForUpdate(conn)
	}
	return firstBatch(conn.WithContext(ctx).Raw(query, id))
}

func (r *repo) FindRetry(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) (*domain.PayoutBatch, error) {
	return firstBatch(conn.WithContext(ctx).Raw(
		`SELECT `+batchColumns+` FROM payout_batches WHERE retry_of_batch_id = ? ORDER BY id ASC LIMIT 1`, batchID,
	))
}

func firstBatch(query *gorm.DB) (*domain.PayoutBatch, error) {
	var batches []domain.PayoutBatch
	if err := query.Scan(&batches).Error; err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, nil
	}
	return &batches[0], nil
}

func (r *repo) ListBatches(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.PayoutBatch, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.CreatorID != "" {
		clauses = append(clauses, "creator_id = ?")
		args = append(args, filter.CreatorID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.BeforeID != nil {
		clauses = append(clauses, "id < ?")
		args = append(args, *filter.BeforeID)
	}

	query := `SELECT ` + batchColumns + ` FROM payout_batches`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, filter.Limit+1)

	var batches []*domain.PayoutBatch
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repo) ListItems(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) ([]domain.PayoutBatchItem, error) {
	var items []domain.PayoutBatchItem
	err := conn.WithContext(ctx).Raw(
		`SELECT `+itemColumns+` FROM payout_batch_items WHERE batch_id = ? ORDER BY event_id ASC`, batchID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ClaimableEvents(ctx context.Context, conn *gorm.DB, creatorID, currency string, asOf time.Time) ([]domain.ClaimableEvent, error) {
	var rows []domain.ClaimableEvent
	err := conn.WithContext(ctx).Raw(
		`SELECT id, type, gross_amount, creator_share, platform_share, occurred_at
		 FROM ledger_events
		 WHERE creator_id = ? AND currency = ? AND status = 'posted' AND payout_batch_id IS NULL
		   AND creator_share > 0 AND occurred_at <= ?
		 ORDER BY occurred_at ASC, id ASC`+db.ForUpdateSkipLocked(conn),
		creatorID, currency, asOf,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) RetryableEvents(ctx context.Context, conn *gorm.DB, failedBatchID snowflake.ID) ([]domain.ClaimableEvent, error) {
	var rows []domain.ClaimableEvent
	err := conn.WithContext(ctx).Raw(
		`SELECT id, type, gross_amount, creator_share, platform_share, occurred_at
		 FROM ledger_events
		 WHERE status = 'posted' AND payout_batch_id IS NULL AND creator_share > 0
		   AND id IN (
		     SELECT event_id FROM payout_batch_items
		     WHERE batch_id = ? AND release_reason = ?
		   )
		 ORDER BY occurred_at ASC, id ASC`+db.ForUpdateSkipLocked(conn),
		failedBatchID, domain.ReleaseReasonBatchFailed,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ClaimEvent(ctx context.Context, conn *gorm.DB, eventID, batchID snowflake.ID) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE ledger_events SET payout_batch_id = ?
		 WHERE id = ? AND payout_batch_id IS NULL AND status = 'posted'`,
		batchID, eventID,
	))
}

func (r *repo) ReleaseClaims(ctx context.Context, conn *gorm.DB, batchID snowflake.ID, reason string, at time.Time) (int64, error) {
	tx := conn.WithContext(ctx)
	if err := tx.Exec(
		`UPDATE payout_batch_items SET released_at = ?, release_reason = ?
		 WHERE batch_id = ? AND released_at IS NULL`,
		at, reason, batchID,
	).Error; err != nil {
		return 0, err
	}
	result := tx.Exec(`UPDATE ledger_events SET payout_batch_id = NULL WHERE payout_batch_id = ?`, batchID)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, batch *domain.PayoutBatch, from domain.BatchStatus, version int64) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE payout_batches
		 SET status = ?, external_ref = ?, failure_reason = ?, processing_at = ?, paid_at = ?, failed_at = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND version = ?`,
		batch.Status,
		batch.ExternalRef,
		batch.FailureReason,
		batch.ProcessingAt,
		batch.PaidAt,
		batch.FailedAt,
		batch.UpdatedAt,
		batch.ID,
		from,
		version,
	))
}

func (r *repo) AddClawback(ctx context.Context, conn *gorm.DB, batchID snowflake.ID, amount int64, at time.Time) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE payout_batches
		 SET clawback_required = TRUE, clawback_amount = clawback_amount + ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = 'paid'`,
		amount, at, batchID,
	))
}

func (r *repo) Candidates(ctx context.Context, conn *gorm.DB, asOf time.Time, minimum int64) ([]domain.Candidate, error) {
	var rows []domain.Candidate
	err := conn.WithContext(ctx).Raw(
		`SELECT creator_id, currency, SUM(creator_share) AS amount
		 FROM ledger_events
		 WHERE creator_id IS NOT NULL AND status = 'posted' AND payout_batch_id IS NULL
		   AND creator_share > 0 AND occurred_at <= ?
		 GROUP BY creator_id, currency
		 HAVING SUM(creator_share) >= ?
		 ORDER BY creator_id, currency`,
		asOf, minimum,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) StaleProcessing(ctx context.Context, conn *gorm.DB, cutoff time.Time, limit int) ([]domain.PayoutBatch, error) {
	var batches []domain.PayoutBatch
	err := conn.WithContext(ctx).Raw(
		`SELECT `+batchColumns+` FROM payout_batches
		 WHERE status = 'processing' AND processing_at < ?
		 ORDER BY processing_at ASC LIMIT ?`,
		cutoff, limit,
	).Scan(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func affected(result *gorm.DB) (bool, error) {
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
