package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/pkg/db"
	"gorm.io/gorm"
)

const eventColumns = `id, source, idempotency_key, type, tier, gross_amount, creator_share, platform_share,
	currency, creator_id, fan_id, funding_source, fee_schedule_version, platform_bps, occurred_at,
	status, reverses_event_id, reversal_ref, reason, payout_batch_id, metadata, created_at`

const balanceColumns = `account_id, currency, account_type, available, held, lifetime_gross,
	lifetime_paid_out, version, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.LedgerEvent) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO ledger_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Source,
		event.IdempotencyKey,
		event.Type,
		event.Tier,
		event.GrossAmount,
		event.CreatorShare,
		event.PlatformShare,
		event.Currency,
		event.CreatorID,
		event.FanID,
		event.FundingSource,
		event.FeeScheduleVersion,
		event.PlatformBps,
		event.OccurredAt,
		event.Status,
		event.ReversesEventID,
		event.ReversalRef,
		event.Reason,
		event.PayoutBatchID,
		event.Metadata,
		event.CreatedAt,
	).Error
}

func (r *repo) GetEvent(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.LedgerEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM ledger_events WHERE id = ?`
	if forUpdate {
		query += db.ForUpdate(conn)
	}
	return firstEvent(conn.WithContext(ctx).Raw(query, id))
}

func (r *repo) GetReversalOf(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.LedgerEvent, error) {
	return firstEvent(conn.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM ledger_events WHERE reverses_event_id = ?`, id,
	))
}

func firstEvent(query *gorm.DB) (*domain.LedgerEvent, error) {
	var events []domain.LedgerEvent
	if err := query.Scan(&events).Error; err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *repo) MarkReversed(ctx context.Context, conn *gorm.DB, id snowflake.ID) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE ledger_events SET status = ? WHERE id = ? AND status = ?`,
		domain.EventStatusReversed, id, domain.EventStatusPosted,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListEvents(ctx context.Context, conn *gorm.DB, filter domain.EventFilter) ([]*domain.LedgerEvent, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.CreatorID != "" {
		clauses = append(clauses, "creator_id = ?")
		args = append(args, filter.CreatorID)
	}
	if filter.FanID != "" {
		clauses = append(clauses, "fan_id = ?")
		args = append(args, filter.FanID)
	}
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Currency != "" {
		clauses = append(clauses, "currency = ?")
		args = append(args, filter.Currency)
	}
	if filter.BeforeID != nil {
		clauses = append(clauses, "id < ?")
		args = append(args, *filter.BeforeID)
	}

	query := `SELECT ` + eventColumns + ` FROM ledger_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, filter.Limit+1)

	var events []*domain.LedgerEvent
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ScanEvents(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]domain.LedgerEvent, error) {
	var events []domain.LedgerEvent
	err := conn.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM ledger_events WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) GetClaim(ctx context.Context, conn *gorm.DB, batchID snowflake.ID, forUpdate bool) (*domain.Claim, error) {
	query := `SELECT id AS batch_id, status FROM payout_batches WHERE id = ?`
	if forUpdate {
		query += db.ForUpdate(conn)
	}
	var claims []domain.Claim
	if err := conn.WithContext(ctx).Raw(query, batchID).Scan(&claims).Error; err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return nil, nil
	}
	return &claims[0], nil
}

// ReleaseFromBatch takes a reversed event out of its open batch: totals shrink,
// the claim history row is stamped and the event's claim is cleared. A batch
// left without events fails so it can never be paid.
func (r *repo) ReleaseFromBatch(ctx context.Context, conn *gorm.DB, event *domain.LedgerEvent, reason string, at time.Time) error {
	if event.PayoutBatchID == nil {
		return nil
	}
	batchID := *event.PayoutBatchID
	tx := conn.WithContext(ctx)

	if err := tx.Exec(
		`UPDATE payout_batches
		 SET gross = gross - ?, creator_earned = creator_earned - ?, platform_earned = platform_earned - ?,
		     event_count = event_count - 1, version = version + 1, updated_at = ?
		 WHERE id = ?`,
		event.GrossAmount, event.CreatorShare, event.PlatformShare, at, batchID,
	).Error; err != nil {
		return err
	}
	if err := tx.Exec(
		`UPDATE payout_batches
		 SET status = 'failed', failure_reason = ?, failed_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND event_count = 0 AND status IN ('pending', 'ready')`,
		"all events reversed", at, at, batchID,
	).Error; err != nil {
		return err
	}
	if err := tx.Exec(
		`UPDATE payout_batch_items SET released_at = ?, release_reason = ?
		 WHERE batch_id = ? AND event_id = ? AND released_at IS NULL`,
		at, reason, batchID, event.ID,
	).Error; err != nil {
		return err
	}
	return tx.Exec(
		`UPDATE ledger_events SET payout_batch_id = NULL WHERE id = ? AND payout_batch_id = ?`,
		event.ID, batchID,
	).Error
}

func (r *repo) BatchStatuses(ctx context.Context, conn *gorm.DB) (map[snowflake.ID]string, error) {
	var rows []domain.Claim
	if err := conn.WithContext(ctx).Raw(`SELECT id AS batch_id, status FROM payout_batches`).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]string, len(rows))
	for _, row := range rows {
		out[row.BatchID] = row.Status
	}
	return out, nil
}

func (r *repo) Credit(ctx context.Context, conn *gorm.DB, key domain.BalanceKey, accountType domain.AccountType, amount, lifetime int64, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO balances (`+balanceColumns+`)
		 VALUES (?, ?, ?, ?, 0, ?, 0, 1, ?)
		 ON CONFLICT (account_id, currency) DO UPDATE SET
		   available = balances.available + excluded.available,
		   lifetime_gross = balances.lifetime_gross + excluded.lifetime_gross,
		   version = balances.version + 1,
		   updated_at = excluded.updated_at`,
		key.AccountID, key.Currency, accountType, amount, lifetime, at,
	).Error
}

func (r *repo) DebitAvailable(ctx context.Context, conn *gorm.DB, key domain.BalanceKey, amount, lifetime int64, at time.Time) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE balances
		 SET available = available - ?, lifetime_gross = lifetime_gross - ?, version = version + 1, updated_at = ?
		 WHERE account_id = ? AND currency = ? AND available >= ?`,
		amount, lifetime, at, key.AccountID, key.Currency, amount,
	))
}

func (r *repo) DebitHeld(ctx context.Context, conn *gorm.DB, key domain.BalanceKey, amount, lifetime int64, at time.Time) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE balances
		 SET held = held - ?, lifetime_gross = lifetime_gross - ?, version = version + 1, updated_at = ?
		 WHERE account_id = ? AND currency = ? AND held >= ?`,
		amount, lifetime, at, key.AccountID, key.Currency, amount,
	))
}

func (r *repo) MoveToHeld(ctx context.Context, conn *gorm.DB, key domain.BalanceKey, amount, version int64, at time.Time) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE balances
		 SET available = available - ?, held = held + ?, version = version + 1, updated_at = ?
		 WHERE account_id = ? AND currency = ? AND version = ? AND available >= ?`,
		amount, amount, at, key.AccountID, key.Currency, version, amount,
	))
}

func (r *repo) MoveHeldToPaid(ctx context.Context, conn *gorm.DB, key domain.BalanceKey, amount int64, at time.Time) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE balances
		 SET held = held - ?, lifetime_paid_out = lifetime_paid_out + ?, version = version + 1, updated_at = ?
		 WHERE account_id = ? AND currency = ? AND held >= ?`,
		amount, amount, at, key.AccountID, key.Currency, amount,
	))
}

func (r *repo) MoveHeldToAvailable(ctx context.Context, conn *gorm.DB, key domain.BalanceKey, amount int64, at time.Time) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE balances
		 SET held = held - ?, available = available + ?, version = version + 1, updated_at = ?
		 WHERE account_id = ? AND currency = ? AND held >= ?`,
		amount, amount, at, key.AccountID, key.Currency, amount,
	))
}

func affected(result *gorm.DB) (bool, error) {
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) GetBalance(ctx context.Context, conn *gorm.DB, key domain.BalanceKey) (*domain.Balance, error) {
	var balances []domain.Balance
	err := conn.WithContext(ctx).Raw(
		`SELECT `+balanceColumns+` FROM balances WHERE account_id = ? AND currency = ?`,
		key.AccountID, key.Currency,
	).Scan(&balances).Error
	if err != nil {
		return nil, err
	}
	if len(balances) == 0 {
		return nil, nil
	}
	return &balances[0], nil
}

func (r *repo) ListBalances(ctx context.Context, conn *gorm.DB, filter domain.BalanceFilter) ([]*domain.Balance, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.AccountType != "" {
		clauses = append(clauses, "account_type = ?")
		args = append(args, filter.AccountType)
	}
	if filter.Currency != "" {
		clauses = append(clauses, "currency = ?")
		args = append(args, filter.Currency)
	}
	if filter.After != nil {
		clauses = append(clauses, "(account_id > ? OR (account_id = ? AND currency > ?))")
		args = append(args, filter.After.AccountID, filter.After.AccountID, filter.After.Currency)
	}

	query := `SELECT ` + balanceColumns + ` FROM balances`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY account_id ASC, currency ASC LIMIT ?"
	args = append(args, filter.Limit+1)

	var balances []*domain.Balance
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *repo) AllBalances(ctx context.Context, conn *gorm.DB) ([]domain.Balance, error) {
	var balances []domain.Balance
	if err := conn.WithContext(ctx).Raw(
		`SELECT ` + balanceColumns + ` FROM balances ORDER BY account_id, currency`,
	).Scan(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *repo) ReplaceBalance(ctx context.Context, conn *gorm.DB, balance *domain.Balance) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO balances (`+balanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
		 ON CONFLICT (account_id, currency) DO UPDATE SET
		   account_type = excluded.account_type,
		   available = excluded.available,
		   held = excluded.held,
		   lifetime_gross = excluded.lifetime_gross,
		   lifetime_paid_out = excluded.lifetime_paid_out,
		   version = balances.version + 1,
		   updated_at = excluded.updated_at`,
		balance.AccountID,
		balance.Currency,
		balance.AccountType,
		balance.Available,
		balance.Held,
		balance.LifetimeGross,
		balance.LifetimePaidOut,
		balance.UpdatedAt,
	).Error
}
