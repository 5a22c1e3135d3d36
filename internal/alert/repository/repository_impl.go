package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/alert/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, alert *domain.IntegrityAlert) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO integrity_alerts (id, kind, severity, account_id, subject, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.Kind,
		alert.Severity,
		alert.AccountID,
		alert.Subject,
		alert.Detail,
		alert.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.IntegrityAlert, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.OnlyUnresolved {
		clauses = append(clauses, "resolved_at IS NULL")
	}
	query := `SELECT id, kind, severity, account_id, subject, detail, created_at, resolved_at FROM integrity_alerts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	var alerts []domain.IntegrityAlert
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE integrity_alerts SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		at, id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
