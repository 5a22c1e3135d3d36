package repository

import (
	"context"

	"github.com/playgroundx/settlement/internal/idempotency/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO idempotency_keys (source, idempotency_key, request_hash, event_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (source, idempotency_key) DO NOTHING`,
		record.Source,
		record.IdempotencyKey,
		record.RequestHash,
		record.EventID,
		record.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, source, key string) (*domain.Record, error) {
	var records []domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT source, idempotency_key, request_hash, event_id, created_at
		 FROM idempotency_keys
		 WHERE source = ? AND idempotency_key = ?`,
		source,
		key,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}
