package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return conn.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, actor_type, actor_id, action, target_type, target_id,
			metadata, ip_address, user_agent, prev_hash, hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ActorType,
		entry.ActorID,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Metadata,
		entry.IPAddress,
		entry.UserAgent,
		entry.PrevHash,
		entry.Hash,
		entry.CreatedAt,
	).Error
}

// LastHash locks and returns the head of the chain.
func (r *repo) LastHash(ctx context.Context, conn *gorm.DB) (string, error) {
	var hashes []string
	err := conn.WithContext(ctx).Raw(
		`SELECT hash FROM audit_logs ORDER BY id DESC LIMIT 1`+db.ForUpdate(conn),
	).Scan(&hashes).Error
	if err != nil {
		return "", err
	}
	if len(hashes) == 0 {
		return domain.GenesisHash, nil
	}
	return hashes[0], nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	stmt := conn.WithContext(ctx).Model(&domain.AuditLog{})

	if action := strings.TrimSpace(filter.Action); action != "" {
		stmt = stmt.Where("action = ?", action)
	}
	if targetType := strings.TrimSpace(filter.TargetType); targetType != "" {
		stmt = stmt.Where("target_type = ?", targetType)
	}
	if targetID := strings.TrimSpace(filter.TargetID); targetID != "" {
		stmt = stmt.Where("target_id = ?", targetID)
	}
	if actorType := strings.TrimSpace(filter.ActorType); actorType != "" {
		stmt = stmt.Where("actor_type = ?", actorType)
	}
	if actorID := strings.TrimSpace(filter.ActorID); actorID != "" {
		stmt = stmt.Where("actor_id = ?", actorID)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("id < ?", filter.Cursor.ID)
	}

	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repo) ListAscending(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	err := conn.WithContext(ctx).
		Model(&domain.AuditLog{}).
		Where("id > ?", afterID).
		Order("id asc").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
