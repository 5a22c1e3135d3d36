package repository

import (
	"context"

	"github.com/playgroundx/settlement/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, conn *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var records []domain.EventRecord
	err := conn.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Limit(1).
		Find(&records).Error
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// InsertEvent stores a callback the first time the gateway delivers it. A
// redelivery hits the (provider, provider_event_id) key and reports false.
func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.EventRecord) (bool, error) {
	result := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Select("ID", "Provider", "ProviderEventID", "EventType", "Payload", "ReceivedAt").
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkProcessed links the callback to what it caused. It only ever writes an
// unprocessed row.
func (r *repo) MarkProcessed(ctx context.Context, conn *gorm.DB, event *domain.EventRecord) error {
	return conn.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("id = ? AND processed_at IS NULL", event.ID).
		Updates(map[string]any{
			"ledger_event_id":   event.LedgerEventID,
			"refund_request_id": event.RefundRequestID,
			"processed_at":      event.ProcessedAt,
		}).Error
}
