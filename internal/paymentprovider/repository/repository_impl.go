package repository

import (
	"context"
	"time"

	"github.com/playgroundx/settlement/internal/paymentprovider/domain"
	"gorm.io/gorm"
)

const configColumns = `id, provider, config, is_active, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListConfigs(ctx context.Context, conn *gorm.DB) ([]domain.ProviderConfig, error) {
	var configs []domain.ProviderConfig
	if err := conn.WithContext(ctx).Raw(
		`SELECT ` + configColumns + ` FROM payment_provider_configs ORDER BY provider`,
	).Scan(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// FindConfig returns nil, nil when the gateway has never been configured.
func (r *repo) FindConfig(ctx context.Context, conn *gorm.DB, provider string) (*domain.ProviderConfig, error) {
	var configs []domain.ProviderConfig
	if err := conn.WithContext(ctx).Raw(
		`SELECT `+configColumns+` FROM payment_provider_configs WHERE provider = ?`, provider,
	).Scan(&configs).Error; err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, nil
	}
	return &configs[0], nil
}

// UpsertConfig replaces the credential envelope of an existing gateway and
// keeps its id and created_at; rotating a secret is not a new gateway.
func (r *repo) UpsertConfig(ctx context.Context, conn *gorm.DB, config *domain.ProviderConfig) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payment_provider_configs (`+configColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider) DO UPDATE SET
		   config = EXCLUDED.config,
		   is_active = EXCLUDED.is_active,
		   updated_at = EXCLUDED.updated_at`,
		config.ID, config.Provider, config.Config, config.IsActive, config.CreatedAt, config.UpdatedAt,
	).Error
}

// UpdateStatus reports false when no row matched the gateway.
func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, provider string, isActive bool, updatedAt time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE payment_provider_configs SET is_active = ?, updated_at = ? WHERE provider = ? AND is_active <> ?`,
		isActive, updatedAt, provider, isActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	// Already in the requested state still counts as found.
	var count int64
	if err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM payment_provider_configs WHERE provider = ?`, provider,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
