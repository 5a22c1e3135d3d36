package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Service interface {
	ListCatalog(ctx context.Context) ([]CatalogProvider, error)
	ListConfigs(ctx context.Context) ([]ConfigSummary, error)
	UpsertConfig(ctx context.Context, req UpsertRequest) (*ConfigSummary, error)
	SetActive(ctx context.Context, provider string, isActive bool) (*ConfigSummary, error)
	// Credentials decrypts the active configuration of provider.
	Credentials(ctx context.Context, provider string) (map[string]any, error)
}

type ConfigSummary struct {
	Provider   string    `json:"provider"`
	IsActive   bool      `json:"is_active"`
	Configured bool      `json:"configured"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type UpsertRequest struct {
	Provider string         `json:"provider"`
	Config   map[string]any `json:"config"`
}

type Repository interface {
	ListConfigs(ctx context.Context, db *gorm.DB) ([]ProviderConfig, error)
	FindConfig(ctx context.Context, db *gorm.DB, provider string) (*ProviderConfig, error)
	UpsertConfig(ctx context.Context, db *gorm.DB, config *ProviderConfig) error
	UpdateStatus(ctx context.Context, db *gorm.DB, provider string, isActive bool, updatedAt time.Time) (bool, error)
}

var (
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidConfig        = errors.New("invalid_config")
	ErrNotFound             = errors.New("provider_config_not_found")
	ErrInactive             = errors.New("provider_inactive")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
)
