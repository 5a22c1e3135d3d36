package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	ScopeIngressWrite = "ingress:write"
	ScopeLedgerRead   = "ledger:read"
)

// KnownScopes lists every scope a key can be granted.
var KnownScopes = []string{ScopeIngressWrite, ScopeLedgerRead}

type Service interface {
	List(ctx context.Context) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
	// Authenticate resolves a raw key presented by a caller.
	Authenticate(ctx context.Context, raw string) (*APIKey, error)
}

type CreateRequest struct {
	Name   string   `json:"name"`
	Source string   `json:"source"`
	Scopes []string `json:"scopes"`
}

type Response struct {
	KeyID            string     `json:"key_id"`
	Name             string     `json:"name"`
	Source           string     `json:"source"`
	Scopes           []string   `json:"scopes"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	RotatedFromKeyID *string    `json:"rotated_from_key_id"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	Update(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*APIKey, error)
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	Touch(ctx context.Context, db *gorm.DB, id int64, at time.Time) error
	List(ctx context.Context, db *gorm.DB) ([]APIKey, error)
}

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidSource = errors.New("invalid_source")
	ErrInvalidScope  = errors.New("invalid_scope")
	ErrInvalidKeyID  = errors.New("invalid_key_id")
	ErrNotFound      = errors.New("api_key_not_found")
	ErrUnauthorized  = errors.New("invalid_api_key")
)
