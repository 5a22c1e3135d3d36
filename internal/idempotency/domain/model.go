package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Record struct {
	Source         string       `json:"source" gorm:"primaryKey"`
	IdempotencyKey string       `json:"idempotency_key" gorm:"primaryKey"`
	RequestHash    string       `json:"request_hash"`
	EventID        snowflake.ID `json:"event_id"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (Record) TableName() string { return "idempotency_keys" }

type AdmitRequest struct {
	Source string
	Key    string
	// Payload is hashed to detect a key reused for a different request.
	Payload any
	// EventID is reserved for the caller when the key is new. Zero lets the gate mint one.
	EventID snowflake.ID
}

type AdmitResult struct {
	Accepted bool
	EventID  snowflake.ID
}

type Service interface {
	// Admit must run inside the caller's transaction so a rolled back post
	// also releases the key.
	Admit(ctx context.Context, tx *gorm.DB, req AdmitRequest) (AdmitResult, error)
	Lookup(ctx context.Context, source, key string) (*Record, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	Get(ctx context.Context, db *gorm.DB, source, key string) (*Record, error)
}

var (
	ErrInvalidKey          = errors.New("invalid_idempotency_key")
	ErrIdempotencyConflict = errors.New("idempotency_key_reused")
	ErrNotFound            = errors.New("idempotency_key_not_found")
)
