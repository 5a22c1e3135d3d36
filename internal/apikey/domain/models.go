package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// APIKey is a hashed credential issued to a room or feature module. Source
// is stamped onto every event the key submits.
type APIKey struct {
	ID               snowflake.ID                `gorm:"primaryKey"`
	KeyID            string                      `gorm:"column:key_id;type:text;not null;uniqueIndex"`
	Name             string                      `gorm:"type:text;not null"`
	Source           string                      `gorm:"type:text;not null"`
	Scopes           datatypes.JSONSlice[string] `gorm:"not null"`
	KeyHash          string                      `gorm:"column:key_hash;type:text;not null"`
	IsActive         bool                        `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time                   `gorm:"not null"`
	UpdatedAt        time.Time                   `gorm:"not null"`
	LastUsedAt       *time.Time                  `gorm:"column:last_used_at"`
	ExpiresAt        *time.Time                  `gorm:"column:expires_at"`
	RotatedFromKeyID *string                     `gorm:"column:rotated_from_key_id;type:text"`
}

func (APIKey) TableName() string { return "api_keys" }

// HasScope reports whether the key was granted scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, granted := range k.Scopes {
		if granted == scope {
			return true
		}
	}
	return false
}

// Usable reports whether the key may authenticate at now.
func (k *APIKey) Usable(now time.Time) bool {
	return k.IsActive && (k.ExpiresAt == nil || k.ExpiresAt.After(now))
}

// HashAPIKey hashes the raw API key using the same strategy as key creation.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
