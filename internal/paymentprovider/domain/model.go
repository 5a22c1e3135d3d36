package domain

import (
	"time"

	"gorm.io/datatypes"
)

// CatalogProvider describes a gateway the settlement engine can accept callbacks from.
type CatalogProvider struct {
	Provider        string   `json:"provider"`
	DisplayName     string   `json:"display_name"`
	RequiredFields  []string `json:"required_fields"`
	SupportsDispute bool     `json:"supports_dispute"`
}

// Catalog lists the supported gateways.
var Catalog = []CatalogProvider{
	{Provider: "braintree", DisplayName: "PayPal (Braintree)", RequiredFields: []string{"public_key", "private_key"}, SupportsDispute: true},
	{Provider: "stripe", DisplayName: "Stripe", RequiredFields: []string{"webhook_secret"}, SupportsDispute: true},
}

// FindCatalog returns the catalog entry for provider, or nil.
func FindCatalog(provider string) *CatalogProvider {
	for i := range Catalog {
		if Catalog[i].Provider == provider {
			return &Catalog[i]
		}
	}
	return nil
}

// ProviderConfig holds a gateway's credentials. Config is the AES-GCM envelope,
// never the plaintext.
type ProviderConfig struct {
	ID        int64          `json:"id" gorm:"primaryKey"`
	Provider  string         `json:"provider" gorm:"type:text;not null;uniqueIndex"`
	Config    datatypes.JSON `json:"config" gorm:"not null"`
	IsActive  bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null"`
}

func (ProviderConfig) TableName() string { return "payment_provider_configs" }
