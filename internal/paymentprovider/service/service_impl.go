package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	auditmasking "github.com/playgroundx/settlement/internal/audit/masking"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/config"
	"github.com/playgroundx/settlement/internal/paymentprovider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const keyInfo = "playgroundx/payment-provider-config/v1"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Cfg      config.Config
	AuditSvc auditdomain.Service `optional:"true"`
	Clock    clock.Clock         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	genID    *snowflake.Node
	encKey   []byte
	auditSvc auditdomain.Service
	clock    clock.Clock
}

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func New(p Params) (domain.Service, error) {
	key, err := deriveKey(p.Cfg.PaymentProviderConfigSecret)
	if err != nil {
		return nil, err
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Service{
		db:       p.DB,
		log:      p.Log.Named("paymentprovider.service"),
		repo:     p.Repo,
		genID:    p.GenID,
		encKey:   key,
		auditSvc: p.AuditSvc,
		clock:    clk,
	}, nil
}

// deriveKey stretches the configured secret into an AES-256 key. An empty
// secret leaves encryption disabled.
func deriveKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Service) ListCatalog(ctx context.Context) ([]domain.CatalogProvider, error) {
	out := make([]domain.CatalogProvider, len(domain.Catalog))
	copy(out, domain.Catalog)
	return out, nil
}

func (s *Service) ListConfigs(ctx context.Context) ([]domain.ConfigSummary, error) {
	items, err := s.repo.ListConfigs(ctx, s.db)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.ConfigSummary, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.ConfigSummary{
			Provider:   item.Provider,
			IsActive:   item.IsActive,
			Configured: true,
			UpdatedAt:  item.UpdatedAt,
		})
	}
	return resp, nil
}

func (s *Service) UpsertConfig(ctx context.Context, req domain.UpsertRequest) (*domain.ConfigSummary, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	catalog := domain.FindCatalog(provider)
	if catalog == nil {
		return nil, domain.ErrInvalidProvider
	}

	cfg := normalizeConfig(req.Config)
	for _, field := range catalog.RequiredFields {
		if _, ok := cfg[field].(string); !ok {
			return nil, domain.ErrInvalidConfig
		}
	}

	encrypted, err := s.encryptConfig(cfg)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindConfig(ctx, s.db, provider)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	row := domain.ProviderConfig{
		ID:        s.genID.Generate().Int64(),
		Provider:  provider,
		Config:    encrypted,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		row.ID = existing.ID
		row.IsActive = existing.IsActive
		row.CreatedAt = existing.CreatedAt
	}
	if err := s.repo.UpsertConfig(ctx, s.db, &row); err != nil {
		return nil, err
	}

	action := "provider.rotate_secret"
	if existing == nil {
		action = "provider.configured"
	}
	s.audit(ctx, action, provider, map[string]any{
		"provider": provider,
		"config":   auditmasking.MaskMetadata(cfg),
	})

	return &domain.ConfigSummary{
		Provider:   provider,
		IsActive:   row.IsActive,
		Configured: true,
		UpdatedAt:  now,
	}, nil
}

func (s *Service) SetActive(ctx context.Context, provider string, isActive bool) (*domain.ConfigSummary, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if domain.FindCatalog(provider) == nil {
		return nil, domain.ErrInvalidProvider
	}

	now := s.clock.Now().UTC()
	updated, err := s.repo.UpdateStatus(ctx, s.db, provider, isActive, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}

	action := "provider.disable"
	if isActive {
		action = "provider.enable"
	}
	s.audit(ctx, action, provider, map[string]any{"provider": provider, "is_active": isActive})

	return &domain.ConfigSummary{
		Provider:   provider,
		IsActive:   isActive,
		Configured: true,
		UpdatedAt:  now,
	}, nil
}

func (s *Service) Credentials(ctx context.Context, provider string) (map[string]any, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if domain.FindCatalog(provider) == nil {
		return nil, domain.ErrInvalidProvider
	}
	row, err := s.repo.FindConfig(ctx, s.db, provider)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	if !row.IsActive {
		return nil, domain.ErrInactive
	}
	return s.decryptConfig(row.Config)
}

func (s *Service) audit(ctx context.Context, action, provider string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "payment_provider_config", &provider, metadata); err != nil {
		s.log.Warn("failed to write provider audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) gcm() (cipher.AEAD, error) {
	if len(s.encKey) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}
	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *Service) encryptConfig(cfg map[string]any) (datatypes.JSON, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, payload, nil)
	out, err := json.Marshal(encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}

func (s *Service) decryptConfig(encrypted datatypes.JSON) (map[string]any, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	var payload encryptedPayload
	if err := json.Unmarshal(encrypted, &payload); err != nil || payload.Version != 1 {
		return nil, domain.ErrInvalidConfig
	}
	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil || len(out) == 0 {
		return nil, domain.ErrInvalidConfig
	}
	return out, nil
}

func normalizeConfig(cfg map[string]any) map[string]any {
	normalized := make(map[string]any, len(cfg))
	for key, value := range cfg {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || value == nil {
			continue
		}
		if str, ok := value.(string); ok {
			str = strings.TrimSpace(str)
			if str == "" {
				continue
			}
			normalized[trimmedKey] = str
			continue
		}
		normalized[trimmedKey] = value
	}
	return normalized
}
