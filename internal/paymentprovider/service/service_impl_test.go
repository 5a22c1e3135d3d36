package service_test

import (
	"context"
	"testing"

	"github.com/playgroundx/settlement/internal/config"
	"github.com/playgroundx/settlement/internal/paymentprovider/domain"
	"github.com/playgroundx/settlement/internal/paymentprovider/repository"
	"github.com/playgroundx/settlement/internal/paymentprovider/service"
	"github.com/playgroundx/settlement/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T, db *gorm.DB, secret string) domain.Service {
	t.Helper()
	svc, err := service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Repo:  repository.Provide(),
		Cfg:   config.Config{PaymentProviderConfigSecret: secret},
	})
	require.NoError(t, err)
	return svc
}

func TestConfigIsEncryptedAtRest(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := newService(t, db, "test-secret")
	ctx := context.Background()

	summary, err := svc.UpsertConfig(ctx, domain.UpsertRequest{Provider: " Stripe ", Config: map[string]any{"webhook_secret": " whsec_abc "}})
	require.NoError(t, err)
	assert.Equal(t, "stripe", summary.Provider)
	assert.True(t, summary.IsActive)

	var stored string
	require.NoError(t, db.Raw(`SELECT config FROM payment_provider_configs WHERE provider = ?`, "stripe").Scan(&stored).Error)
	assert.NotContains(t, stored, "whsec_abc")

	creds, err := svc.Credentials(ctx, "stripe")
	require.NoError(t, err)
	assert.Equal(t, "whsec_abc", creds["webhook_secret"])

	_, err = newService(t, db, "other-secret").Credentials(ctx, "stripe")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestUpsertValidation(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()

	_, err := newService(t, db, "").UpsertConfig(ctx, domain.UpsertRequest{Provider: "stripe", Config: map[string]any{"webhook_secret": "x"}})
	assert.ErrorIs(t, err, domain.ErrEncryptionKeyMissing)

	svc := newService(t, db, "test-secret")
	_, err = svc.UpsertConfig(ctx, domain.UpsertRequest{Provider: "square", Config: map[string]any{"webhook_secret": "x"}})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)
	_, err = svc.UpsertConfig(ctx, domain.UpsertRequest{Provider: "braintree", Config: map[string]any{"public_key": "pk"}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestDisabledProviderHasNoCredentials(t *testing.T) {
	svc := newService(t, testutil.OpenDB(t), "test-secret")
	ctx := context.Background()

	_, err := svc.SetActive(ctx, "stripe", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.UpsertConfig(ctx, domain.UpsertRequest{Provider: "stripe", Config: map[string]any{"webhook_secret": "whsec"}})
	require.NoError(t, err)
	_, err = svc.SetActive(ctx, "stripe", false)
	require.NoError(t, err)

	_, err = svc.Credentials(ctx, "stripe")
	assert.ErrorIs(t, err, domain.ErrInactive)

	configs, err := svc.ListConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.False(t, configs[0].IsActive)
}
