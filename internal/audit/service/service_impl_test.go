package service

import (
	"context"
	"testing"

	"github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/internal/audit/repository"
	"github.com/playgroundx/settlement/internal/auditcontext"
	"github.com/playgroundx/settlement/internal/testutil"
	"github.com/playgroundx/settlement/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAuditService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	conn := testutil.OpenDB(t)
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Repo:  repository.Provide(),
	})
	return svc, conn
}

func strPtr(v string) *string { return &v }

func TestAuditLogChainsEntries(t *testing.T) {
	svc, conn := newAuditService(t)
	ctx := context.Background()

	require.NoError(t, svc.AuditLog(ctx, "admin", strPtr("u-1"), "refund.approve", "refund_request", strPtr("10"), map[string]any{"amount": int64(2000)}))
	require.NoError(t, svc.AuditLog(ctx, "admin", strPtr("u-1"), "payout.build", "payout_batch", strPtr("11"), nil))

	var logs []domain.AuditLog
	require.NoError(t, conn.Order("id asc").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.GenesisHash, logs[0].PrevHash)
	assert.Equal(t, logs[0].Hash, logs[1].PrevHash)

	result, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.Checked)
}

func TestVerifyDetectsTampering(t *testing.T) {
	svc, conn := newAuditService(t)
	ctx := context.Background()

	require.NoError(t, svc.AuditLog(ctx, "admin", strPtr("u-1"), "bank_review.reject", "bank_payment_submission", strPtr("7"), map[string]any{"notes": "illegible receipt"}))
	require.NoError(t, svc.AuditLog(ctx, "admin", strPtr("u-2"), "bank_review.approve", "bank_payment_submission", strPtr("8"), nil))

	require.NoError(t, conn.Exec(`UPDATE audit_logs SET action = 'bank_review.approve' WHERE action = 'bank_review.reject'`).Error)

	result, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotNil(t, result.BrokenAt)
	assert.Equal(t, "hash_mismatch", result.Reason)
	assert.Equal(t, 1, result.Checked)
}

func TestAuditLogResolvesActorFromContextAndMasks(t *testing.T) {
	svc, conn := newAuditService(t)
	ctx := auditcontext.WithActor(context.Background(), "gateway", "stripe")
	ctx = auditcontext.WithRequestID(ctx, "req-1")

	require.NoError(t, svc.AuditLog(ctx, "", nil, "gateway.config.update", "payment_provider_config", strPtr("stripe"), map[string]any{
		"webhook_secret": "whsec_abcdefwxyz",
	}))

	var entry domain.AuditLog
	require.NoError(t, conn.First(&entry).Error)
	assert.Equal(t, "gateway", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "stripe", *entry.ActorID)
	assert.Equal(t, "whsec_****wxyz", entry.Metadata["webhook_secret"])
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newAuditService(t)
	err := svc.AuditLog(context.Background(), "admin", nil, "  ", "x", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
}

func TestListPaginates(t *testing.T) {
	svc, _ := newAuditService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.AuditLog(ctx, "system", nil, "ledger.rebuild", "balances", nil, nil))
	}

	first, err := svc.List(ctx, domain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 3}})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 3)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.List(ctx, domain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 3, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 2)
	assert.False(t, second.HasMore)
	assert.Greater(t, first.AuditLogs[2].ID, second.AuditLogs[0].ID)

	_, err = svc.List(ctx, domain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}
