package service

import (
	"context"
	"testing"

	"github.com/playgroundx/settlement/internal/config"
	feedomain "github.com/playgroundx/settlement/internal/fee/domain"
	"github.com/playgroundx/settlement/internal/fee/repository"
	"github.com/playgroundx/settlement/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServiceStoresSnapshotAndFollowsReloads(t *testing.T) {
	conn := testutil.OpenDB(t)
	holder, err := config.NewFeeScheduleHolderFromConfig(config.DefaultFeeScheduleConfig())
	require.NoError(t, err)

	svc, err := NewService(Params{DB: conn, Log: zap.NewNop(), Holder: holder, Repo: repository.Provide()})
	require.NoError(t, err)
	assert.Equal(t, "default-v1", svc.Current().Version)

	res, err := svc.Split(2000, "unlock", "confession_standard")
	require.NoError(t, err)
	assert.Equal(t, int64(1800), res.CreatorShare)
	assert.Equal(t, int64(200), res.PlatformShare)

	updated := config.DefaultFeeScheduleConfig()
	updated.Version = "default-v2"
	updated.Rules[0].PlatformBps = 1500
	holder.Set(updated)

	assert.Equal(t, "default-v2", svc.Current().Version)
	res, err = svc.Split(1000, "tip", "default")
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.PlatformShare)

	snapshots, err := svc.ListSnapshots(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)

	snap, err := svc.Snapshot(context.Background(), "default-v1")
	require.NoError(t, err)
	assert.Equal(t, FromConfig(config.DefaultFeeScheduleConfig()).Checksum, snap.Checksum)

	_, err = svc.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, feedomain.ErrNotFound)
}

func TestServiceRefusesRewrittenVersion(t *testing.T) {
	conn := testutil.OpenDB(t)
	holder, err := config.NewFeeScheduleHolderFromConfig(config.DefaultFeeScheduleConfig())
	require.NoError(t, err)

	_, err = NewService(Params{DB: conn, Log: zap.NewNop(), Holder: holder, Repo: repository.Provide()})
	require.NoError(t, err)

	tampered := config.DefaultFeeScheduleConfig()
	tampered.Rules[0].PlatformBps = 2000
	tamperedHolder, err := config.NewFeeScheduleHolderFromConfig(tampered)
	require.NoError(t, err)

	_, err = NewService(Params{DB: conn, Log: zap.NewNop(), Holder: tamperedHolder, Repo: repository.Provide()})
	assert.ErrorIs(t, err, feedomain.ErrSnapshotConflict)
}
