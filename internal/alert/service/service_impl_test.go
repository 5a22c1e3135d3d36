package service

import (
	"context"
	"testing"
	"time"

	"github.com/playgroundx/settlement/internal/alert/domain"
	"github.com/playgroundx/settlement/internal/alert/repository"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/config"
	"github.com/playgroundx/settlement/internal/events"
	"github.com/playgroundx/settlement/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRaisePersistsAndQueuesAlert(t *testing.T) {
	conn := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC))
	outbox := events.NewOutbox(events.OutboxParams{
		Cfg:   config.Config{Kafka: config.KafkaConfig{AlertTopic: "ops.alerts"}},
		GenID: node,
		Clock: clk,
	})
	svc := NewService(Params{DB: conn, Log: zap.NewNop(), GenID: node, Repo: repository.Provide(), Outbox: outbox, Clock: clk})

	alert, err := svc.Raise(context.Background(), domain.RaiseRequest{
		Kind:      domain.KindBalanceDrift,
		AccountID: "creator:c-1",
		Subject:   "available drifted",
		Detail:    map[string]any{"expected": 100, "actual": 90},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityCritical, alert.Severity)

	assert.Equal(t, int64(1), testutil.Count(t, conn, "SELECT COUNT(*) FROM outbox_events WHERE topic = ?", "ops.alerts"))

	list, err := svc.List(context.Background(), domain.ListFilter{OnlyUnresolved: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].AccountID)
	assert.Equal(t, "creator:c-1", *list[0].AccountID)

	require.NoError(t, svc.Resolve(context.Background(), alert.ID, "admin-1"))
	assert.ErrorIs(t, svc.Resolve(context.Background(), alert.ID, "admin-1"), domain.ErrNotFound)

	list, err = svc.List(context.Background(), domain.ListFilter{OnlyUnresolved: true})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRaiseRequiresKind(t *testing.T) {
	conn := testutil.OpenDB(t)
	svc := NewService(Params{DB: conn, Log: zap.NewNop(), GenID: testutil.Node(t), Repo: repository.Provide()})
	_, err := svc.Raise(context.Background(), domain.RaiseRequest{Subject: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidKind)
}
