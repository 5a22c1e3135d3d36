package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/playgroundx/settlement/internal/authorization"
	"github.com/playgroundx/settlement/internal/events"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/internal/testutil"
	"github.com/playgroundx/settlement/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, topic+"|"+key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newTestScheduler(t *testing.T, s *stack.Stack, cfg Config, dispatcher *events.Dispatcher) *Scheduler {
	t.Helper()
	enforcer, err := authorization.NewEnforcer(s.DB)
	require.NoError(t, err)

	sched, err := New(Params{
		Log:        s.Log,
		GenID:      s.Node,
		Clock:      s.Clock,
		PayoutSvc:  s.Payouts,
		LedgerSvc:  s.Ledger,
		AlertSvc:   s.Alerts,
		AuditSvc:   s.Audit,
		AuthzSvc:   authorization.NewService(authorization.Params{DB: s.DB, Log: s.Log, Enforcer: enforcer}),
		Dispatcher: dispatcher,
		Config:     cfg,
	})
	require.NoError(t, err)
	return sched
}

func postTip(t *testing.T, s *stack.Stack, key, creator string, gross int64) {
	t.Helper()
	_, err := s.Ledger.Post(context.Background(), ledgerdomain.PostRequest{
		Source:         "room:tips",
		IdempotencyKey: key,
		Type:           ledgerdomain.EventTypeTip,
		GrossAmount:    gross,
		Currency:       "USD",
		CreatorID:      creator,
		FanID:          "fan-1",
		OccurredAt:     s.Clock.Now(),
	})
	require.NoError(t, err)
}

func TestNewRequiresServices(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPayoutBuildJobBuildsOncePerCreator(t *testing.T) {
	s := stack.New(t)
	sched := newTestScheduler(t, s, Config{}, nil)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", 55556)
	postTip(t, s, "tip-2", "creator-2", 1000)

	require.NoError(t, sched.PayoutBuildJob(ctx))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM payout_batches WHERE creator_id = ?`, "creator-1"))
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM payout_batches WHERE creator_id = ?`, "creator-2"))
	assert.Equal(t, int64(50000), s.Balance(t, "creator:creator-1", "USD").Held)

	// Claimed earnings are not candidates again.
	s.Clock.Advance(time.Minute)
	require.NoError(t, sched.PayoutBuildJob(ctx))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM payout_batches`))

	postTip(t, s, "tip-3", "creator-1", 55556)
	s.Clock.Advance(time.Minute)
	require.NoError(t, sched.PayoutBuildJob(ctx))
	assert.Equal(t, int64(2), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM payout_batches WHERE creator_id = ?`, "creator-1"))
}

func TestStaleProcessingJobAlertsOnce(t *testing.T) {
	s := stack.New(t)
	sched := newTestScheduler(t, s, Config{StaleProcessingAfter: 72 * time.Hour}, nil)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", 55556)
	require.NoError(t, sched.PayoutBuildJob(ctx))

	batches, err := s.Payouts.List(ctx, payoutdomain.ListRequest{CreatorID: "creator-1"})
	require.NoError(t, err)
	require.Len(t, batches.Batches, 1)
	_, err = s.Payouts.MarkProcessing(ctx, payoutdomain.MarkProcessingRequest{BatchID: batches.Batches[0].ID, ExternalRef: "wire-1"})
	require.NoError(t, err)

	s.Clock.Advance(71 * time.Hour)
	require.NoError(t, sched.StaleProcessingJob(ctx))
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM integrity_alerts WHERE kind = 'stale_processing'`))

	s.Clock.Advance(2 * time.Hour)
	require.NoError(t, sched.StaleProcessingJob(ctx))
	require.NoError(t, sched.StaleProcessingJob(ctx))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM integrity_alerts WHERE kind = 'stale_processing'`))
}

func TestBalanceReconcileRunsOnItsOwnInterval(t *testing.T) {
	s := stack.New(t)
	sched := newTestScheduler(t, s, Config{EnabledJobs: []string{JobBalanceReconcile}, ReconcileInterval: time.Hour}, nil)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", 2000)
	require.NoError(t, sched.RunOnce(ctx))
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM integrity_alerts WHERE kind = 'balance_drift'`))

	require.NoError(t, s.DB.Exec(`UPDATE balances SET available = available + 50 WHERE account_id = 'creator:creator-1'`).Error)

	s.Clock.Advance(10 * time.Minute)
	require.NoError(t, sched.RunOnce(ctx))
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM integrity_alerts WHERE kind = 'balance_drift'`))

	s.Clock.Advance(time.Hour)
	require.NoError(t, sched.RunOnce(ctx))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM integrity_alerts WHERE kind = 'balance_drift'`))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM audit_logs WHERE action = 'ledger.reconcile_drift'`))
}

func TestOutboxDispatchJobDrainsInPages(t *testing.T) {
	s := stack.New(t)
	pub := &recordingPublisher{}
	dispatcher := events.NewDispatcher(events.DispatcherParams{DB: s.DB, Log: s.Log, Publisher: pub, Clock: s.Clock})
	sched := newTestScheduler(t, s, Config{OutboxBatchSize: 1}, dispatcher)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", 2000)
	postTip(t, s, "tip-2", "creator-1", 2000)
	pending := testutil.Count(t, s.DB, `SELECT COUNT(*) FROM outbox_events WHERE status = ?`, events.OutboxStatusPending)
	require.GreaterOrEqual(t, pending, int64(2))

	require.NoError(t, sched.OutboxDispatchJob(ctx))
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, `SELECT COUNT(*) FROM outbox_events WHERE status = ?`, events.OutboxStatusPending))
	assert.Len(t, pub.keys, int(pending))
}

func TestRunOnceSkipsDispatchWithoutDispatcher(t *testing.T) {
	s := stack.New(t)
	sched := newTestScheduler(t, s, Config{EnabledJobs: []string{JobOutboxDispatch}}, nil)

	postTip(t, s, "tip-1", "creator-1", 2000)
	require.NoError(t, sched.RunOnce(context.Background()))
	assert.NotZero(t, testutil.Count(t, s.DB, `SELECT COUNT(*) FROM outbox_events WHERE status = ?`, events.OutboxStatusPending))
}
