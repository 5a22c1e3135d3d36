package service_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/internal/notification"
	"github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/internal/payout/service"
	"github.com/playgroundx/settlement/internal/testutil"
	"github.com/playgroundx/settlement/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 55556 gross leaves exactly 50000 for the creator at 10%.
const fiveHundredDollarTip = 55556

func postTip(t *testing.T, s *stack.Stack, key, creator string, gross int64, occurredAt time.Time) *ledgerdomain.LedgerEvent {
	t.Helper()
	res, err := s.Ledger.Post(context.Background(), ledgerdomain.PostRequest{
		Source:         "room:tips",
		IdempotencyKey: key,
		Type:           ledgerdomain.EventTypeTip,
		GrossAmount:    gross,
		Currency:       "USD",
		CreatorID:      creator,
		FanID:          "fan-1",
		OccurredAt:     occurredAt,
	})
	require.NoError(t, err)
	return res.Event
}

func TestPayoutHeldThenPaid(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", fiveHundredDollarTip, stack.Epoch)
	require.Equal(t, int64(50000), s.Balance(t, "creator:creator-1", "USD").Available)

	built, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD", ActorID: "admin-1"})
	require.NoError(t, err)
	require.False(t, built.Skipped)
	assert.Equal(t, domain.BatchStatusReady, built.Batch.Status)
	assert.Equal(t, int64(50000), built.Batch.CreatorEarned)
	assert.Equal(t, int64(5556), built.Batch.PlatformEarned)
	assert.Equal(t, 1, built.Batch.EventCount)
	require.Len(t, built.Items, 1)

	bal := s.Balance(t, "creator:creator-1", "USD")
	assert.Equal(t, int64(0), bal.Available)
	assert.Equal(t, int64(50000), bal.Held)

	_, err = s.Payouts.MarkProcessing(ctx, domain.MarkProcessingRequest{BatchID: built.Batch.ID, ExternalRef: "wire-77", ActorID: "admin-1"})
	require.NoError(t, err)

	s.Clock.Advance(time.Hour)
	paid, err := s.Payouts.MarkPaid(ctx, domain.MarkPaidRequest{BatchID: built.Batch.ID, ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusPaid, paid.Status)
	require.NotNil(t, paid.ExternalRef)
	assert.Equal(t, "wire-77", *paid.ExternalRef)
	require.NotNil(t, paid.PaidAt)

	bal = s.Balance(t, "creator:creator-1", "USD")
	assert.Equal(t, int64(0), bal.Held)
	assert.Equal(t, int64(0), bal.Available)
	assert.Equal(t, int64(50000), bal.LifetimePaidOut)

	sent := s.Notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.TemplatePayoutPaid, sent[0].Template)
	assert.Equal(t, "creator-1", sent[0].UserID)
	assert.Equal(t, "500.00", sent[0].Data["amount"])

	rec, err := s.Ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.Drifts)

	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM audit_logs WHERE action = ?", "payout.batch_paid"))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM outbox_events WHERE event_type = ?", "payout.batch_paid"))
}

func TestBuildBelowMinimumWritesNothing(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", 1000, stack.Epoch)

	res, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "usd"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, service.SkipBelowMinimum, res.Reason)
	assert.Nil(t, res.Batch)

	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM payout_batches"))
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events WHERE payout_batch_id IS NOT NULL"))
	assert.Equal(t, int64(900), s.Balance(t, "creator:creator-1", "USD").Available)
}

func TestEventsAreNeverClaimedTwice(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", fiveHundredDollarTip, stack.Epoch)
	postTip(t, s, "tip-2", "creator-1", 10000, stack.Epoch)

	first, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)
	require.False(t, first.Skipped)
	assert.Equal(t, 2, first.Batch.EventCount)
	assert.Equal(t, int64(59000), first.Batch.CreatorEarned)

	second, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, service.SkipNoEvents, second.Reason)

	assert.Equal(t, int64(0), testutil.Count(t, s.DB,
		`SELECT COUNT(*) FROM (SELECT event_id FROM payout_batch_items WHERE released_at IS NULL GROUP BY event_id HAVING COUNT(*) > 1) dup`))
}

func TestBuildHonoursAsOf(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	early := postTip(t, s, "tip-early", "creator-1", fiveHundredDollarTip, stack.Epoch.Add(-48*time.Hour))
	late := postTip(t, s, "tip-late", "creator-1", fiveHundredDollarTip, stack.Epoch.Add(-time.Hour))

	res, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD", AsOf: stack.Epoch.Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Len(t, res.Items, 1)
	assert.Equal(t, early.ID, res.Items[0].EventID)

	stored, err := s.Ledger.GetEvent(ctx, late.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PayoutBatchID)
}

func TestFailedBatchReleasesClaimsAndRetries(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	tipEvent := postTip(t, s, "tip-1", "creator-1", fiveHundredDollarTip, stack.Epoch)
	built, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)

	_, err = s.Payouts.MarkProcessing(ctx, domain.MarkProcessingRequest{BatchID: built.Batch.ID})
	require.NoError(t, err)
	failed, err := s.Payouts.MarkFailed(ctx, domain.MarkFailedRequest{BatchID: built.Batch.ID, Reason: "bank rejected account"})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "bank rejected account", *failed.FailureReason)

	bal := s.Balance(t, "creator:creator-1", "USD")
	assert.Equal(t, int64(50000), bal.Available)
	assert.Equal(t, int64(0), bal.Held)

	stored, err := s.Ledger.GetEvent(ctx, tipEvent.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PayoutBatchID)

	items, err := s.Payouts.Items(ctx, built.Batch.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].ReleasedAt)
	assert.Equal(t, "batch_failed", *items[0].ReleaseReason)

	retried, err := s.Payouts.Retry(ctx, domain.RetryRequest{BatchID: built.Batch.ID, ActorID: "admin-1"})
	require.NoError(t, err)
	require.False(t, retried.Skipped)
	require.NotNil(t, retried.Batch.RetryOfBatchID)
	assert.Equal(t, built.Batch.ID, *retried.Batch.RetryOfBatchID)
	assert.Equal(t, int64(50000), retried.Batch.CreatorEarned)
	assert.Equal(t, int64(50000), s.Balance(t, "creator:creator-1", "USD").Held)

	_, err = s.Payouts.Retry(ctx, domain.RetryRequest{BatchID: built.Batch.ID})
	assert.ErrorIs(t, err, domain.ErrAlreadyRetried)

	_, err = s.Payouts.Retry(ctx, domain.RetryRequest{BatchID: retried.Batch.ID})
	assert.ErrorIs(t, err, domain.ErrNotFailed)

	rec, err := s.Ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.Drifts)
}

func TestRetryClaimsOnlyEventsReleasedByTheFailedBatch(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", fiveHundredDollarTip, stack.Epoch)
	built, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)
	_, err = s.Payouts.MarkFailed(ctx, domain.MarkFailedRequest{BatchID: built.Batch.ID, Reason: "account closed"})
	require.NoError(t, err)

	// Lands after the failure but is dated inside the failed batch's period.
	late := postTip(t, s, "tip-late", "creator-1", 1000, stack.Epoch.Add(-time.Hour))

	retried, err := s.Payouts.Retry(ctx, domain.RetryRequest{BatchID: built.Batch.ID})
	require.NoError(t, err)
	require.False(t, retried.Skipped)
	assert.Equal(t, 1, retried.Batch.EventCount)
	assert.Equal(t, built.Batch.CreatorEarned, retried.Batch.CreatorEarned)
	require.Len(t, retried.Items, 1)
	assert.Equal(t, built.Items[0].EventID, retried.Items[0].EventID)

	stored, err := s.Ledger.GetEvent(ctx, late.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PayoutBatchID)

	bal := s.Balance(t, "creator:creator-1", "USD")
	assert.Equal(t, int64(50000), bal.Held)
	assert.Equal(t, int64(900), bal.Available)
}

func TestConcurrentBuildsNeverClaimTheSameFunds(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", fiveHundredDollarTip, stack.Epoch)
	postTip(t, s, "tip-2", "creator-1", fiveHundredDollarTip, stack.Epoch)
	startAvailable := s.Balance(t, "creator:creator-1", "USD").Available

	const attempts = 6
	results := make([]domain.BuildResult, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
		}(i)
	}
	wg.Wait()

	var built int
	for i := range results {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], domain.ErrClaimConflict)
			continue
		}
		if results[i].Skipped {
			continue
		}
		built++
		assert.Equal(t, 2, results[i].Batch.EventCount)
	}
	assert.Equal(t, 1, built)
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM payout_batches"))
	assert.Equal(t, int64(2), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM payout_batch_items"))

	bal := s.Balance(t, "creator:creator-1", "USD")
	assert.LessOrEqual(t, bal.Held, startAvailable)
	assert.Equal(t, int64(100000), bal.Held)
	assert.Equal(t, int64(0), bal.Available)
}

func TestTerminalBatchesAreImmutable(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", fiveHundredDollarTip, stack.Epoch)
	built, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)

	_, err = s.Payouts.MarkPaid(ctx, domain.MarkPaidRequest{BatchID: built.Batch.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.Payouts.MarkProcessing(ctx, domain.MarkProcessingRequest{BatchID: built.Batch.ID})
	require.NoError(t, err)
	_, err = s.Payouts.MarkPaid(ctx, domain.MarkPaidRequest{BatchID: built.Batch.ID})
	require.NoError(t, err)

	_, err = s.Payouts.MarkFailed(ctx, domain.MarkFailedRequest{BatchID: built.Batch.ID, Reason: "late"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = s.Payouts.MarkPaid(ctx, domain.MarkPaidRequest{BatchID: built.Batch.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, int64(50000), s.Balance(t, "creator:creator-1", "USD").LifetimePaidOut)

	_, err = s.Payouts.MarkPaid(ctx, domain.MarkPaidRequest{BatchID: 42})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCandidatesAndList(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", fiveHundredDollarTip, stack.Epoch)
	postTip(t, s, "tip-2", "creator-2", 1000, stack.Epoch)

	candidates, err := s.Payouts.Candidates(ctx, stack.Epoch, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, domain.Candidate{CreatorID: "creator-1", Currency: "USD", Amount: 50000}, candidates[0])

	_, err = s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)

	list, err := s.Payouts.List(ctx, domain.ListRequest{CreatorID: "creator-1"})
	require.NoError(t, err)
	require.Len(t, list.Batches, 1)
	assert.False(t, list.PageInfo.HasMore)

	candidates, err = s.Payouts.Candidates(ctx, stack.Epoch, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestStaleProcessing(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", fiveHundredDollarTip, stack.Epoch)
	built, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)
	_, err = s.Payouts.MarkProcessing(ctx, domain.MarkProcessingRequest{BatchID: built.Batch.ID})
	require.NoError(t, err)

	stale, err := s.Payouts.StaleProcessing(ctx, stack.Epoch.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = s.Payouts.StaleProcessing(ctx, stack.Epoch.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, built.Batch.ID, stale[0].ID)
}

func TestStatementRendersPDF(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", fiveHundredDollarTip, stack.Epoch)
	built, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)

	reader, err := s.Payouts.Statement(ctx, built.Batch.ID)
	require.NoError(t, err)
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(body[:4]))
}

func TestFlagClawbackOnlyOnPaidBatches(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	postTip(t, s, "tip-1", "creator-1", fiveHundredDollarTip, stack.Epoch)
	built, err := s.Payouts.BuildBatch(ctx, domain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)

	err = s.Payouts.FlagClawbackTx(ctx, s.DB, built.Batch.ID, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	err = s.Payouts.FlagClawbackTx(ctx, s.DB, 42, 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
