package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/internal/notification"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/internal/refund/domain"
	"github.com/playgroundx/settlement/internal/testutil"
	"github.com/playgroundx/settlement/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, s *stack.Stack, key string, eventType ledgerdomain.EventType, tier string, gross int64) *ledgerdomain.LedgerEvent {
	t.Helper()
	res, err := s.Ledger.Post(context.Background(), ledgerdomain.PostRequest{
		Source:         "room:confessions",
		IdempotencyKey: key,
		Type:           eventType,
		Tier:           tier,
		GrossAmount:    gross,
		Currency:       "usd",
		CreatorID:      "creator-1",
		FanID:          "fan-1",
	})
	require.NoError(t, err)
	return res.Event
}

func TestApprovedUnlockRefundReversesSplit(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	unlock := post(t, s, "unlock-1", ledgerdomain.EventTypeUnlock, "confession_standard", 2000)

	request, err := s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: unlock.ID, Reason: "not as described", RequestedBy: "fan-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRequested, request.Status)
	assert.Equal(t, domain.KindRefund, request.Kind)

	res, err := s.Refunds.Decide(ctx, domain.DecideRequest{RequestID: request.ID, Decision: domain.DecisionApprove, ReviewerID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, res.Request.Status)
	require.NotNil(t, res.Reversal)
	assert.Equal(t, int64(-1800), res.Reversal.CreatorShare)
	assert.Equal(t, int64(-200), res.Reversal.PlatformShare)
	require.NotNil(t, res.Request.ReversalEventID)
	assert.Equal(t, res.Reversal.ID, *res.Request.ReversalEventID)

	original, err := s.Ledger.GetEvent(ctx, unlock.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EventStatusReversed, original.Status)
	assert.Equal(t, int64(0), s.Balance(t, "creator:creator-1", "USD").Available)
	assert.Equal(t, int64(0), s.Balance(t, "platform", "USD").Available)

	sent := s.Notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.TemplateRefundDecided, sent[0].Template)
	assert.Equal(t, "fan-1", sent[0].UserID)
	assert.Equal(t, "approved", sent[0].Data["decision"])

	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM audit_logs WHERE action = ?", "refund.approved"))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM outbox_events WHERE event_type = ?", "refund.decided"))
}

func TestDeclineLeavesBalancesAlone(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	tip := post(t, s, "tip-1", ledgerdomain.EventTypeTip, "", 1000)
	request, err := s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: tip.ID, RequestedBy: "fan-1"})
	require.NoError(t, err)

	res, err := s.Refunds.Decide(ctx, domain.DecideRequest{RequestID: request.ID, Decision: "DECLINE", ReviewerID: "admin-1", Notes: "tip delivered"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, res.Request.Status)
	assert.Nil(t, res.Reversal)
	assert.Equal(t, int64(900), s.Balance(t, "creator:creator-1", "USD").Available)

	_, err = s.Refunds.Decide(ctx, domain.DecideRequest{RequestID: request.ID, Decision: domain.DecisionApprove})
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	assert.Equal(t, int64(900), s.Balance(t, "creator:creator-1", "USD").Available)

	_, err = s.Refunds.Decide(ctx, domain.DecideRequest{RequestID: request.ID, Decision: "maybe"})
	assert.ErrorIs(t, err, domain.ErrInvalidDecision)
	_, err = s.Refunds.Decide(ctx, domain.DecideRequest{RequestID: 42, Decision: domain.DecisionDecline})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestRefundReusesOpenRequest(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	tip := post(t, s, "tip-1", ledgerdomain.EventTypeTip, "", 1000)
	first, err := s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: tip.ID, RequestedBy: "fan-1"})
	require.NoError(t, err)
	second, err := s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: tip.ID, RequestedBy: "fan-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = s.Refunds.Decide(ctx, domain.DecideRequest{RequestID: first.ID, Decision: domain.DecisionApprove})
	require.NoError(t, err)

	_, err = s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: tip.ID})
	assert.ErrorIs(t, err, domain.ErrEventReversed)

	_, err = s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: 42})
	assert.ErrorIs(t, err, ledgerdomain.ErrNotFound)
}

func TestOpenDisputeIsIdempotentOnExternalRef(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	tip := post(t, s, "tip-1", ledgerdomain.EventTypeTip, "", 1000)
	other := post(t, s, "tip-2", ledgerdomain.EventTypeTip, "", 1000)

	first, err := s.Refunds.OpenDispute(ctx, domain.DisputeRequest{EventID: tip.ID, ExternalRef: "dp_123", Reason: "fraudulent"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDispute, first.Status)
	assert.Equal(t, domain.KindDispute, first.Kind)
	require.NotNil(t, first.RequestedBy)
	assert.Equal(t, "fan-1", *first.RequestedBy)

	again, err := s.Refunds.OpenDispute(ctx, domain.DisputeRequest{EventID: tip.ID, ExternalRef: "dp_123"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = s.Refunds.OpenDispute(ctx, domain.DisputeRequest{EventID: other.ID, ExternalRef: "dp_123"})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
	_, err = s.Refunds.OpenDispute(ctx, domain.DisputeRequest{EventID: tip.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidExternalRef)

	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM refund_requests"))
}

func TestConcurrentApprovalsReverseOnce(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	tip := post(t, s, "tip-1", ledgerdomain.EventTypeTip, "", 1000)
	request, err := s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: tip.ID, RequestedBy: "fan-1"})
	require.NoError(t, err)

	const attempts = 4
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Refunds.Decide(ctx, domain.DecideRequest{RequestID: request.ID, Decision: domain.DecisionApprove, ReviewerID: "admin-1"})
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events WHERE type = ?", "refund"))
	assert.Equal(t, int64(0), s.Balance(t, "creator:creator-1", "USD").Available)
	assert.Equal(t, int64(0), s.Balance(t, "platform", "USD").Available)
}

func TestApproveAfterPayoutFlagsClawbackOnce(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	tip := post(t, s, "tip-1", ledgerdomain.EventTypeTip, "", 55556)
	batch := paidBatch(t, s)

	request, err := s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: tip.ID, RequestedBy: "fan-1"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = s.Refunds.Decide(ctx, domain.DecideRequest{RequestID: request.ID, Decision: domain.DecisionApprove, ReviewerID: "admin-1"})
		assert.ErrorIs(t, err, domain.ErrClawbackRequired)
	}

	stored, err := s.Refunds.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRequested, stored.Status)
	require.NotNil(t, stored.ClawbackBatchID)
	assert.Equal(t, batch, *stored.ClawbackBatchID)

	flagged, err := s.Payouts.Get(ctx, batch)
	require.NoError(t, err)
	assert.True(t, flagged.ClawbackRequired)
	assert.Equal(t, int64(50000), flagged.ClawbackAmount)

	event, err := s.Ledger.GetEvent(ctx, tip.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EventStatusPosted, event.Status)
	assert.Equal(t, int64(50000), s.Balance(t, "creator:creator-1", "USD").LifetimePaidOut)
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM integrity_alerts WHERE kind = ?", "clawback_required"))

	// The rolled back approval left no trace in the audit log.
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM audit_logs WHERE action IN (?, ?)", "refund.approved", "ledger.event_reversed"))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM audit_logs WHERE action = ?", "refund.clawback_flagged"))
}

func TestApproveWhileBatchProcessingIsRefused(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	tip := post(t, s, "tip-1", ledgerdomain.EventTypeTip, "", 55556)
	built, err := s.Payouts.BuildBatch(ctx, payoutdomain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)
	_, err = s.Payouts.MarkProcessing(ctx, payoutdomain.MarkProcessingRequest{BatchID: built.Batch.ID})
	require.NoError(t, err)

	request, err := s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: tip.ID})
	require.NoError(t, err)
	_, err = s.Refunds.Decide(ctx, domain.DecideRequest{RequestID: request.ID, Decision: domain.DecisionApprove})
	assert.ErrorIs(t, err, ledgerdomain.ErrBatchInFlight)

	stored, err := s.Refunds.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRequested, stored.Status)
	assert.Equal(t, int64(50000), s.Balance(t, "creator:creator-1", "USD").Held)
}

func TestListFiltersByStatus(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	a := post(t, s, "tip-1", ledgerdomain.EventTypeTip, "", 1000)
	b := post(t, s, "tip-2", ledgerdomain.EventTypeTip, "", 1000)
	first, err := s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: a.ID})
	require.NoError(t, err)
	_, err = s.Refunds.RequestRefund(ctx, domain.CreateRequest{EventID: b.ID})
	require.NoError(t, err)
	_, err = s.Refunds.Decide(ctx, domain.DecideRequest{RequestID: first.ID, Decision: domain.DecisionDecline})
	require.NoError(t, err)

	open, err := s.Refunds.List(ctx, domain.ListRequest{Status: "requested"})
	require.NoError(t, err)
	require.Len(t, open.Requests, 1)
	assert.Equal(t, b.ID, open.Requests[0].EventID)

	all, err := s.Refunds.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Requests, 2)

	_, err = s.Refunds.List(ctx, domain.ListRequest{EventID: "not-an-id"})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func paidBatch(t *testing.T, s *stack.Stack) snowflake.ID {
	t.Helper()
	ctx := context.Background()
	built, err := s.Payouts.BuildBatch(ctx, payoutdomain.BuildRequest{CreatorID: "creator-1", Currency: "USD"})
	require.NoError(t, err)
	require.False(t, built.Skipped)
	_, err = s.Payouts.MarkProcessing(ctx, payoutdomain.MarkProcessingRequest{BatchID: built.Batch.ID})
	require.NoError(t, err)
	_, err = s.Payouts.MarkPaid(ctx, payoutdomain.MarkPaidRequest{BatchID: built.Batch.ID})
	require.NoError(t, err)
	return built.Batch.ID
}
