package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/playgroundx/settlement/internal/ingress/domain"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	refunddomain "github.com/playgroundx/settlement/internal/refund/domain"
	"github.com/playgroundx/settlement/internal/testutil"
	"github.com/playgroundx/settlement/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tip(key string) domain.SubmitRequest {
	return domain.SubmitRequest{
		Source:         " Room:Tips ",
		IdempotencyKey: key,
		Type:           "TIP",
		GrossAmount:    1000,
		Currency:       "usd",
		CreatorID:      "creator-1",
		FanID:          "fan-1",
	}
}

func TestConcurrentDuplicateSubmitsCreateOneEvent(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	const attempts = 8
	results := make([]domain.SubmitResult, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Ingress.Submit(ctx, tip("tip-race"))
		}(i)
	}
	wg.Wait()

	var fresh int
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].EventID, results[i].EventID)
		if !results[i].Duplicate {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events"))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM idempotency_keys"))
	assert.Equal(t, int64(900), s.Balance(t, "creator:creator-1", "USD").Available)
	assert.Equal(t, int64(100), s.Balance(t, "platform", "USD").Available)
}

func TestSubmitPostsAndDeduplicates(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	first, err := s.Ingress.Submit(ctx, tip("tip-1"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, string(ledgerdomain.EventStatusPosted), first.Status)

	again, err := s.Ingress.Submit(ctx, tip("tip-1"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.EventID, again.EventID)

	event, err := s.Ledger.GetEvent(ctx, first.EventID)
	require.NoError(t, err)
	assert.Equal(t, "room:tips", event.Source)
	assert.Equal(t, int64(900), s.Balance(t, "creator:creator-1", "USD").Available)
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events"))
}

func TestSubmitValidation(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.SubmitRequest)
		want   error
	}{
		{"missing source", func(r *domain.SubmitRequest) { r.Source = "" }, domain.ErrInvalidSource},
		{"missing key", func(r *domain.SubmitRequest) { r.IdempotencyKey = "  " }, domain.ErrInvalidIdempotencyKey},
		{"unknown type", func(r *domain.SubmitRequest) { r.Type = "gift" }, domain.ErrInvalidType},
		{"refund is not postable", func(r *domain.SubmitRequest) { r.Type = "refund" }, domain.ErrInvalidType},
		{"negative amount", func(r *domain.SubmitRequest) { r.GrossAmount = -1 }, domain.ErrInvalidAmount},
		{"amount too large to split", func(r *domain.SubmitRequest) { r.GrossAmount = 10_000_000_000_000_000 }, domain.ErrInvalidAmount},
		{"bad currency", func(r *domain.SubmitRequest) { r.Currency = "us1" }, ledgerdomain.ErrInvalidCurrency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tip("bad")
			tc.mutate(&req)
			_, err := s.Ingress.Submit(ctx, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events"))
}

func TestRefundRequestRoutesToResolver(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	posted, err := s.Ingress.Submit(ctx, tip("tip-1"))
	require.NoError(t, err)

	res, err := s.Ingress.Submit(ctx, domain.SubmitRequest{
		Source:  "room:tips",
		Type:    domain.TypeRefundRequest,
		EventID: posted.EventID.String(),
		FanID:   "fan-1",
		Reason:  "wrong creator",
	})
	require.NoError(t, err)
	require.NotNil(t, res.RefundRequestID)
	assert.Equal(t, posted.EventID, res.EventID)
	assert.Equal(t, string(refunddomain.StatusRequested), res.Status)

	request, err := s.Refunds.Get(ctx, *res.RefundRequestID)
	require.NoError(t, err)
	require.NotNil(t, request.RequestedBy)
	assert.Equal(t, "fan-1", *request.RequestedBy)
	assert.Equal(t, int64(900), s.Balance(t, "creator:creator-1", "USD").Available)

	_, err = s.Ingress.Submit(ctx, domain.SubmitRequest{Source: "room:tips", Type: domain.TypeRefundRequest, EventID: "abc"})
	assert.ErrorIs(t, err, domain.ErrInvalidEventID)
}

func TestSubmitTxRefusesRefundRequests(t *testing.T) {
	s := stack.New(t)

	_, err := s.Ingress.SubmitTx(context.Background(), s.DB, domain.SubmitRequest{Source: "room:tips", Type: domain.TypeRefundRequest, EventID: "1"})
	assert.ErrorIs(t, err, domain.ErrInvalidType)
}
