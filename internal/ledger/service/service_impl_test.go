package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/playgroundx/settlement/internal/config"
	feedomain "github.com/playgroundx/settlement/internal/fee/domain"
	idemdomain "github.com/playgroundx/settlement/internal/idempotency/domain"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/internal/testutil"
	"github.com/playgroundx/settlement/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func tip(key, creator string, gross int64) ledgerdomain.PostRequest {
	return ledgerdomain.PostRequest{
		Source:         "room:confessions",
		IdempotencyKey: key,
		Type:           ledgerdomain.EventTypeTip,
		GrossAmount:    gross,
		Currency:       "usd",
		CreatorID:      creator,
		FanID:          "fan-1",
	}
}

func TestPostTipSplitsNinetyTen(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	res, err := s.Ledger.Post(ctx, tip("tip-1", "creator-1", 1000))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(900), res.Event.CreatorShare)
	assert.Equal(t, int64(100), res.Event.PlatformShare)
	assert.Equal(t, "USD", res.Event.Currency)
	assert.Equal(t, "default", res.Event.Tier)
	assert.Equal(t, "default-v1", res.Event.FeeScheduleVersion)
	assert.Equal(t, ledgerdomain.EventStatusPosted, res.Event.Status)

	creator := s.Balance(t, "creator:creator-1", "USD")
	platform := s.Balance(t, "platform", "USD")
	assert.Equal(t, int64(900), creator.Available)
	assert.Equal(t, int64(900), creator.LifetimeGross)
	assert.Equal(t, int64(100), platform.Available)

	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM outbox_events WHERE event_type = ?", "ledger.event_posted"))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM audit_logs WHERE action = ?", "ledger.event_posted"))
}

func TestSplitNeverLeaksMinorUnits(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	amounts := []int64{0, 1, 3, 5, 7, 15, 99, 101, 12345, 999_999}
	var wantCreator, wantPlatform int64
	for i, gross := range amounts {
		res, err := s.Ledger.Post(ctx, tip(fmt.Sprintf("edge-%d", i), "creator-edge", gross))
		require.NoError(t, err)
		assert.Equal(t, gross, res.Event.CreatorShare+res.Event.PlatformShare, "gross %d", gross)
		wantCreator += res.Event.CreatorShare
		wantPlatform += res.Event.PlatformShare
	}

	assert.Equal(t, wantCreator, s.Balance(t, "creator:creator-edge", "USD").Available)
	assert.Equal(t, wantPlatform, s.Balance(t, "platform", "USD").Available)
}

func TestDuplicatePostReturnsFirstEvent(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	first, err := s.Ledger.Post(ctx, tip("dup-1", "creator-1", 1000))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := s.Ledger.Post(ctx, tip("dup-1", "creator-1", 1000))
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, first.Event.ID, again.Event.ID)
	}

	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events"))
	assert.Equal(t, int64(900), s.Balance(t, "creator:creator-1", "USD").Available)
}

func TestPostAuditEntryCommitsWithTheEvent(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	boom := errors.New("caller failed after posting")
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if _, err := s.Ledger.PostTx(ctx, tx, tip("tx-1", "creator-1", 1000)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events"))
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM audit_logs"))

	require.NoError(t, s.DB.Transaction(func(tx *gorm.DB) error {
		_, err := s.Ledger.PostTx(ctx, tx, tip("tx-1", "creator-1", 1000))
		return err
	}))
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM audit_logs WHERE action = ?", "ledger.event_posted"))

	verified, err := s.Audit.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, verified.Valid)
}

func TestRetryAfterFeeScheduleChangeReturnsFirstEvent(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	req := tip("unlock-basic-1", "creator-1", 500)
	req.Type = ledgerdomain.EventTypeUnlock
	req.Tier = "confession_basic"
	first, err := s.Ledger.Post(ctx, req)
	require.NoError(t, err)

	cfg := config.DefaultFeeScheduleConfig()
	cfg.Version = "default-v2"
	for i := range cfg.Rules {
		if cfg.Rules[i].Tier == "confession_basic" {
			cfg.Rules[i].FixedPrice = 700
		}
	}
	s.Holder.Set(cfg)
	require.Equal(t, "default-v2", s.Fees.Current().Version)

	again, err := s.Ledger.Post(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Event.ID, again.Event.ID)
	assert.Equal(t, "default-v1", again.Event.FeeScheduleVersion)
	assert.Equal(t, int64(450), again.Event.CreatorShare)

	// A new key is priced against v2 and its failed admission is not kept.
	fresh := req
	fresh.IdempotencyKey = "unlock-basic-2"
	_, err = s.Ledger.Post(ctx, fresh)
	assert.ErrorIs(t, err, feedomain.ErrPriceMismatch)
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM idempotency_keys"))

	fresh.GrossAmount = 700
	res, err := s.Ledger.Post(ctx, fresh)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "default-v2", res.Event.FeeScheduleVersion)
}

func TestReusedKeyWithDifferentPayloadConflicts(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	_, err := s.Ledger.Post(ctx, tip("k", "creator-1", 1000))
	require.NoError(t, err)
	_, err = s.Ledger.Post(ctx, tip("k", "creator-1", 2000))
	assert.ErrorIs(t, err, idemdomain.ErrIdempotencyConflict)
}

func TestPostValidation(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	unlock := func(tier string, gross int64) ledgerdomain.PostRequest {
		req := tip("unlock-"+tier, "creator-1", gross)
		req.Type = ledgerdomain.EventTypeUnlock
		req.Tier = tier
		return req
	}

	cases := []struct {
		name string
		req  ledgerdomain.PostRequest
		want error
	}{
		{"unknown tier", unlock("mystery", 100), feedomain.ErrInvalidTier},
		{"fixed price mismatch", unlock("confession_standard", 1999), feedomain.ErrPriceMismatch},
		{"negative gross", tip("neg", "creator-1", -1), feedomain.ErrInvalidAmount},
		{"refund not postable", func() ledgerdomain.PostRequest { r := tip("r", "c", 10); r.Type = ledgerdomain.EventTypeRefund; return r }(), ledgerdomain.ErrInvalidEventType},
		{"bad currency", func() ledgerdomain.PostRequest { r := tip("cur", "c", 10); r.Currency = "US"; return r }(), ledgerdomain.ErrInvalidCurrency},
		{"missing source", func() ledgerdomain.PostRequest { r := tip("src", "c", 10); r.Source = " "; return r }(), ledgerdomain.ErrInvalidSource},
		{"missing key", tip("", "creator-1", 10), idemdomain.ErrInvalidKey},
		{"topup with creator", func() ledgerdomain.PostRequest {
			r := tip("topup", "c", 10)
			r.Type = ledgerdomain.EventTypeWalletTopup
			return r
		}(), ledgerdomain.ErrUnexpectedCreator},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Ledger.Post(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events"))
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM idempotency_keys"))
}

func TestConfessionUnlockRefundScenario(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	req := tip("unlock-1", "creator-2", 2000)
	req.Type = ledgerdomain.EventTypeUnlock
	req.Tier = "confession_standard"
	posted, err := s.Ledger.Post(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1800), s.Balance(t, "creator:creator-2", "USD").Available)
	assert.Equal(t, int64(200), s.Balance(t, "platform", "USD").Available)

	res, err := s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: posted.Event.ID, Reason: "not as described", Ref: "refund-1"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, ledgerdomain.EventStatusReversed, res.Original.Status)
	assert.Equal(t, ledgerdomain.EventTypeRefund, res.Reversal.Type)
	assert.Equal(t, int64(-2000), res.Reversal.GrossAmount)
	assert.Equal(t, int64(-1800), res.Reversal.CreatorShare)
	require.NotNil(t, res.Reversal.ReversesEventID)
	assert.Equal(t, posted.Event.ID, *res.Reversal.ReversesEventID)

	assert.Equal(t, int64(0), s.Balance(t, "creator:creator-2", "USD").Available)
	assert.Equal(t, int64(0), s.Balance(t, "platform", "USD").Available)

	stored, err := s.Ledger.GetEvent(ctx, posted.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EventStatusReversed, stored.Status)
	assert.Equal(t, int64(2000), stored.GrossAmount)
}

func TestReverseIsIdempotentPerRef(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	posted, err := s.Ledger.Post(ctx, tip("t", "creator-1", 1000))
	require.NoError(t, err)

	first, err := s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: posted.Event.ID, Ref: "refund-9"})
	require.NoError(t, err)

	again, err := s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: posted.Event.ID, Ref: "refund-9"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Reversal.ID, again.Reversal.ID)

	_, err = s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: posted.Event.ID, Ref: "refund-10"})
	assert.ErrorIs(t, err, ledgerdomain.ErrAlreadyReversed)

	_, err = s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: first.Reversal.ID, Ref: "x"})
	assert.ErrorIs(t, err, ledgerdomain.ErrNotReversible)

	_, err = s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: 42, Ref: "x"})
	assert.ErrorIs(t, err, ledgerdomain.ErrNotFound)

	_, err = s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: posted.Event.ID})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidReference)

	assert.Equal(t, int64(0), s.Balance(t, "creator:creator-1", "USD").Available)
	assert.Equal(t, int64(2), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events"))
}

func TestWalletFundedSpend(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	topup := ledgerdomain.PostRequest{
		Source: "bank_review", IdempotencyKey: "bank_review:1", Type: ledgerdomain.EventTypeWalletTopup,
		GrossAmount: 5000, Currency: "USD", FanID: "fan-7",
	}
	_, err := s.Ledger.Post(ctx, topup)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), s.Balance(t, "wallet:fan-7", "USD").Available)

	spend := tip("wallet-tip", "creator-3", 3000)
	spend.FanID = "fan-7"
	spend.FundingSource = ledgerdomain.FundingSourceWallet
	posted, err := s.Ledger.Post(ctx, spend)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), s.Balance(t, "wallet:fan-7", "USD").Available)
	assert.Equal(t, int64(2700), s.Balance(t, "creator:creator-3", "USD").Available)

	overdraw := tip("wallet-tip-2", "creator-3", 2500)
	overdraw.FanID = "fan-7"
	overdraw.FundingSource = ledgerdomain.FundingSourceWallet
	_, err = s.Ledger.Post(ctx, overdraw)
	assert.ErrorIs(t, err, ledgerdomain.ErrWalletInsufficient)
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM idempotency_keys WHERE idempotency_key = ?", "wallet-tip-2"))

	_, err = s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: posted.Event.ID, Ref: "refund-w"})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), s.Balance(t, "wallet:fan-7", "USD").Available)
	assert.Equal(t, int64(0), s.Balance(t, "creator:creator-3", "USD").Available)

	rec, err := s.Ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.Drifts)
}

func TestPlatformOnlyEvent(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	req := tip("fee-1", "", 700)
	req.Type = ledgerdomain.EventTypeEntryFee
	req.Tier = "competition"
	res, err := s.Ledger.Post(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, res.Event.CreatorID)
	assert.Equal(t, int64(700), res.Event.PlatformShare)
	assert.Equal(t, int64(10000), res.Event.PlatformBps)
	assert.Equal(t, int64(700), s.Balance(t, "platform", "USD").Available)
}

func seedBatch(t *testing.T, s *stack.Stack, status string, eventID int64, creatorShare int64) int64 {
	t.Helper()
	batchID := s.Node.Generate()
	now := s.Clock.Now()
	require.NoError(t, s.DB.Exec(
		`INSERT INTO payout_batches (id, creator_id, currency, period_end, gross, creator_earned, platform_earned, event_count, status, created_at, updated_at)
		 VALUES (?, 'creator-1', 'USD', ?, ?, ?, 0, 1, ?, ?, ?)`,
		batchID, now, creatorShare, creatorShare, status, now, now,
	).Error)
	require.NoError(t, s.DB.Exec(`UPDATE ledger_events SET payout_batch_id = ? WHERE id = ?`, batchID, eventID).Error)
	require.NoError(t, s.DB.Exec(
		`INSERT INTO payout_batch_items (batch_id, event_id, gross_amount, creator_share, platform_share, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		batchID, eventID, creatorShare, creatorShare, now,
	).Error)
	return int64(batchID)
}

func TestReverseRespectsBatchState(t *testing.T) {
	ctx := context.Background()

	t.Run("open batch draws from held", func(t *testing.T) {
		s := stack.New(t)
		posted, err := s.Ledger.Post(ctx, tip("a", "creator-1", 1000))
		require.NoError(t, err)
		require.NoError(t, s.DB.Transaction(func(tx *gorm.DB) error {
			return s.Ledger.HoldTx(ctx, tx, ledgerdomain.BalanceKey{AccountID: "creator:creator-1", Currency: "USD"}, 900)
		}))
		batchID := seedBatch(t, s, "ready", int64(posted.Event.ID), 900)

		res, err := s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: posted.Event.ID, Ref: "r"})
		require.NoError(t, err)
		require.NotNil(t, res.AdjustedBatchID)
		assert.Equal(t, batchID, int64(*res.AdjustedBatchID))

		bal := s.Balance(t, "creator:creator-1", "USD")
		assert.Equal(t, int64(0), bal.Held)
		assert.Equal(t, int64(0), bal.Available)
		assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT creator_earned FROM payout_batches WHERE id = ?", batchID))
		assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM payout_batches WHERE id = ? AND status = 'failed'", batchID))
		assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM payout_batch_items WHERE batch_id = ? AND released_at IS NOT NULL", batchID))

		rec, err := s.Ledger.Reconcile(ctx)
		require.NoError(t, err)
		assert.Empty(t, rec.Drifts)
	})

	t.Run("processing batch is in flight", func(t *testing.T) {
		s := stack.New(t)
		posted, err := s.Ledger.Post(ctx, tip("a", "creator-1", 1000))
		require.NoError(t, err)
		seedBatch(t, s, "processing", int64(posted.Event.ID), 900)

		_, err = s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: posted.Event.ID, Ref: "r"})
		assert.ErrorIs(t, err, ledgerdomain.ErrBatchInFlight)
	})

	t.Run("paid batch cannot give money back", func(t *testing.T) {
		s := stack.New(t)
		posted, err := s.Ledger.Post(ctx, tip("a", "creator-1", 1000))
		require.NoError(t, err)
		seedBatch(t, s, "paid", int64(posted.Event.ID), 900)

		_, err = s.Ledger.Reverse(ctx, ledgerdomain.ReverseRequest{EventID: posted.Event.ID, Ref: "r"})
		assert.ErrorIs(t, err, ledgerdomain.ErrFundsPaidOut)

		stored, err := s.Ledger.GetEvent(ctx, posted.Event.ID)
		require.NoError(t, err)
		assert.Equal(t, ledgerdomain.EventStatusPosted, stored.Status)
	})
}

func TestHoldTxRefusesShortfall(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	_, err := s.Ledger.Post(ctx, tip("a", "creator-1", 1000))
	require.NoError(t, err)

	key := ledgerdomain.BalanceKey{AccountID: "creator:creator-1", Currency: "USD"}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		return s.Ledger.HoldTx(ctx, tx, key, 901)
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	require.NoError(t, s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.Ledger.HoldTx(ctx, tx, key, 900); err != nil {
			return err
		}
		return s.Ledger.SettleHoldTx(ctx, tx, key, 900)
	}))
	bal := s.Balance(t, key.AccountID, "USD")
	assert.Equal(t, int64(0), bal.Available)
	assert.Equal(t, int64(0), bal.Held)
	assert.Equal(t, int64(900), bal.LifetimePaidOut)
	assert.Equal(t, bal.LifetimeGross, bal.Available+bal.Held+bal.LifetimePaidOut)
}

func TestReconcileReportsDriftAndRebuildRepairs(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Ledger.Post(ctx, tip(fmt.Sprintf("t-%d", i), "creator-1", 1000))
		require.NoError(t, err)
	}
	rec, err := s.Ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.Drifts)
	assert.Equal(t, 2, rec.Accounts)

	require.NoError(t, s.DB.Exec(`UPDATE balances SET available = available + 50 WHERE account_id = 'creator:creator-1'`).Error)
	require.NoError(t, s.DB.Exec(`INSERT INTO balances (account_id, currency, account_type, available, held, lifetime_gross, lifetime_paid_out, version, updated_at)
		VALUES ('creator:ghost', 'USD', 'creator', 10, 0, 10, 0, 1, ?)`, time.Now().UTC()).Error)

	rec, err = s.Ledger.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, rec.Drifts, 3)
	assert.Equal(t, "creator:creator-1", rec.Drifts[0].AccountID)
	assert.Equal(t, int64(2700), rec.Drifts[0].Expected)
	assert.Equal(t, int64(2750), rec.Drifts[0].Actual)
	assert.Equal(t, int64(2750), s.Balance(t, "creator:creator-1", "USD").Available, "reconcile never writes")
	assert.Equal(t, int64(2), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM integrity_alerts WHERE kind = 'balance_drift'"))

	rebuilt, err := s.Ledger.Rebuild(ctx)
	require.NoError(t, err)
	assert.Len(t, rebuilt.Repaired, 3)
	assert.Equal(t, int64(2700), s.Balance(t, "creator:creator-1", "USD").Available)
	assert.Equal(t, int64(0), s.Balance(t, "creator:ghost", "USD").Available)

	rec, err = s.Ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.Drifts)
}

func TestListEventsPaginates(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Ledger.Post(ctx, tip(fmt.Sprintf("p-%d", i), "creator-1", 100))
		require.NoError(t, err)
	}

	req := ledgerdomain.ListEventsRequest{CreatorID: "creator-1"}
	req.PageSize = 2
	page, err := s.Ledger.ListEvents(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.True(t, page.PageInfo.HasMore)
	assert.Greater(t, page.Events[0].ID, page.Events[1].ID)

	seen := len(page.Events)
	for page.PageInfo.HasMore {
		req.PageToken = page.PageInfo.NextPageToken
		page, err = s.Ledger.ListEvents(ctx, req)
		require.NoError(t, err)
		seen += len(page.Events)
	}
	assert.Equal(t, 5, seen)

	req.PageToken = "%%%"
	_, err = s.Ledger.ListEvents(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPageToken)
}

func TestGetBalanceForUnknownAccount(t *testing.T) {
	s := stack.New(t)
	bal, err := s.Ledger.GetBalance(context.Background(), "creator:new", "eur")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Available)
	assert.Equal(t, ledgerdomain.AccountTypeCreator, bal.AccountType)

	_, err = s.Ledger.GetBalance(context.Background(), "bogus", "USD")
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccount)
}
