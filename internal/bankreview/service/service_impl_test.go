package service_test

import (
	"context"
	"testing"

	"github.com/playgroundx/settlement/internal/bankreview/domain"
	"github.com/playgroundx/settlement/internal/bankreview/service"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/internal/notification"
	"github.com/playgroundx/settlement/internal/testutil"
	"github.com/playgroundx/settlement/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submitTopup(t *testing.T, s *stack.Stack, user string, amount int64) *domain.BankPaymentSubmission {
	t.Helper()
	submission, err := s.BankReview.Submit(context.Background(), domain.SubmitRequest{
		UserID:     user,
		Amount:     amount,
		Currency:   "usd",
		PaymentFor: domain.PaymentForWalletTopup,
		ReceiptURL: "https://receipts.example.com/" + user + ".jpg",
	})
	require.NoError(t, err)
	return submission
}

func TestRejectedReceiptLeavesBalanceAlone(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	submission := submitTopup(t, s, "user-1", 5000)
	assert.Equal(t, domain.StatusPending, submission.Status)

	state, err := s.BankReview.State(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, state.PendingPayment)

	res, err := s.BankReview.Review(ctx, domain.ReviewRequest{
		SubmissionID: submission.ID,
		Decision:     domain.DecisionReject,
		ReviewerID:   "admin-1",
		Notes:        "illegible receipt",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, res.Submission.Status)
	assert.Nil(t, res.Submission.LedgerEventID)
	require.NotNil(t, res.State)
	assert.False(t, res.State.PendingPayment)

	assert.Equal(t, int64(0), s.Balance(t, ledgerdomain.WalletAccount("user-1"), "USD").Available)
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events"))

	sent := s.Notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.TemplateBankReviewDecided, sent[0].Template)
	assert.Equal(t, "user-1", sent[0].UserID)
	assert.Equal(t, "rejected", sent[0].Data["decision"])
	assert.Equal(t, "illegible receipt", sent[0].Data["reason"])
	assert.Equal(t, "50.00", sent[0].Data["amount"])

	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM audit_logs WHERE action = ?", "bank_review.rejected"))
}

func TestApprovedTopupCreditsWalletOnce(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	submission := submitTopup(t, s, "user-1", 5000)

	res, err := s.BankReview.Review(ctx, domain.ReviewRequest{SubmissionID: submission.ID, Decision: domain.DecisionApprove, ReviewerID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, res.Submission.Status)
	require.NotNil(t, res.Submission.LedgerEventID)
	assert.Equal(t, int64(5000), s.Balance(t, ledgerdomain.WalletAccount("user-1"), "USD").Available)

	for _, decision := range []domain.Decision{domain.DecisionApprove, domain.DecisionReject} {
		_, err = s.BankReview.Review(ctx, domain.ReviewRequest{SubmissionID: submission.ID, Decision: decision, Notes: "again"})
		assert.ErrorIs(t, err, domain.ErrAlreadyReviewed)
	}
	assert.Equal(t, int64(5000), s.Balance(t, ledgerdomain.WalletAccount("user-1"), "USD").Available)

	event, err := s.Ledger.GetEvent(ctx, *res.Submission.LedgerEventID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EventTypeWalletTopup, event.Type)
	assert.Equal(t, service.IngressSource, event.Source)
	assert.Equal(t, service.IdempotencyKey(submission.ID), event.IdempotencyKey)
	assert.Equal(t, int64(1), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events"))
}

func TestPendingFlagClearsWithLastSubmission(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	first := submitTopup(t, s, "user-1", 5000)
	second := submitTopup(t, s, "user-1", 2500)

	res, err := s.BankReview.Review(ctx, domain.ReviewRequest{SubmissionID: first.ID, Decision: domain.DecisionApprove})
	require.NoError(t, err)
	assert.True(t, res.State.PendingPayment)

	res, err = s.BankReview.Review(ctx, domain.ReviewRequest{SubmissionID: second.ID, Decision: domain.DecisionReject, Notes: "amount mismatch"})
	require.NoError(t, err)
	assert.False(t, res.State.PendingPayment)
	assert.Equal(t, int64(5000), s.Balance(t, ledgerdomain.WalletAccount("user-1"), "USD").Available)
}

func TestApprovedAccountTypeActivates(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	submission, err := s.BankReview.Submit(ctx, domain.SubmitRequest{
		UserID:     "user-2",
		Amount:     9900,
		Currency:   "USD",
		PaymentFor: "account_type:Creator Pro",
		ReceiptURL: "https://receipts.example.com/pro.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "account_type:creator-pro", submission.PaymentFor)

	res, err := s.BankReview.Review(ctx, domain.ReviewRequest{SubmissionID: submission.ID, Decision: domain.DecisionApprove, ReviewerID: "admin-1"})
	require.NoError(t, err)
	require.NotNil(t, res.State.AccountType)
	assert.Equal(t, "creator-pro", *res.State.AccountType)
	require.NotNil(t, res.State.AccountTypeActivatedAt)
	assert.Nil(t, res.Submission.LedgerEventID)
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM ledger_events"))
}

func TestSubmitValidation(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	valid := domain.SubmitRequest{
		UserID:     "user-1",
		Amount:     5000,
		Currency:   "USD",
		PaymentFor: domain.PaymentForWalletTopup,
		ReceiptURL: "https://receipts.example.com/a.jpg",
	}
	cases := []struct {
		name   string
		mutate func(*domain.SubmitRequest)
		want   error
	}{
		{"missing user", func(r *domain.SubmitRequest) { r.UserID = " " }, domain.ErrInvalidUser},
		{"zero amount", func(r *domain.SubmitRequest) { r.Amount = 0 }, domain.ErrInvalidAmount},
		{"bad currency", func(r *domain.SubmitRequest) { r.Currency = "dollars" }, domain.ErrInvalidCurrency},
		{"unknown purpose", func(r *domain.SubmitRequest) { r.PaymentFor = "gift" }, domain.ErrInvalidPaymentFor},
		{"empty account type", func(r *domain.SubmitRequest) { r.PaymentFor = "account_type:" }, domain.ErrInvalidPaymentFor},
		{"relative receipt", func(r *domain.SubmitRequest) { r.ReceiptURL = "/tmp/a.jpg" }, domain.ErrInvalidReceipt},
		{"ftp receipt", func(r *domain.SubmitRequest) { r.ReceiptURL = "ftp://host/a.jpg" }, domain.ErrInvalidReceipt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := s.BankReview.Submit(ctx, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, int64(0), testutil.Count(t, s.DB, "SELECT COUNT(*) FROM bank_payment_submissions"))
}

func TestReviewValidation(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	submission := submitTopup(t, s, "user-1", 5000)

	_, err := s.BankReview.Review(ctx, domain.ReviewRequest{SubmissionID: submission.ID, Decision: domain.DecisionReject})
	assert.ErrorIs(t, err, domain.ErrNotesRequired)
	_, err = s.BankReview.Review(ctx, domain.ReviewRequest{SubmissionID: submission.ID, Decision: "hold"})
	assert.ErrorIs(t, err, domain.ErrInvalidDecision)
	_, err = s.BankReview.Review(ctx, domain.ReviewRequest{SubmissionID: 42, Decision: domain.DecisionApprove})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := s.BankReview.Get(ctx, submission.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Empty(t, s.Notifier.Sent())
}

func TestListPendingSubmissions(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()

	first := submitTopup(t, s, "user-1", 5000)
	submitTopup(t, s, "user-2", 1000)
	_, err := s.BankReview.Review(ctx, domain.ReviewRequest{SubmissionID: first.ID, Decision: domain.DecisionApprove})
	require.NoError(t, err)

	pending, err := s.BankReview.List(ctx, domain.ListRequest{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, pending.Submissions, 1)
	assert.Equal(t, "user-2", pending.Submissions[0].UserID)

	mine, err := s.BankReview.List(ctx, domain.ListRequest{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, mine.Submissions, 1)
	assert.Equal(t, domain.StatusApproved, mine.Submissions[0].Status)

	state, err := s.BankReview.State(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, state.PendingPayment)
}
