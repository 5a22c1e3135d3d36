package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/internal/bankreview/domain"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/events"
	ingressdomain "github.com/playgroundx/settlement/internal/ingress/domain"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/internal/notification"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IngressSource tags the wallet top-ups posted for approved bank transfers.
const IngressSource = "bank_review"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Ingress    ingressdomain.Service
	AuditSvc   auditdomain.Service   `optional:"true"`
	Outbox     *events.Outbox        `optional:"true"`
	Notifier   notification.Notifier `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
	Clock      clock.Clock           `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	ingress    ingressdomain.Service
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
	notifier   notification.Notifier
	obsMetrics *obsmetrics.Metrics
	clock      clock.Clock
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("bankreview.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ingress:    p.Ingress,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
		clock:      clk,
	}
}

// IdempotencyKey is the ingress key of the top-up an approved submission posts.
func IdempotencyKey(submissionID snowflake.ID) string {
	return "bank_review:" + submissionID.String()
}

func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.BankPaymentSubmission, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}
	paymentFor, err := normalizePaymentFor(req.PaymentFor)
	if err != nil {
		return nil, err
	}
	receipt, err := normalizeReceipt(req.ReceiptURL)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	submission := &domain.BankPaymentSubmission{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Amount:     req.Amount,
		Currency:   currency,
		PaymentFor: paymentFor,
		ReceiptURL: receipt,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertSubmission(ctx, tx, submission); err != nil {
			return err
		}
		if err := s.repo.SetPending(ctx, tx, userID, true, now); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, string(auditdomain.ActorTypeUser), userID, "bank_review.submitted", submission.ID, map[string]any{
			"amount":      submission.Amount,
			"currency":    submission.Currency,
			"payment_for": submission.PaymentFor,
		}); err != nil {
			return err
		}
		return s.publish(ctx, tx, events.EventBankSubmissionCreated, submission)
	})
	if err != nil {
		return nil, err
	}
	return submission, nil
}

// Review decides a pending submission exactly once. Approval credits the
// wallet through ingress or activates the purchased account type in the same
// transaction as the status change.
func (s *Service) Review(ctx context.Context, req domain.ReviewRequest) (domain.ReviewResult, error) {
	decision := domain.Decision(strings.ToLower(strings.TrimSpace(string(req.Decision))))
	if decision != domain.DecisionApprove && decision != domain.DecisionReject {
		return domain.ReviewResult{}, domain.ErrInvalidDecision
	}
	notes := strings.TrimSpace(req.Notes)
	if decision == domain.DecisionReject && notes == "" {
		return domain.ReviewResult{}, domain.ErrNotesRequired
	}
	reviewer := strings.TrimSpace(req.ReviewerID)

	var (
		submission *domain.BankPaymentSubmission
		state      *domain.UserPaymentState
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		submission, err = s.repo.GetSubmission(ctx, tx, req.SubmissionID, true)
		if err != nil {
			return err
		}
		if submission == nil {
			return domain.ErrNotFound
		}
		if submission.Status != domain.StatusPending {
			return domain.ErrAlreadyReviewed
		}

		now := s.clock.Now().UTC()
		submission.ReviewedBy = optional(reviewer)
		submission.ReviewedAt = &now
		submission.ReviewNotes = optional(notes)
		submission.UpdatedAt = now
		submission.Status = domain.StatusRejected

		if decision == domain.DecisionApprove {
			submission.Status = domain.StatusApproved
			if err := s.fulfil(ctx, tx, submission, now); err != nil {
				return err
			}
		}

		reviewed, err := s.repo.MarkReviewed(ctx, tx, submission)
		if err != nil {
			return err
		}
		if !reviewed {
			return domain.ErrAlreadyReviewed
		}

		pending, err := s.repo.CountPending(ctx, tx, submission.UserID)
		if err != nil {
			return err
		}
		if pending == 0 {
			if err := s.repo.SetPending(ctx, tx, submission.UserID, false, now); err != nil {
				return err
			}
		}
		metadata := map[string]any{
			"decision":    string(submission.Status),
			"amount":      submission.Amount,
			"currency":    submission.Currency,
			"payment_for": submission.PaymentFor,
			"notes":       notes,
		}
		if submission.LedgerEventID != nil {
			metadata["ledger_event_id"] = submission.LedgerEventID.String()
		}
		if err := s.audit(ctx, tx, string(auditdomain.ActorTypeAdmin), reviewer, "bank_review."+string(submission.Status), submission.ID, metadata); err != nil {
			return err
		}
		if err := s.publish(ctx, tx, events.EventBankSubmissionReviewed, submission); err != nil {
			return err
		}

		state, err = s.repo.GetState(ctx, tx, submission.UserID)
		return err
	})
	if err != nil {
		return domain.ReviewResult{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordBankReview(ctx, purpose(submission.PaymentFor), string(submission.Status))
	}
	s.notify(ctx, submission, req.Email)
	return domain.ReviewResult{Submission: submission, State: state}, nil
}

func (s *Service) fulfil(ctx context.Context, tx *gorm.DB, submission *domain.BankPaymentSubmission, now time.Time) error {
	if code, ok := domain.AccountTypeCode(submission.PaymentFor); ok {
		return s.repo.ActivateAccountType(ctx, tx, submission.UserID, code, now)
	}

	occurredAt := now
	posted, err := s.ingress.SubmitTx(ctx, tx, ingressdomain.SubmitRequest{
		Source:         IngressSource,
		IdempotencyKey: IdempotencyKey(submission.ID),
		Type:           string(ledgerdomain.EventTypeWalletTopup),
		GrossAmount:    submission.Amount,
		Currency:       submission.Currency,
		FanID:          submission.UserID,
		OccurredAt:     &occurredAt,
		Metadata: map[string]any{
			"bank_submission_id": submission.ID.String(),
			"receipt_url":        submission.ReceiptURL,
		},
	})
	if err != nil {
		return err
	}
	eventID := posted.EventID
	submission.LedgerEventID = &eventID
	return nil
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, eventType events.Type, submission *domain.BankPaymentSubmission) error {
	if s.outbox == nil {
		return nil
	}
	payload := map[string]any{
		"submission_id": submission.ID.String(),
		"user_id":       submission.UserID,
		"amount":        submission.Amount,
		"currency":      submission.Currency,
		"payment_for":   submission.PaymentFor,
		"status":        string(submission.Status),
	}
	if submission.LedgerEventID != nil {
		payload["ledger_event_id"] = submission.LedgerEventID.String()
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:    eventType,
		Key:     "user:" + submission.UserID,
		Payload: payload,
	})
}

func (s *Service) notify(ctx context.Context, submission *domain.BankPaymentSubmission, email string) {
	if s.notifier == nil {
		return
	}
	data := map[string]any{
		"submission_id": submission.ID.String(),
		"amount":        notification.FormatAmount(submission.Amount),
		"currency":      submission.Currency,
		"decision":      string(submission.Status),
		"message":       notification.FriendlyMessage(string(submission.Status)),
	}
	if submission.ReviewNotes != nil {
		data["reason"] = *submission.ReviewNotes
	}
	s.notifier.Notify(ctx, notification.Notification{
		UserID:   submission.UserID,
		Email:    strings.TrimSpace(email),
		Template: notification.TemplateBankReviewDecided,
		Data:     data,
	})
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actorType, actorID, action string, submissionID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	var actor *string
	if actorID = strings.TrimSpace(actorID); actorID != "" {
		actor = &actorID
	} else {
		actorType = ""
	}
	id := submissionID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, actorType, actor, action, "bank_payment_submission", &id, metadata)
}

func normalizePaymentFor(value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == domain.PaymentForWalletTopup {
		return value, nil
	}
	code, ok := domain.AccountTypeCode(value)
	if !ok {
		return "", domain.ErrInvalidPaymentFor
	}
	code = slug.Make(code)
	if code == "" {
		return "", domain.ErrInvalidPaymentFor
	}
	return domain.AccountTypePayment(code), nil
}

func normalizeReceipt(value string) (string, error) {
	value = strings.TrimSpace(value)
	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return "", domain.ErrInvalidReceipt
	}
	return parsed.String(), nil
}

func purpose(paymentFor string) string {
	if _, ok := domain.AccountTypeCode(paymentFor); ok {
		return "account_type"
	}
	return paymentFor
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
