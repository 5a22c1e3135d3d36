// Package stack wires the settlement services against an in-memory database
// for package tests.
package stack

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/playgroundx/settlement/internal/alert/domain"
	alertrepo "github.com/playgroundx/settlement/internal/alert/repository"
	alertservice "github.com/playgroundx/settlement/internal/alert/service"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	auditrepo "github.com/playgroundx/settlement/internal/audit/repository"
	auditservice "github.com/playgroundx/settlement/internal/audit/service"
	bankreviewdomain "github.com/playgroundx/settlement/internal/bankreview/domain"
	bankreviewrepo "github.com/playgroundx/settlement/internal/bankreview/repository"
	bankreviewservice "github.com/playgroundx/settlement/internal/bankreview/service"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/config"
	"github.com/playgroundx/settlement/internal/events"
	feedomain "github.com/playgroundx/settlement/internal/fee/domain"
	feerepo "github.com/playgroundx/settlement/internal/fee/repository"
	feeservice "github.com/playgroundx/settlement/internal/fee/service"
	idemdomain "github.com/playgroundx/settlement/internal/idempotency/domain"
	idemrepo "github.com/playgroundx/settlement/internal/idempotency/repository"
	idemservice "github.com/playgroundx/settlement/internal/idempotency/service"
	ingressdomain "github.com/playgroundx/settlement/internal/ingress/domain"
	ingressservice "github.com/playgroundx/settlement/internal/ingress/service"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	ledgerrepo "github.com/playgroundx/settlement/internal/ledger/repository"
	ledgerservice "github.com/playgroundx/settlement/internal/ledger/service"
	"github.com/playgroundx/settlement/internal/notification"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	payoutrepo "github.com/playgroundx/settlement/internal/payout/repository"
	payoutservice "github.com/playgroundx/settlement/internal/payout/service"
	"github.com/playgroundx/settlement/internal/providers/pdf"
	refunddomain "github.com/playgroundx/settlement/internal/refund/domain"
	refundrepo "github.com/playgroundx/settlement/internal/refund/repository"
	refundservice "github.com/playgroundx/settlement/internal/refund/service"
	"github.com/playgroundx/settlement/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Epoch is the fake clock's starting time.
var Epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type Stack struct {
	DB     *gorm.DB
	Log    *zap.Logger
	Node   *snowflake.Node
	Clock  *clock.FakeClock
	Config config.Config
	Holder *config.FeeScheduleHolder

	Outbox      *events.Outbox
	Audit       auditdomain.Service
	Alerts      alertdomain.Service
	Fees        feedomain.Service
	Idempotency idemdomain.Service
	Ledger      ledgerdomain.Service
	Notifier    *notification.Recorder
	Payouts     payoutdomain.Service
	Refunds     refunddomain.Service
	Ingress     ingressdomain.Service
	BankReview  bankreviewdomain.Service
}

// New builds every settlement service over one in-memory database. Notifications
// are captured by a Recorder.
func New(t testing.TB) *Stack {
	t.Helper()

	s := &Stack{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		Node:  testutil.Node(t),
		Clock: clock.NewFakeClock(Epoch),
		Config: config.Config{
			Kafka:  config.KafkaConfig{LedgerTopic: "ledger", NotificationTopic: "notifications", AlertTopic: "alerts"},
			Payout: config.PayoutConfig{MinimumAmount: 5000, DefaultCurrency: "USD"},
		},
	}

	holder, err := config.NewFeeScheduleHolderFromConfig(config.DefaultFeeScheduleConfig())
	if err != nil {
		t.Fatalf("fee holder: %v", err)
	}
	s.Holder = holder

	s.Outbox = events.NewOutbox(events.OutboxParams{Cfg: s.Config, GenID: s.Node, Clock: s.Clock})
	s.Audit = auditservice.NewService(auditservice.Params{DB: s.DB, Log: s.Log, GenID: s.Node, Repo: auditrepo.Provide(), Clock: s.Clock})
	s.Alerts = alertservice.NewService(alertservice.Params{
		DB: s.DB, Log: s.Log, GenID: s.Node, Repo: alertrepo.Provide(),
		AuditSvc: s.Audit, Outbox: s.Outbox, Clock: s.Clock,
	})

	fees, err := feeservice.NewService(feeservice.Params{DB: s.DB, Log: s.Log, Holder: holder, Repo: feerepo.Provide(), Clock: s.Clock})
	if err != nil {
		t.Fatalf("fee service: %v", err)
	}
	s.Fees = fees
	s.Idempotency = idemservice.NewService(idemservice.Params{DB: s.DB, Log: s.Log, GenID: s.Node, Repo: idemrepo.Provide(), Clock: s.Clock})
	s.Ledger = ledgerservice.NewService(ledgerservice.Params{
		DB:          s.DB,
		Log:         s.Log,
		GenID:       s.Node,
		Repo:        ledgerrepo.Provide(),
		Fees:        s.Fees,
		Idempotency: s.Idempotency,
		AuditSvc:    s.Audit,
		AlertSvc:    s.Alerts,
		Outbox:      s.Outbox,
		Clock:       s.Clock,
	})

	s.Notifier = &notification.Recorder{}
	s.Payouts = payoutservice.NewService(payoutservice.Params{
		DB:       s.DB,
		Log:      s.Log,
		Cfg:      s.Config,
		GenID:    s.Node,
		Repo:     payoutrepo.Provide(),
		Ledger:   s.Ledger,
		AuditSvc: s.Audit,
		AlertSvc: s.Alerts,
		Outbox:   s.Outbox,
		Notifier: s.Notifier,
		PDF:      pdf.New(),
		Clock:    s.Clock,
	})
	s.Refunds = refundservice.NewService(refundservice.Params{
		DB:       s.DB,
		Log:      s.Log,
		GenID:    s.Node,
		Repo:     refundrepo.Provide(),
		Ledger:   s.Ledger,
		Payout:   s.Payouts,
		AuditSvc: s.Audit,
		AlertSvc: s.Alerts,
		Outbox:   s.Outbox,
		Notifier: s.Notifier,
		Clock:    s.Clock,
	})
	s.Ingress = ingressservice.NewService(ingressservice.Params{
		Log:     s.Log,
		Ledger:  s.Ledger,
		Refunds: s.Refunds,
	})
	s.BankReview = bankreviewservice.NewService(bankreviewservice.Params{
		DB:       s.DB,
		Log:      s.Log,
		GenID:    s.Node,
		Repo:     bankreviewrepo.Provide(),
		Ingress:  s.Ingress,
		AuditSvc: s.Audit,
		Outbox:   s.Outbox,
		Notifier: s.Notifier,
		Clock:    s.Clock,
	})
	return s
}

// Balance reads an account balance and fails the test on error.
func (s *Stack) Balance(t testing.TB, accountID, currency string) ledgerdomain.Balance {
	t.Helper()
	balance, err := s.Ledger.GetBalance(context.Background(), accountID, currency)
	if err != nil {
		t.Fatalf("balance %s/%s: %v", accountID, currency, err)
	}
	return *balance
}
