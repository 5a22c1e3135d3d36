package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	alertdomain "github.com/playgroundx/settlement/internal/alert/domain"
	apikeydomain "github.com/playgroundx/settlement/internal/apikey/domain"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/internal/authorization"
	bankreviewdomain "github.com/playgroundx/settlement/internal/bankreview/domain"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/config"
	feedomain "github.com/playgroundx/settlement/internal/fee/domain"
	ingressdomain "github.com/playgroundx/settlement/internal/ingress/domain"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/internal/observability"
	obsmiddleware "github.com/playgroundx/settlement/internal/observability/logger"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	obstracing "github.com/playgroundx/settlement/internal/observability/tracing"
	paymentdomain "github.com/playgroundx/settlement/internal/payment/domain"
	paymentproviderdomain "github.com/playgroundx/settlement/internal/paymentprovider/domain"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	refunddomain "github.com/playgroundx/settlement/internal/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	port := strings.TrimSpace(cfg.HTTPPort)
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	clock     clock.Clock
	jwtSecret []byte

	apiKeySvc     apikeydomain.Service
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	alertSvc      alertdomain.Service
	feeSvc        feedomain.Service
	ledgerSvc     ledgerdomain.Service
	ingressSvc    ingressdomain.Service
	refundSvc     refunddomain.Service
	payoutSvc     payoutdomain.Service
	bankReviewSvc bankreviewdomain.Service
	providerSvc   paymentproviderdomain.Service
	webhookSvc    paymentdomain.WebhookService
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Clock         clock.Clock `optional:"true"`
	APIKeySvc     apikeydomain.Service
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	AlertSvc      alertdomain.Service
	FeeSvc        feedomain.Service
	LedgerSvc     ledgerdomain.Service
	IngressSvc    ingressdomain.Service
	RefundSvc     refunddomain.Service
	PayoutSvc     payoutdomain.Service
	BankReviewSvc bankreviewdomain.Service
	ProviderSvc   paymentproviderdomain.Service
	WebhookSvc    paymentdomain.WebhookService
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		clock:         clk,
		jwtSecret:     []byte(strings.TrimSpace(p.Cfg.AuthJWTSecret)),
		apiKeySvc:     p.APIKeySvc,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		alertSvc:      p.AlertSvc,
		feeSvc:        p.FeeSvc,
		ledgerSvc:     p.LedgerSvc,
		ingressSvc:    p.IngressSvc,
		refundSvc:     p.RefundSvc,
		payoutSvc:     p.PayoutSvc,
		bankReviewSvc: p.BankReviewSvc,
		providerSvc:   p.ProviderSvc,
		webhookSvc:    p.WebhookSvc,
	}
	if len(svc.jwtSecret) == 0 {
		svc.log.Warn("AUTH_JWT_SECRET not set, bearer-token routes will reject every request")
	}

	svc.registerAPIRoutes()
	svc.registerUserRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerAPIRoutes serves room modules and payment gateways.
func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/events", s.APIKeyRequired(apikeydomain.ScopeIngressWrite), s.SubmitEvent)
	api.GET("/events/:id", s.APIKeyRequired(apikeydomain.ScopeLedgerRead), s.GetEvent)
	api.POST("/competitions/prize-pool/preview", s.APIKeyRequired(apikeydomain.ScopeLedgerRead), s.PreviewPrizePool)

	// -------- Payment Webhooks --------
	api.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

// registerUserRoutes serves fans and creators acting on their own records.
func (s *Server) registerUserRoutes() {
	me := s.engine.Group("/api/v1/me", s.JWTRequired())

	me.GET("/balance", s.GetOwnBalance)
	me.POST("/refund-requests", s.SubmitRefundRequest)
	me.POST("/bank-submissions", s.SubmitBankReceipt)
	me.GET("/payment-state", s.GetOwnPaymentState)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/v1/admin", s.JWTRequired())

	// -------- Ledger --------
	admin.GET("/events", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.ListEvents)
	admin.GET("/events/:id", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.GetEvent)
	admin.GET("/balances", s.authorizeAction(authorization.ObjectBalance, authorization.ActionBalanceView), s.ListBalances)
	admin.GET("/balances/:account_id", s.authorizeAction(authorization.ObjectBalance, authorization.ActionBalanceView), s.GetBalance)
	admin.POST("/ledger/rebuild", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerRebuild), s.RebuildBalances)
	admin.POST("/ledger/reconcile", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerReconcile), s.ReconcileBalances)

	// -------- Refunds --------
	admin.GET("/refund-requests", s.authorizeAction(authorization.ObjectRefundRequest, authorization.ActionRefundView), s.ListRefundRequests)
	admin.GET("/refund-requests/:id", s.authorizeAction(authorization.ObjectRefundRequest, authorization.ActionRefundView), s.GetRefundRequest)
	admin.POST("/refund-requests/:id/decision", s.authorizeAction(authorization.ObjectRefundRequest, authorization.ActionRefundDecide), s.DecideRefundRequest)

	// -------- Payouts --------
	admin.POST("/payouts", s.authorizeAction(authorization.ObjectPayoutBatch, authorization.ActionPayoutBuild), s.BuildPayoutBatch)
	admin.GET("/payouts", s.authorizeAction(authorization.ObjectPayoutBatch, authorization.ActionPayoutView), s.ListPayoutBatches)
	admin.GET("/payouts/:id", s.authorizeAction(authorization.ObjectPayoutBatch, authorization.ActionPayoutView), s.GetPayoutBatch)
	admin.GET("/payouts/:id/statement", s.authorizeAction(authorization.ObjectPayoutBatch, authorization.ActionPayoutView), s.GetPayoutStatement)
	admin.POST("/payouts/:id/processing", s.authorizeAction(authorization.ObjectPayoutBatch, authorization.ActionPayoutFinalize), s.MarkPayoutProcessing)
	admin.POST("/payouts/:id/paid", s.authorizeAction(authorization.ObjectPayoutBatch, authorization.ActionPayoutFinalize), s.MarkPayoutPaid)
	admin.POST("/payouts/:id/failed", s.authorizeAction(authorization.ObjectPayoutBatch, authorization.ActionPayoutFinalize), s.MarkPayoutFailed)
	admin.POST("/payouts/:id/retry", s.authorizeAction(authorization.ObjectPayoutBatch, authorization.ActionPayoutBuild), s.RetryPayoutBatch)

	// -------- Bank reviews --------
	admin.GET("/bank-submissions", s.authorizeAction(authorization.ObjectBankSubmission, authorization.ActionBankReviewView), s.ListBankSubmissions)
	admin.GET("/bank-submissions/:id", s.authorizeAction(authorization.ObjectBankSubmission, authorization.ActionBankReviewView), s.GetBankSubmission)
	admin.POST("/bank-submissions/:id/review", s.authorizeAction(authorization.ObjectBankSubmission, authorization.ActionBankReviewDecide), s.ReviewBankSubmission)

	// -------- Audit --------
	admin.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
	admin.GET("/audit-logs/verify", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogVerify), s.VerifyAuditLogs)

	// -------- Fees --------
	admin.GET("/fee-schedule", s.authorizeAction(authorization.ObjectFeeSchedule, authorization.ActionFeeScheduleView), s.GetFeeSchedule)
	admin.GET("/fee-schedule/snapshots", s.authorizeAction(authorization.ObjectFeeSchedule, authorization.ActionFeeScheduleView), s.ListFeeScheduleSnapshots)

	// -------- Integrity alerts --------
	admin.GET("/alerts", s.authorizeAction(authorization.ObjectIntegrityAlert, authorization.ActionAlertView), s.ListAlerts)
	admin.POST("/alerts/:id/resolve", s.authorizeAction(authorization.ObjectIntegrityAlert, authorization.ActionAlertResolve), s.ResolveAlert)

	// -------- Payment Providers --------
	admin.GET("/payment-providers/catalog", s.authorizeAction(authorization.ObjectPaymentProvider, authorization.ActionPaymentProviderManage), s.ListPaymentProviderCatalog)
	admin.GET("/payment-providers", s.authorizeAction(authorization.ObjectPaymentProvider, authorization.ActionPaymentProviderManage), s.ListPaymentProviderConfigs)
	admin.POST("/payment-providers", s.authorizeAction(authorization.ObjectPaymentProvider, authorization.ActionPaymentProviderManage), s.UpsertPaymentProviderConfig)
	admin.PATCH("/payment-providers/:provider", s.authorizeAction(authorization.ObjectPaymentProvider, authorization.ActionPaymentProviderManage), s.UpdatePaymentProviderStatus)

	// -------- API keys --------
	admin.GET("/api-keys/scopes", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeyScopes)
	admin.GET("/api-keys", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
	admin.POST("/api-keys", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
	admin.POST("/api-keys/:key_id/rotate", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.RotateAPIKey)
	admin.POST("/api-keys/:key_id/revoke", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)
}
