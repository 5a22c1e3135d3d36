package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleFinanceAdmin = "finance_admin"
	RoleReviewer     = "reviewer"
	RoleAuditor      = "auditor"
	RoleSystem       = "system"
)

const (
	ObjectLedger          = "ledger"
	ObjectBalance         = "balance"
	ObjectRefundRequest   = "refund_request"
	ObjectPayoutBatch     = "payout_batch"
	ObjectBankSubmission  = "bank_submission"
	ObjectAuditLog        = "audit_log"
	ObjectFeeSchedule     = "fee_schedule"
	ObjectPaymentProvider = "payment_provider"
	ObjectAPIKey          = "api_key"
	ObjectIntegrityAlert  = "integrity_alert"
)

const (
	ActionLedgerView      = "ledger.view"
	ActionLedgerRebuild   = "ledger.rebuild"
	ActionLedgerReconcile = "ledger.reconcile"

	ActionBalanceView = "balance.view"

	ActionRefundView   = "refund.view"
	ActionRefundDecide = "refund.decide"

	ActionPayoutView     = "payout.view"
	ActionPayoutBuild    = "payout.build"
	ActionPayoutFinalize = "payout.finalize"

	ActionBankReviewView   = "bank_review.view"
	ActionBankReviewDecide = "bank_review.decide"

	ActionAuditLogView   = "audit_log.view"
	ActionAuditLogVerify = "audit_log.verify"

	ActionFeeScheduleView = "fee_schedule.view"

	ActionPaymentProviderManage = "payment_provider.manage"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRevoke = "api_key.revoke"

	ActionAlertView    = "alert.view"
	ActionAlertResolve = "alert.resolve"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, role string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := resolveActor(actor, role)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, object, action)
		return err
	}

	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actorType, actorID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actorType, actorID, object, action)
	}
	return nil
}

// resolveActor maps an actor and its claimed role onto a casbin subject and role.
func resolveActor(actor string, role string) (string, string, string, *string, error) {
	if actor == "system" {
		return actor, "role:" + RoleSystem, "system", nil, nil
	}
	if strings.HasPrefix(actor, "api_key:") {
		keyID := strings.TrimSpace(strings.TrimPrefix(actor, "api_key:"))
		if keyID == "" {
			return "", "", "", nil, ErrInvalidActor
		}
		return actor, "role:" + RoleSystem, "api_key", &keyID, nil
	}
	if strings.HasPrefix(actor, "user:") {
		userID := strings.TrimSpace(strings.TrimPrefix(actor, "user:"))
		if userID == "" {
			return "", "", "", nil, ErrInvalidActor
		}
		role = strings.ToLower(strings.TrimSpace(role))
		switch role {
		case RoleFinanceAdmin, RoleReviewer, RoleAuditor:
			return actor, "role:" + role, "user", &userID, nil
		default:
			return actor, "", "user", &userID, ErrInvalidRole
		}
	}
	return "", "", "", nil, ErrInvalidActor
}

// ensureGrouping keeps exactly one role link per subject so a role change in the
// identity system takes effect on the next request.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, actorType, actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"subject": actorSubject(actorType, actorID),
	})
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorType string, actorID *string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, actorType, actorID, "authorization.granted", "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"subject": actorSubject(actorType, actorID),
	})
}

func actorSubject(actorType string, actorID *string) string {
	switch actorType {
	case "system":
		return "system"
	case "user", "api_key":
		if actorID != nil && strings.TrimSpace(*actorID) != "" {
			return fmt.Sprintf("%s:%s", actorType, strings.TrimSpace(*actorID))
		}
	}
	return ""
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionLedgerRebuild, ActionAPIKeyCreate, ActionAPIKeyRevoke, ActionPaymentProviderManage:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	readOnly := [][]string{
		{ObjectLedger, ActionLedgerView},
		{ObjectBalance, ActionBalanceView},
		{ObjectRefundRequest, ActionRefundView},
		{ObjectPayoutBatch, ActionPayoutView},
		{ObjectBankSubmission, ActionBankReviewView},
		{ObjectAuditLog, ActionAuditLogView},
		{ObjectAuditLog, ActionAuditLogVerify},
		{ObjectFeeSchedule, ActionFeeScheduleView},
		{ObjectIntegrityAlert, ActionAlertView},
	}

	var policies [][]string
	for _, rule := range readOnly {
		policies = append(policies,
			[]string{"role:" + RoleAuditor, rule[0], rule[1]},
			[]string{"role:" + RoleFinanceAdmin, rule[0], rule[1]},
		)
	}

	policies = append(policies,
		// Finance admins move money.
		[]string{"role:" + RoleFinanceAdmin, ObjectRefundRequest, ActionRefundDecide},
		[]string{"role:" + RoleFinanceAdmin, ObjectPayoutBatch, ActionPayoutBuild},
		[]string{"role:" + RoleFinanceAdmin, ObjectPayoutBatch, ActionPayoutFinalize},
		[]string{"role:" + RoleFinanceAdmin, ObjectLedger, ActionLedgerRebuild},
		[]string{"role:" + RoleFinanceAdmin, ObjectLedger, ActionLedgerReconcile},
		[]string{"role:" + RoleFinanceAdmin, ObjectPaymentProvider, ActionPaymentProviderManage},
		[]string{"role:" + RoleFinanceAdmin, ObjectAPIKey, ActionAPIKeyView},
		[]string{"role:" + RoleFinanceAdmin, ObjectAPIKey, ActionAPIKeyCreate},
		[]string{"role:" + RoleFinanceAdmin, ObjectAPIKey, ActionAPIKeyRevoke},
		[]string{"role:" + RoleFinanceAdmin, ObjectBankSubmission, ActionBankReviewDecide},
		[]string{"role:" + RoleFinanceAdmin, ObjectIntegrityAlert, ActionAlertResolve},

		// Reviewers only handle bank-transfer receipts.
		[]string{"role:" + RoleReviewer, ObjectBankSubmission, ActionBankReviewView},
		[]string{"role:" + RoleReviewer, ObjectBankSubmission, ActionBankReviewDecide},

		// Scheduler and API keys.
		[]string{"role:" + RoleSystem, ObjectPayoutBatch, ActionPayoutBuild},
		[]string{"role:" + RoleSystem, ObjectLedger, ActionLedgerReconcile},
		[]string{"role:" + RoleSystem, ObjectLedger, ActionLedgerView},
		[]string{"role:" + RoleSystem, ObjectBalance, ActionBalanceView},
	)

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
