package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/alert/domain"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/events"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	AuditSvc   auditdomain.Service `optional:"true"`
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
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
		log:        p.Log.Named("alert.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
		clock:      clk,
	}
}

func (s *Service) Raise(ctx context.Context, req domain.RaiseRequest) (*domain.IntegrityAlert, error) {
	kind := domain.Kind(strings.TrimSpace(string(req.Kind)))
	if kind == "" {
		return nil, domain.ErrInvalidKind
	}
	severity := req.Severity
	if severity == "" {
		severity = domain.SeverityCritical
	}
	detail := datatypes.JSONMap{}
	for k, v := range req.Detail {
		detail[k] = v
	}

	alert := &domain.IntegrityAlert{
		ID:        s.genID.Generate(),
		Kind:      kind,
		Severity:  severity,
		Subject:   strings.TrimSpace(req.Subject),
		Detail:    detail,
		CreatedAt: s.clock.Now().UTC(),
	}
	if account := strings.TrimSpace(req.AccountID); account != "" {
		alert.AccountID = &account
	}

	s.log.Error("integrity alert raised",
		zap.String("alert_id", alert.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("severity", string(severity)),
		zap.String("account_id", req.AccountID),
		zap.String("subject", alert.Subject),
		zap.Any("detail", req.Detail),
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, alert); err != nil {
			return err
		}
		if s.outbox == nil {
			return nil
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventIntegrityAlert,
			Key:  string(kind),
			Payload: map[string]any{
				"alert_id":   alert.ID.String(),
				"kind":       string(kind),
				"severity":   string(severity),
				"account_id": req.AccountID,
				"subject":    alert.Subject,
				"detail":     req.Detail,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordIntegrityAlert(ctx, string(kind))
	}
	return alert, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.IntegrityAlert, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Resolve(ctx context.Context, id snowflake.ID, actorID string) error {
	resolved, err := s.repo.Resolve(ctx, s.db, id, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !resolved {
		return domain.ErrNotFound
	}

	if s.auditSvc != nil {
		targetID := id.String()
		var actor *string
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			actor = &actorID
		}
		if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeAdmin), actor, "alert.resolved", "integrity_alert", &targetID, nil); err != nil {
			s.log.Warn("failed to write alert audit log", zap.Error(err))
		}
	}
	return nil
}
