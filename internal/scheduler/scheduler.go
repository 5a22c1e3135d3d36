package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/playgroundx/settlement/internal/alert/domain"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/internal/auditcontext"
	"github.com/playgroundx/settlement/internal/authorization"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/events"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobPayoutBuild      = "payout_build"
	JobOutboxDispatch   = "outbox_dispatch"
	JobBalanceReconcile = "balance_reconcile"
	JobStaleProcessing  = "stale_processing"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	PayoutSvc   payoutdomain.Service
	LedgerSvc   ledgerdomain.Service
	AlertSvc    alertdomain.Service
	AuditSvc    auditdomain.Service    `optional:"true"`
	AuthzSvc    authorization.Service  `optional:"true"`
	Dispatcher  *events.Dispatcher     `optional:"true"`
	CreatorLock *ratelimit.CreatorLock `optional:"true"`
	Config      Config                 `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	payoutSvc   payoutdomain.Service
	ledgerSvc   ledgerdomain.Service
	alertSvc    alertdomain.Service
	auditSvc    auditdomain.Service
	authzSvc    authorization.Service
	dispatcher  *events.Dispatcher
	creatorLock *ratelimit.CreatorLock

	mu            sync.Mutex
	lastReconcile time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.PayoutSvc == nil || p.LedgerSvc == nil || p.AlertSvc == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         cfg,
		genID:       p.GenID,
		clock:       p.Clock,
		payoutSvc:   p.PayoutSvc,
		ledgerSvc:   p.LedgerSvc,
		alertSvc:    p.AlertSvc,
		auditSvc:    p.AuditSvc,
		authzSvc:    p.AuthzSvc,
		dispatcher:  p.Dispatcher,
		creatorLock: p.CreatorLock,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run, owner := s.beginRun(ctx, name, batchSize)
	if owner {
		run.start()
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err != nil {
		schedMetrics.IncJobError(name, err)
		if run.failures == 0 {
			// the job returned an error without reporting an item failure
			run.failures++
		}
	}
	if owner {
		run.finish()
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		run.log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once. Job errors are joined; one failing job
// never stops the others.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobPayoutBuild, s.isJobEnabled(JobPayoutBuild), func(ctx context.Context) error {
			return s.runJob(ctx, JobPayoutBuild, s.cfg.BatchSize, 2*time.Minute, s.PayoutBuildJob)
		}},
		{JobOutboxDispatch, s.isJobEnabled(JobOutboxDispatch) && s.dispatcher != nil, func(ctx context.Context) error {
			return s.runJob(ctx, JobOutboxDispatch, s.cfg.OutboxBatchSize, 30*time.Second, s.OutboxDispatchJob)
		}},
		{JobStaleProcessing, s.isJobEnabled(JobStaleProcessing), func(ctx context.Context) error {
			return s.runJob(ctx, JobStaleProcessing, s.cfg.BatchSize, 30*time.Second, s.StaleProcessingJob)
		}},
		{JobBalanceReconcile, s.isJobEnabled(JobBalanceReconcile) && s.reconcileDue(), func(ctx context.Context) error {
			return s.runJob(ctx, JobBalanceReconcile, 1, 10*time.Minute, s.BalanceReconcileJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) reconcileDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReconcile.IsZero() || !s.clock.Now().Before(s.lastReconcile.Add(s.cfg.ReconcileInterval))
}

func (s *Scheduler) emitAuditEvent(ctx context.Context, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	var target *string
	if targetID != "" {
		target = &targetID
	}
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, targetType, target, metadata); err != nil {
		s.log.Warn("failed to write scheduler audit log", zap.String("action", action), zap.Error(err))
	}
}

// authorizeSystem checks the scheduler's own grants. Without an authorization
// service every job runs.
func (s *Scheduler) authorizeSystem(ctx context.Context, object string, action string) error {
	if s.authzSvc == nil {
		return nil
	}
	return s.authzSvc.Authorize(ctx, "system", authorization.RoleSystem, object, action)
}
