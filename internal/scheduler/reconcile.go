package scheduler

import (
	"context"

	"github.com/playgroundx/settlement/internal/authorization"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	"go.uber.org/zap"
)

// BalanceReconcileJob replays the event log and compares it to stored
// balances. Drift raises alerts inside the ledger; nothing is repaired here.
func (s *Scheduler) BalanceReconcileJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobBalanceReconcile, 1)
	if owner {
		run.start()
		defer run.finish()
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectLedger, authorization.ActionLedgerReconcile); err != nil {
		run.fail("scheduler.authorize.failed", err)
		return err
	}

	result, err := s.ledgerSvc.Reconcile(ctx)
	if err != nil {
		obsmetrics.Scheduler().IncStageError(obsmetrics.StageBalanceReconcile, err)
		run.fail("scheduler.reconcile.failed", err)
		return err
	}

	s.mu.Lock()
	s.lastReconcile = s.clock.Now()
	s.mu.Unlock()

	run.done(result.Accounts)
	obsmetrics.Scheduler().AddBatchProcessed(JobBalanceReconcile, "balance", result.Accounts)
	if len(result.Drifts) > 0 {
		run.log.Error("scheduler.reconcile.drift",
			zap.Int("accounts", result.Accounts),
			zap.Int("drifts", len(result.Drifts)),
		)
		s.emitAuditEvent(ctx, "ledger.reconcile_drift", "balances", "", map[string]any{
			"accounts": result.Accounts,
			"drifts":   len(result.Drifts),
		})
	}
	return nil
}
