package scheduler

import (
	"context"
	"errors"
	"time"

	alertdomain "github.com/playgroundx/settlement/internal/alert/domain"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/internal/scheduler/guard"
	"go.uber.org/zap"
)

// StaleProcessingJob raises one stale_processing alert per batch that has sat
// in processing longer than the threshold. Batches are never failed
// automatically; an operator decides.
func (s *Scheduler) StaleProcessingJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobStaleProcessing, s.cfg.BatchSize)
	if owner {
		run.start()
		defer run.finish()
	}

	now := s.clock.Now().UTC()
	cutoff := now.Add(-s.cfg.StaleProcessingAfter)
	schedMetrics := obsmetrics.Scheduler()

	lockStart := time.Now()
	batches, err := s.payoutSvc.StaleProcessing(ctx, cutoff, s.cfg.BatchSize)
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceStaleBatches, time.Since(lockStart))
	if err != nil {
		run.fail("scheduler.stale.fetch.failed", err)
		return err
	}
	if len(batches) == 0 {
		return nil
	}

	alerted, err := s.alertedBatches(ctx)
	if err != nil {
		run.fail("scheduler.stale.alerts.failed", err)
		return err
	}

	var jobErr error
	for _, batch := range batches {
		if guard.EnsureBatchProcessing(batch.Status) != nil || alerted[batch.ID.String()] {
			continue
		}
		if err := s.raiseStale(ctx, batch, now); err != nil {
			jobErr = errors.Join(jobErr, err)
			schedMetrics.IncStageError(obsmetrics.StageStaleProcessing, err)
			run.fail("scheduler.stale.alert.failed", err,
				zap.String("batch_id", batch.ID.String()),
			)
			continue
		}
		run.done(1)
		schedMetrics.AddBatchProcessed(JobStaleProcessing, "payout_batch", 1)
	}
	return jobErr
}

func (s *Scheduler) alertedBatches(ctx context.Context) (map[string]bool, error) {
	alerts, err := s.alertSvc.List(ctx, alertdomain.ListFilter{
		Kind:           alertdomain.KindStaleProcessing,
		OnlyUnresolved: true,
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(alerts))
	for _, alert := range alerts {
		if id, ok := alert.Detail["batch_id"].(string); ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *Scheduler) raiseStale(ctx context.Context, batch payoutdomain.PayoutBatch, now time.Time) error {
	detail := map[string]any{
		"batch_id":       batch.ID.String(),
		"currency":       batch.Currency,
		"creator_earned": batch.CreatorEarned,
	}
	if batch.ProcessingAt != nil {
		detail["processing_at"] = batch.ProcessingAt.UTC().Format(time.RFC3339)
		detail["stale_for"] = now.Sub(*batch.ProcessingAt).Round(time.Minute).String()
	}
	if batch.ExternalRef != nil {
		detail["external_ref"] = *batch.ExternalRef
	}
	_, err := s.alertSvc.Raise(ctx, alertdomain.RaiseRequest{
		Kind:      alertdomain.KindStaleProcessing,
		Severity:  alertdomain.SeverityWarning,
		AccountID: ledgerdomain.CreatorAccount(batch.CreatorID),
		Subject:   "payout batch stuck in processing",
		Detail:    detail,
	})
	return err
}
