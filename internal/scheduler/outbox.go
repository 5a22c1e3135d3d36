package scheduler

import (
	"context"

	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
)

// OutboxDispatchJob drains due outbox rows to the broker until a claim comes
// back short.
func (s *Scheduler) OutboxDispatchJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobOutboxDispatch, s.cfg.OutboxBatchSize)
	if owner {
		run.start()
		defer run.finish()
	}
	if s.dispatcher == nil {
		return nil
	}
	schedMetrics := obsmetrics.Scheduler()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := s.dispatcher.DispatchPending(ctx, s.cfg.OutboxBatchSize)
		if err != nil {
			schedMetrics.IncStageError(obsmetrics.StageOutboxDispatch, err)
			run.fail("scheduler.outbox.dispatch.failed", err)
			return err
		}
		run.done(result.Published)
		schedMetrics.AddBatchProcessed(JobOutboxDispatch, "outbox_event", result.Published)
		if result.DeadLetter > 0 {
			schedMetrics.IncBatchDeferred(JobOutboxDispatch, "dead_letter")
		}
		if result.Claimed < s.cfg.OutboxBatchSize {
			return nil
		}
	}
}
