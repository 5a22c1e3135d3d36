package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/playgroundx/settlement/internal/authorization"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/internal/scheduler/guard"
	"go.uber.org/zap"
)

// PayoutBuildJob builds one batch per creator and currency whose unclaimed
// earnings reach the minimum. Creators locked by another replica are deferred
// to the next tick.
func (s *Scheduler) PayoutBuildJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobPayoutBuild, s.cfg.BatchSize)
	if owner {
		run.start()
		defer run.finish()
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectPayoutBatch, authorization.ActionPayoutBuild); err != nil {
		run.fail("scheduler.authorize.failed", err)
		return err
	}

	now := s.clock.Now().UTC()
	schedMetrics := obsmetrics.Scheduler()
	candidates, err := s.fetchCandidates(ctx, now)
	if err != nil {
		run.fail("scheduler.payout.candidates.failed", err)
		return err
	}
	var jobErr error
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if err := guard.EnsureCandidateCanBuild(candidate, s.cfg.PayoutMinimum); err != nil {
			continue
		}
		run.candidate(candidate)

		built, err := s.buildForCandidate(ctx, candidate, now)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			schedMetrics.IncStageError(obsmetrics.StagePayoutBuild, err)
			run.fail("scheduler.payout.build.failed", err,
				zap.String("creator_id", candidate.CreatorID),
				zap.String("currency", candidate.Currency),
			)
			continue
		}
		if built == nil || built.Skipped {
			continue
		}
		run.done(1)
		schedMetrics.AddBatchProcessed(JobPayoutBuild, "payout_batch", 1)
		run.built(built.Batch)
	}
	return jobErr
}

func (s *Scheduler) buildForCandidate(ctx context.Context, candidate payoutdomain.Candidate, now time.Time) (*payoutdomain.BuildResult, error) {
	release, ok, err := s.lockCreator(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if !ok {
		obsmetrics.Scheduler().IncBatchDeferred(JobPayoutBuild, "creator_locked")
		return nil, nil
	}
	defer release()

	result, err := s.payoutSvc.BuildBatch(ctx, payoutdomain.BuildRequest{
		CreatorID: candidate.CreatorID,
		Currency:  candidate.Currency,
		AsOf:      now,
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
