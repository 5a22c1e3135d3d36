package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
)

// lockCreator serializes payout builds for one creator and currency across
// scheduler replicas. ok is false when another replica holds the lock.
func (s *Scheduler) lockCreator(ctx context.Context, candidate payoutdomain.Candidate) (release func(), ok bool, err error) {
	lockStart := time.Now()
	release, ok, err = s.creatorLock.Acquire(ctx, candidate.CreatorID, candidate.Currency)
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceCreatorsForPayout, time.Since(lockStart))
	if release == nil {
		release = func() {}
	}
	return release, ok, err
}

// fetchCandidates lists creators over the minimum, capped to one batch.
func (s *Scheduler) fetchCandidates(ctx context.Context, asOf time.Time) ([]payoutdomain.Candidate, error) {
	candidates, err := s.payoutSvc.Candidates(ctx, asOf, s.cfg.PayoutMinimum)
	if err != nil {
		return nil, err
	}
	if len(candidates) > s.cfg.BatchSize {
		candidates = candidates[:s.cfg.BatchSize]
	}
	return candidates, nil
}
