package scheduler

import (
	"context"
	"time"

	obscontext "github.com/playgroundx/settlement/internal/observability/context"
	obslogger "github.com/playgroundx/settlement/internal/observability/logger"
	obsmetrics "github.com/playgroundx/settlement/internal/observability/metrics"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job. It rides on the context so a job
// invoked through runJob and a job invoked directly (admin trigger, tests)
// log the same way; only the outermost caller owns start and finish.
type jobRun struct {
	job       string
	id        string
	size      int
	startedAt time.Time
	processed int
	failures  int
	log       *zap.Logger
}

type jobRunKey struct{}

// beginRun returns the run already on ctx, or starts a new one. owner is
// true for the caller that created it.
func (s *Scheduler) beginRun(ctx context.Context, job string, size int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok && run != nil {
		return ctx, run, false
	}

	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	run := &jobRun{
		job:       job,
		id:        s.genID.Generate().String(),
		size:      size,
		startedAt: time.Now(),
	}
	run.log = obslogger.WithContext(ctx, s.log).With(zap.String("job", job), zap.String("run_id", run.id))
	return context.WithValue(ctx, jobRunKey{}, run), run, true
}

func (r *jobRun) start() {
	r.log.Info("scheduler.job.start", zap.Int("batch_size", r.size))
}

func (r *jobRun) finish() {
	fields := []zap.Field{
		zap.Duration("took", time.Since(r.startedAt)),
		zap.Int("processed", r.processed),
		zap.Int("failures", r.failures),
	}
	if r.failures > 0 {
		r.log.Warn("scheduler.job.finish", fields...)
		return
	}
	r.log.Info("scheduler.job.finish", fields...)
}

func (r *jobRun) done(n int) {
	if n > 0 {
		r.processed += n
	}
}

// fail records a failure with its classification. Per-item failures inside a
// job go through here too; the job keeps going.
func (r *jobRun) fail(msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	r.failures++
	r.log.Error(msg, append([]zap.Field{
		zap.Error(err),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
	}, fields...)...)
}

func (r *jobRun) candidate(c payoutdomain.Candidate) {
	obslogger.WithCreator(r.log, c.CreatorID).Debug("scheduler.payout.candidate",
		zap.String("currency", c.Currency),
		zap.Int64("amount", c.Amount),
	)
}

func (r *jobRun) built(batch *payoutdomain.PayoutBatch) {
	if batch == nil {
		return
	}
	obslogger.WithCreator(r.log, batch.CreatorID).Info("payout.batch.built",
		zap.String("batch_id", batch.ID.String()),
		zap.String("currency", batch.Currency),
		zap.Int64("creator_earned", batch.CreatorEarned),
		zap.Int("event_count", batch.EventCount),
	)
}
