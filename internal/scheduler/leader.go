package scheduler

import (
	"context"
	"fmt"

	obsmetrics "github.com/smallbiznis/classpay/internal/observability/metrics"
	"go.uber.org/zap"
)

// withLeaderLock runs fn only on the replica holding the job's lease.
// Without Redis every replica runs the job; the sweeps are idempotent.
func (s *Scheduler) withLeaderLock(ctx context.Context, job string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	release, acquired, err := s.locker.AcquireJob(ctx, job, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire leader lock: %w", err)
	}
	if !acquired {
		obsmetrics.Scheduler().IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonLeaderLockHeld)
		s.logger(ctx).Debug("scheduler.job.skipped", zap.String("job", job), zap.String("reason", "leader_lock_held"))
		return nil
	}
	defer func() {
		// The job context may already be done; release on a fresh one.
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger(ctx).Warn("failed to release leader lock", zap.String("job", job), zap.Error(err))
		}
	}()
	return fn(ctx)
}
