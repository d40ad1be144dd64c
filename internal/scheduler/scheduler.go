package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classpay/internal/clock"
	invoicedomain "github.com/smallbiznis/classpay/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/classpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"github.com/smallbiznis/classpay/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// LeaderLocker is the distributed lock used to keep a job single-runner.
type LeaderLocker interface {
	AcquireJob(ctx context.Context, job string, ttl time.Duration) (ratelimit.ReleaseFunc, bool, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Webhooks paymentdomain.WebhookService
	Invoices invoicedomain.Service
	Locker   *ratelimit.JobLocker `optional:"true"`
	Config   Config               `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	webhooks paymentdomain.WebhookService
	invoices invoicedomain.Service
	locker   LeaderLocker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Webhooks == nil || p.Invoices == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		webhooks: p.Webhooks,
		invoices: p.Invoices,
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	soft := s.cfg.SoftDeadline
	if soft <= 0 || soft >= timeout {
		soft = timeout * 2 / 3
	}
	warn := time.AfterFunc(soft, func() {
		log.Warn("job passed soft deadline", zap.Duration("soft_deadline", soft), zap.Duration("timeout", timeout))
	})
	err := s.withLeaderLock(ctx, name, fn)
	warn.Stop()

	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobEnrollmentReconcile, s.isJobEnabled(JobEnrollmentReconcile), func(ctx context.Context) error {
			return s.runJob(ctx, JobEnrollmentReconcile, s.cfg.ReconcileBatchSize, s.cfg.JobTimeout, s.EnrollmentReconcileJob)
		}},
		{JobInvoiceBackfill, s.cfg.InvoiceBackfill && s.isJobEnabled(JobInvoiceBackfill), func(ctx context.Context) error {
			return s.runJob(ctx, JobInvoiceBackfill, s.cfg.InvoiceBatchSize, s.cfg.JobTimeout, s.InvoiceBackfillJob)
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
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// EnrollmentReconcileJob completes successful class payments whose enrollment
// never landed.
func (s *Scheduler) EnrollmentReconcileJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobEnrollmentReconcile, s.cfg.ReconcileBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	schedMetrics := obsmetrics.Scheduler()
	result, err := s.webhooks.ReconcileEnrollments(ctx, s.cfg.ReconcileBatchSize)

	run.AddProcessed(result.Applied)
	schedMetrics.AddBatchProcessed(JobEnrollmentReconcile, "payments", result.Applied)
	if result.Scanned == 0 && err == nil {
		schedMetrics.IncBatchDeferred(JobEnrollmentReconcile, obsmetrics.SchedulerBatchDeferredReasonNothingPending)
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "enrollment reconcile incomplete", JobEnrollmentReconcile, err,
			zap.Int("scanned", result.Scanned),
			zap.Int("failed", result.Failed),
		)
		return err
	}
	return nil
}

// InvoiceBackfillJob issues invoices for successful payments that settled
// more than the grace period ago and were never invoiced.
func (s *Scheduler) InvoiceBackfillJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobInvoiceBackfill, s.cfg.InvoiceBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	cutoff := s.clock.Now().Add(-s.cfg.InvoiceGracePeriod)
	result, err := s.invoices.BackfillPending(ctx, cutoff, s.cfg.InvoiceBatchSize)

	run.AddProcessed(len(result.Issued))
	obsmetrics.Scheduler().AddBatchProcessed(JobInvoiceBackfill, "invoices", len(result.Issued))
	if err != nil {
		s.logSchedulerError(ctx, run, "invoice backfill incomplete", JobInvoiceBackfill, err,
			zap.Int("issued", len(result.Issued)),
			zap.Int("skipped", len(result.Skipped)),
			zap.Int("failed", len(result.Failed)),
		)
		return err
	}
	return nil
}
