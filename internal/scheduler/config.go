package scheduler

import (
	"time"

	"github.com/smallbiznis/classpay/internal/config"
)

const (
	JobEnrollmentReconcile = "enrollment_reconcile"
	JobInvoiceBackfill     = "invoice_backfill"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval        time.Duration
	JobTimeout         time.Duration
	SoftDeadline       time.Duration
	LockTTL            time.Duration
	ReconcileBatchSize int
	InvoiceBackfill    bool
	InvoiceGracePeriod time.Duration
	InvoiceBatchSize   int
	EnabledJobs        []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        time.Minute,
		JobTimeout:         30 * time.Second,
		SoftDeadline:       20 * time.Second,
		LockTTL:            2 * time.Minute,
		ReconcileBatchSize: 100,
		InvoiceBackfill:    false,
		InvoiceGracePeriod: time.Hour,
		InvoiceBatchSize:   50,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.RunInterval = cfg.Scheduler.ReconcileInterval
	c.ReconcileBatchSize = cfg.Scheduler.ReconcileBatchSize
	c.InvoiceBackfill = cfg.Scheduler.InvoiceBackfill
	c.InvoiceGracePeriod = cfg.Scheduler.InvoiceGracePeriod
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.SoftDeadline <= 0 || c.SoftDeadline >= c.JobTimeout {
		c.SoftDeadline = c.JobTimeout * 2 / 3
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.ReconcileBatchSize <= 0 {
		c.ReconcileBatchSize = defaults.ReconcileBatchSize
	}
	if c.InvoiceGracePeriod <= 0 {
		c.InvoiceGracePeriod = defaults.InvoiceGracePeriod
	}
	if c.InvoiceBatchSize <= 0 {
		c.InvoiceBatchSize = defaults.InvoiceBatchSize
	}
	return c
}
