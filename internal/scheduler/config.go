package scheduler

import (
	"time"

	"github.com/playgroundx/settlement/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval          time.Duration
	BatchSize            int
	OutboxBatchSize      int
	StaleProcessingAfter time.Duration
	ReconcileInterval    time.Duration
	PayoutMinimum        int64
	EnabledJobs          []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:          time.Minute,
		BatchSize:            50,
		OutboxBatchSize:      100,
		StaleProcessingAfter: 72 * time.Hour,
		ReconcileInterval:    time.Hour,
		PayoutMinimum:        5000,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:          cfg.Scheduler.RunInterval,
		BatchSize:            cfg.Scheduler.BatchSize,
		StaleProcessingAfter: cfg.Scheduler.StaleProcessing,
		PayoutMinimum:        cfg.Payout.MinimumAmount,
		EnabledJobs:          cfg.Scheduler.EnabledJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.OutboxBatchSize <= 0 {
		c.OutboxBatchSize = defaults.OutboxBatchSize
	}
	if c.StaleProcessingAfter <= 0 {
		c.StaleProcessingAfter = defaults.StaleProcessingAfter
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = defaults.ReconcileInterval
	}
	if c.PayoutMinimum <= 0 {
		c.PayoutMinimum = defaults.PayoutMinimum
	}
	return c
}
