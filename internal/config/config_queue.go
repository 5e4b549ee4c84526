package config

import "time"

// QueueConfig configures C9's worker pool (internal/jobs.Scheduler), per
// spec.md §6's MAX_CONCURRENCY / QUEUE_INTERVAL_MS / QUEUE_INTERVAL_CAP /
// DEFAULT_TIMEOUT_MS / MAX_RETRIES enumeration.
type QueueConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	Interval       time.Duration `yaml:"interval"`
	IntervalCap    int           `yaml:"interval_cap"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	QueueSize      int           `yaml:"queue_size"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}
