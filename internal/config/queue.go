package config

import (
	"fmt"
	"time"
)

// QueueConfig holds tuning for the action queue and the sweep
type QueueConfig struct {
	// OperationTimeout bounds a single top-level queue or tracker call.
	// Bursts of concurrent callers degrade by queuing on the store's
	// write lock rather than deadlocking.
	// Default: 30s, Range: 1s-5m
	OperationTimeout time.Duration

	// ExpireAfterDays is the age at which pending opportunities with no
	// explicit expiry are swept to expired
	// Default: 30, Range: 1-365
	ExpireAfterDays int

	// SweepWorkers bounds how many due measurements are finalized
	// concurrently by one sweep
	// Default: 4, Range: 1-32
	SweepWorkers int
}

// DefaultQueueConfig returns the default queue configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		OperationTimeout: 30 * time.Second,
		ExpireAfterDays:  30,
		SweepWorkers:     4,
	}
}

// Validate checks the queue configuration
func (c QueueConfig) Validate() error {
	if c.OperationTimeout < time.Second || c.OperationTimeout > 5*time.Minute {
		return fmt.Errorf("operation timeout must be 1s-5m (got %s)", c.OperationTimeout)
	}
	if c.ExpireAfterDays < 1 || c.ExpireAfterDays > 365 {
		return fmt.Errorf("expire after days must be 1-365 (got %d)", c.ExpireAfterDays)
	}
	if c.SweepWorkers < 1 || c.SweepWorkers > 32 {
		return fmt.Errorf("sweep workers must be 1-32 (got %d)", c.SweepWorkers)
	}
	return nil
}
