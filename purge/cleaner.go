// Package purge removes long-expired payment records in the background.
package purge

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger is the slice of the record service the cleaner needs.
type Purger interface {
	Purge(retention time.Duration) (int, error)
}

// Cleaner periodically deletes records that expired more than retention ago.
type Cleaner struct {
	purger    Purger
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
}

// NewCleaner creates a Cleaner. interval must be positive.
func NewCleaner(p Purger, interval, retention time.Duration, logger *zap.Logger) *Cleaner {
	return &Cleaner{
		purger:    p,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Start runs the cleanup loop until ctx is cancelled. It blocks.
func (c *Cleaner) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("purge cleaner started",
		zap.Duration("interval", c.interval),
		zap.Duration("retention", c.retention),
	)
	for {
		select {
		case <-ticker.C:
			c.runOnce()
		case <-ctx.Done():
			c.logger.Debug("purge cleaner stopped")
			return
		}
	}
}

// runOnce performs a single cleanup cycle and is the only place a sweep is
// logged. Failures are logged and the next tick tries again.
func (c *Cleaner) runOnce() int {
	removed, err := c.purger.Purge(c.retention)
	if err != nil {
		c.logger.Error("purge failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		c.logger.Info("purge removed expired records", zap.Int("removed", removed))
	}
	return removed
}
