package catalog

import (
	"time"

	"go.uber.org/zap"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Saver persists a catalog.
type Saver interface {
	Save(cat *Catalog) error
}

// Checkpointer saves the catalog periodically from inside the loop that owns
// it. Callers invoke Checkpoint between items and Flush when the pass ends.
type Checkpointer struct {
	saver    Saver
	interval time.Duration
	clock    Clock
	logger   *zap.Logger
	last     time.Time
	saves    int
}

// NewCheckpointer returns a checkpointer that saves at most once per interval.
// A zero interval saves on every checkpoint.
func NewCheckpointer(saver Saver, interval time.Duration, clock Clock, logger *zap.Logger) *Checkpointer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpointer{
		saver:    saver,
		interval: interval,
		clock:    clock,
		logger:   logger.Named("checkpoint"),
		last:     clock.Now(),
	}
}

// Checkpoint saves the catalog when the interval has elapsed since the last save.
func (c *Checkpointer) Checkpoint(cat *Catalog) error {
	if c.clock.Now().Sub(c.last) < c.interval {
		return nil
	}
	return c.Flush(cat)
}

// Flush saves the catalog unconditionally.
func (c *Checkpointer) Flush(cat *Catalog) error {
	if err := c.saver.Save(cat); err != nil {
		c.logger.Error("autosave failed", zap.Error(err))
		return err
	}
	c.last = c.clock.Now()
	c.saves++
	return nil
}

// Saves returns how many saves succeeded.
func (c *Checkpointer) Saves() int {
	return c.saves
}
