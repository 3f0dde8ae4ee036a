package queue

import (
	"context"
	"time"
)

// DefaultPollInterval is the pause after an empty or failed poll.
const DefaultPollInterval = 2 * time.Second

// Run polls ProcessNext until ctx ends. A processed job is followed
// immediately by the next poll; an idle poll waits interval.
func (c *Consumer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	c.logger.Info().Dur("interval", interval).Msg("queue: consumer started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("queue: consumer stopped")
			return ctx.Err()
		case <-timer.C:
		}

		out := c.ProcessNext(ctx)
		if out.Err != nil && !out.Processed {
			c.logger.Error().Err(out.Err).Msg("queue: poll failed")
		}
		if out.Processed {
			timer.Reset(0)
			continue
		}
		timer.Reset(interval)
	}
}
