package clock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// HeaderSource reports the timestamp of the newest block.
type HeaderSource interface {
	LatestTimestamp(ctx context.Context) (uint64, error)
}

// Chain uses the latest block time as "now", so every node reading the same
// chain agrees on reward accrual.
type Chain struct {
	source     HeaderSource
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

func NewChain(source HeaderSource, maxRetries int, backoff time.Duration, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{source: source, maxRetries: maxRetries, backoff: backoff, logger: logger}
}

func (c *Chain) Now(ctx context.Context) (int64, error) {
	ts, err := c.latest(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest block time: %w", err)
	}
	if ts > math.MaxInt64 {
		return 0, fmt.Errorf("block time %d out of range", ts)
	}
	return int64(ts), nil
}

// latest reads the newest header time, retrying up to maxRetries times with
// doubling backoff capped at maxBackoff. Cancellation is never retried.
func (c *Chain) latest(ctx context.Context) (uint64, error) {
	retries := c.maxRetries
	if retries < 0 {
		retries = 0
	}
	delay := c.backoff
	if delay <= 0 {
		delay = defaultBackoff
	}

	for attempt := 1; ; attempt++ {
		ts, err := c.source.LatestTimestamp(ctx)
		if err == nil {
			if attempt > 1 {
				c.logger.Debug("latest header recovered", zap.Int("attempt", attempt))
			}
			return ts, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		if attempt > retries {
			c.logger.Warn("latest header failed, giving up", zap.Int("attempts", attempt), zap.Error(err))
			return 0, err
		}
		c.logger.Debug("latest header failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
		if delay *= 2; delay > maxBackoff {
			delay = maxBackoff
		}
	}
}
