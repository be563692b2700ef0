package clock

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
)

const (
	DefaultNTPServer   = "pool.ntp.org"
	defaultMaxOffset   = 5 * time.Second
	defaultNTPInterval = 10 * time.Minute
	defaultNTPTimeout  = 2 * time.Second
)

// Clock is any source of unix seconds.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

// NTPChecked wraps a local clock and periodically compares it with an NTP
// server. Drift is logged, never corrected: reward accrual keeps using the
// wrapped clock.
type NTPChecked struct {
	base      Clock
	server    string
	maxOffset time.Duration
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	query     func(host string, timeout time.Duration) (time.Duration, error)

	// mu guards lastCheck and offset only; it is never held across a query.
	mu        sync.Mutex
	lastCheck time.Time
	offset    time.Duration
}

func NewNTPChecked(base Clock, server string, logger *zap.Logger) *NTPChecked {
	if server == "" {
		server = DefaultNTPServer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NTPChecked{
		base:      base,
		server:    server,
		maxOffset: defaultMaxOffset,
		interval:  defaultNTPInterval,
		timeout:   defaultNTPTimeout,
		logger:    logger,
		query:     queryOffset,
	}
}

func queryOffset(host string, timeout time.Duration) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

func (c *NTPChecked) Now(ctx context.Context) (int64, error) {
	c.check(ctx)
	return c.base.Now(ctx)
}

// Offset returns the last measured offset of the local clock.
func (c *NTPChecked) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// check queries the NTP server at most once per interval. The caller that
// claims the slot runs the query; concurrent callers skip it.
func (c *NTPChecked) check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	if !c.lastCheck.IsZero() && time.Since(c.lastCheck) < c.interval {
		c.mu.Unlock()
		return
	}
	c.lastCheck = time.Now()
	c.mu.Unlock()

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return
	}

	offset, err := c.query(c.server, timeout)
	if err != nil {
		c.logger.Debug("failed to access NTP", zap.String("server", c.server), zap.Error(err))
		return
	}
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
	if offset > c.maxOffset || offset < -c.maxOffset {
		c.logger.Warn("clock offset detected", zap.String("server", c.server), zap.Duration("offset", offset))
	}
}
