// Package abuse holds the per-sender rate limiter and the hot-room sampler.
package abuse

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWindow increments the counter and arms its expiry on the first hit. The
// PTTL check re-arms a counter that lost its expiry so it can never stick.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

type LimiterOptions struct {
	Limit   int64
	Window  time.Duration
	Timeout time.Duration
	Key     func(sender, typ string) string
}

func (o LimiterOptions) withDefaults() LimiterOptions {
	if o.Limit <= 0 {
		o.Limit = 5
	}
	if o.Window <= 0 {
		o.Window = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 300 * time.Millisecond
	}
	if o.Key == nil {
		o.Key = func(sender, typ string) string { return "ratelimit:" + sender + ":" + typ }
	}
	return o
}

type RateLimiter struct {
	cli  redis.Scripter
	opts LimiterOptions
}

func NewRateLimiter(cli redis.Scripter, opts LimiterOptions) *RateLimiter {
	return &RateLimiter{cli: cli, opts: opts.withDefaults()}
}

// Allow counts one event for (sender, typ). On store failure it returns true
// together with the error: callers log it and let the request through.
func (l *RateLimiter) Allow(ctx context.Context, sender, typ string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	n, err := incrWindow.Run(ctx, l.cli, []string{l.opts.Key(sender, typ)}, l.opts.Window.Milliseconds()).Int64()
	if err != nil {
		return true, fmt.Errorf("abuse: rate limit: %w", err)
	}
	return n <= l.opts.Limit, nil
}
