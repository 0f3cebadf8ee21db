// Package replay reserves transaction ids so each one is accepted at most once.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrReplay      = errors.New("replay: txn_id already used")
	ErrUnavailable = errors.New("replay: store unavailable")
)

type Options struct {
	// TTL must exceed any client retry window.
	TTL     time.Duration
	Timeout time.Duration
	// Key maps a txn id to its reservation key.
	Key func(txnID string) string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 15 * time.Minute
	}
	if o.Timeout <= 0 {
		o.Timeout = 500 * time.Millisecond
	}
	if o.Key == nil {
		o.Key = func(txnID string) string { return "txn:" + txnID }
	}
	return o
}

type Guard struct {
	cli  redis.Cmdable
	opts Options
}

func New(cli redis.Cmdable, opts Options) *Guard {
	return &Guard{cli: cli, opts: opts.withDefaults()}
}

// Reserve claims txnID. Any store failure, including the timeout, rejects the
// request with ErrUnavailable rather than risking a duplicate.
func (g *Guard) Reserve(ctx context.Context, txnID string) error {
	if txnID == "" {
		return fmt.Errorf("replay: empty txn_id")
	}
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	ok, err := g.cli.SetNX(ctx, g.opts.Key(txnID), "1", g.opts.TTL).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return ErrReplay
	}
	return nil
}
