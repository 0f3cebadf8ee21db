package hub

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channels maps pub/sub channels back to rooms.
type Channels interface {
	RoomPattern() string
	RoomFromChannel(channel string) (string, bool)
}

var errSubscriptionClosed = errors.New("hub: subscription closed")

// Subscribe feeds every envelope published to a room channel into h until ctx ends.
// onReady, when non-nil, runs once the subscription is confirmed.
func Subscribe(ctx context.Context, cli redis.UniversalClient, ch Channels, h *Hub, log *zap.Logger, onReady func()) error {
	ps := cli.PSubscribe(ctx, ch.RoomPattern())
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	if onReady != nil {
		onReady()
	}
	log.Info("room subscriber started", zap.String("pattern", ch.RoomPattern()))

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return errSubscriptionClosed
			}
			room, ok := ch.RoomFromChannel(m.Channel)
			if !ok {
				continue
			}
			if _, dropped := h.Broadcast(room, []byte(m.Payload)); dropped > 0 {
				log.Debug("slow subscribers skipped", zap.String("room", room), zap.Int("dropped", dropped))
			}
		}
	}
}

// RunOptions tunes the resubscribe backoff; zero values take the defaults.
type RunOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Ready, when non-nil, is closed after the first successful subscription.
	Ready chan<- struct{}
}

// Run keeps the room subscription alive until ctx ends. A failed or dropped
// subscription is retried with exponential backoff, with no give-up deadline,
// so an edge that starts before Redis catches up once Redis is reachable.
func Run(ctx context.Context, cli redis.UniversalClient, ch Channels, h *Hub, log *zap.Logger, opts RunOptions) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	if opts.InitialInterval > 0 {
		bo.InitialInterval = opts.InitialInterval
	}
	if opts.MaxInterval > 0 {
		bo.MaxInterval = opts.MaxInterval
	}

	ready := opts.Ready
	onReady := func() {
		// a healthy subscription starts the next outage from the short interval
		bo.Reset()
		if ready != nil {
			close(ready)
			ready = nil
		}
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := Subscribe(ctx, cli, ch, h, log, onReady)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errSubscriptionClosed
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("room subscriber down, retrying", zap.Error(err), zap.Duration("in", next))
		}),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
