package transport

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"

	"yuim/pkg/envelope"
)

// Keys names the Redis channels and streams the adapters write to.
type Keys interface {
	RoomChannel(room string) string
	GlobalStream() string
	RoomStream(room string) string
}

// RedisPubSub is the ephemeral broadcast: PUBLISH to the room channel. Edge
// nodes PSUBSCRIBE and forward to their websocket subscribers.
type RedisPubSub struct {
	cli  redis.Cmdable
	keys Keys
}

func NewRedisPubSub(cli redis.Cmdable, keys Keys) *RedisPubSub {
	return &RedisPubSub{cli: cli, keys: keys}
}

func (a *RedisPubSub) Name() string { return "redis_pubsub" }

func (a *RedisPubSub) Publish(ctx context.Context, channel, _ string, env *envelope.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return a.cli.Publish(ctx, a.keys.RoomChannel(channel), b).Err()
}

type StreamOptions struct {
	// MaxLen caps each stream approximately; 0 leaves them unbounded.
	GlobalMaxLen int64 `yaml:"global_max_len"`
	RoomMaxLen   int64 `yaml:"room_max_len"`
}

// RedisStream is the durable log: one global stream for downstream workers
// and one stream per room for reconnect backfill.
type RedisStream struct {
	cli  redis.Cmdable
	keys Keys
	opts StreamOptions
}

func NewRedisStream(cli redis.Cmdable, keys Keys, opts StreamOptions) *RedisStream {
	return &RedisStream{cli: cli, keys: keys, opts: opts}
}

func (a *RedisStream) Name() string { return "redis_stream" }

func (a *RedisStream) Publish(ctx context.Context, channel, _ string, env *envelope.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = a.cli.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: a.keys.GlobalStream(),
			MaxLen: a.opts.GlobalMaxLen,
			Approx: a.opts.GlobalMaxLen > 0,
			Values: map[string]any{
				"txn_id":  env.TxnID,
				"room_id": env.RoomID,
				"t":       string(env.T),
				"ts":      strconv.FormatInt(env.TS, 10),
				"s":       env.S,
				"v":       strconv.Itoa(env.V),
				"kid":     env.Kid,
				"payload": string(b),
			},
		})
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: a.keys.RoomStream(channel),
			MaxLen: a.opts.RoomMaxLen,
			Approx: a.opts.RoomMaxLen > 0,
			Values: map[string]any{"envelope": string(b)},
		})
		return nil
	})
	return err
}
