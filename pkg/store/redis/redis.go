package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrInvalidArgument = errors.New("redisstore: invalid argument")

type Settings struct {
	Addr     string        `yaml:"addr" env:"RELAY_REDIS_ADDR"`
	Password string        `yaml:"password" env:"RELAY_REDIS_PASSWORD"`
	Database int           `yaml:"database" env:"RELAY_REDIS_DB"`
	Timeout  time.Duration `yaml:"timeout"`
	PoolSize int           `yaml:"pool_size"`
	MinIdle  int           `yaml:"min_idle"`
	// Prefix is prepended to every key this module writes, e.g. "prod:".
	Prefix string `yaml:"prefix"`
}

type Store struct {
	cfg Settings
	cli *redis.Client
}

func New(cfg Settings) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: missing addr")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdle > 0 {
		opts.MinIdleConns = cfg.MinIdle
	}
	return &Store{cfg: cfg, cli: redis.NewClient(opts)}, nil
}

// Wrap builds a Store around an existing client.
func Wrap(cli *redis.Client, prefix string) *Store {
	return &Store{cfg: Settings{Addr: cli.Options().Addr, Prefix: prefix}, cli: cli}
}

func (s *Store) Client() *redis.Client { return s.cli }

func (s *Store) Close() error { return s.cli.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.cli.Ping(ctx).Err() }

/*
Keys:
  - txn:{txn_id}                          replay reservation
  - ratelimit:{sender}:{type}             1s burst counter
  - viewercount:{room}                    live participant count, written by the presence service
  - notified_high_traffic:{room}          announcement cooldown marker
  - relay:room:{room}                     pub/sub channel
  - relay:events:v1                       global durable stream
  - relay:room:{room}:log                 per-room durable stream
  - relay:dedupe:{txn_id}                 consumer-side dedupe
*/
func (s *Store) Key(parts ...string) string {
	k := s.cfg.Prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *Store) TxnKey(txnID string) string      { return s.Key("txn", txnID) }
func (s *Store) RateKey(sender, typ string) string { return s.Key("ratelimit", sender, typ) }
func (s *Store) ViewerKey(room string) string    { return s.Key("viewercount", room) }
func (s *Store) NotifyKey(room string) string    { return s.Key("notified_high_traffic", room) }
func (s *Store) RoomChannel(room string) string  { return s.Key("relay", "room", room) }
func (s *Store) RoomPattern() string             { return s.Key("relay", "room", "*") }
func (s *Store) GlobalStream() string            { return s.Key("relay", "events", "v1") }
func (s *Store) RoomStream(room string) string   { return s.Key("relay", "room", room, "log") }
func (s *Store) DedupeKey(txnID string) string   { return s.Key("relay", "dedupe", txnID) }

// RoomFromChannel reverses RoomChannel.
func (s *Store) RoomFromChannel(channel string) (string, bool) {
	prefix := s.RoomChannel("")
	if len(channel) <= len(prefix) || channel[:len(prefix)] != prefix {
		return "", false
	}
	return channel[len(prefix):], true
}

// ViewerCount returns 0 when the room has no counter yet.
func (s *Store) ViewerCount(ctx context.Context, room string) (int64, error) {
	v, err := s.cli.Get(ctx, s.ViewerKey(room)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: viewercount %q: %w", v, err)
	}
	return n, nil
}

func (s *Store) SetViewerCount(ctx context.Context, room string, n int64, ttl time.Duration) error {
	return s.cli.Set(ctx, s.ViewerKey(room), n, ttl).Err()
}

// DedupeTxn returns true if txnID is seen for the first time within ttl.
func (s *Store) DedupeTxn(ctx context.Context, txnID string, ttl time.Duration) (bool, error) {
	if txnID == "" {
		return false, ErrInvalidArgument
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.cli.SetNX(ctx, s.DedupeKey(txnID), "1", ttl).Result()
}

type StreamEntry struct {
	ID       string `json:"id"`
	Envelope string `json:"envelope"`
}

// RangeRoom reads a room's durable log strictly after the given stream id.
func (s *Store) RangeRoom(ctx context.Context, room, after string, limit int64) ([]StreamEntry, error) {
	if room == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 100
	}
	start := "-"
	if after != "" {
		start = "(" + after
	}
	msgs, err := s.cli.XRangeN(ctx, s.RoomStream(room), start, "+", limit).Result()
	if err != nil {
		return nil, err
	}
	out := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		env, _ := m.Values["envelope"].(string)
		out = append(out, StreamEntry{ID: m.ID, Envelope: env})
	}
	return out, nil
}
