package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	redisstore "yuim/pkg/store/redis"
)

// SessionStore reads login sessions written by the account service:
// a Redis hash at <prefix><token> holding at least userId.
type SessionStore struct {
	RedisPrefix string
	TTL         time.Duration
	Store       *redisstore.Store
}

func (s *SessionStore) key(token string) string {
	return s.Store.Key(s.RedisPrefix + token)
}

// Put stores a session payload as Redis hash + TTL.
func (s *SessionStore) Put(ctx context.Context, token string, fields map[string]string) error {
	if token == "" {
		return fmt.Errorf("token empty")
	}
	cli := s.Store.Client()
	key := s.key(token)
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	_, err := cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fields)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (s *SessionStore) Get(ctx context.Context, token string) (map[string]string, bool, error) {
	if token == "" {
		return nil, false, nil
	}
	m, err := s.Store.Client().HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(m) == 0 {
		return nil, false, nil
	}
	return m, true, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.Store.Client().Del(ctx, s.key(token)).Err()
}

func (s *SessionStore) Authenticate(ctx context.Context, token string) (string, error) {
	info, ok, err := s.Get(ctx, token)
	if err != nil {
		return "", err
	}
	if !ok || info["userId"] == "" {
		return "", ErrUnauthorized
	}
	return info["userId"], nil
}
