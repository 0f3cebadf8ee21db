package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = cli.Close() })
	return New(cli, Options{}), mr
}

func TestReserveOnce(t *testing.T) {
	g, mr := newGuard(t)
	ctx := context.Background()

	require.NoError(t, g.Reserve(ctx, "abc"))
	assert.ErrorIs(t, g.Reserve(ctx, "abc"), ErrReplay)
	assert.NoError(t, g.Reserve(ctx, "abd"))

	ttl := mr.TTL("txn:abc")
	assert.Equal(t, 15*time.Minute, ttl)
}

func TestReserveAfterRetentionWindow(t *testing.T) {
	g, mr := newGuard(t)
	ctx := context.Background()

	require.NoError(t, g.Reserve(ctx, "abc"))
	mr.FastForward(16 * time.Minute)
	assert.NoError(t, g.Reserve(ctx, "abc"))
}

func TestConcurrentReserveExactlyOneWins(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		replays int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Reserve(ctx, "same")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrReplay):
				replays++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, replays)
}

func TestReserveFailsClosed(t *testing.T) {
	g, mr := newGuard(t)
	mr.Close()

	for i := 0; i < 3; i++ {
		err := g.Reserve(context.Background(), "abc")
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.NotErrorIs(t, err, ErrReplay)
	}
}

func TestReserveCustomKey(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	g := New(cli, Options{TTL: time.Minute, Key: func(id string) string { return "stage:txn:" + id }})
	require.NoError(t, g.Reserve(context.Background(), "x"))
	assert.True(t, mr.Exists("stage:txn:x"))

	assert.Error(t, g.Reserve(context.Background(), ""))
}
