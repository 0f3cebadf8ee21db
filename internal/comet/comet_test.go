package comet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuim/internal/breaker"
)

func TestForwardPostsEnvelope(t *testing.T) {
	var got broadcastReq
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/broadcast", r.URL.Path)
		token = r.Header.Get("X-Internal-Token")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(time.Second, "", "tok")
	addr := strings.TrimPrefix(srv.URL, "http://") + "/"
	require.NoError(t, s.Forward(context.Background(), addr, "r1", []byte(`{"txn_id":"abc"}`)))
	assert.Equal(t, "tok", token)
	assert.Equal(t, "r1", got.Channel)
	assert.JSONEq(t, `{"txn_id":"abc"}`, string(got.Envelope))

	assert.Error(t, s.Forward(context.Background(), "", "r1", []byte(`{}`)))
}

func TestForwardNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	err := NewHTTPSender(time.Second, "/internal/broadcast", "").Forward(context.Background(), srv.URL, "r1", []byte(`{}`))
	assert.ErrorContains(t, err, "status=401")
}

type fakeForwarder struct {
	mu    sync.Mutex
	calls map[string]int
	down  map[string]bool
}

func (f *fakeForwarder) Forward(_ context.Context, addr, _ string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[addr]++
	if f.down[addr] {
		return errors.New("connection refused")
	}
	return nil
}

func TestEdgesBreakerSkipsDeadNode(t *testing.T) {
	f := &fakeForwarder{calls: map[string]int{}, down: map[string]bool{"b:7001": true}}
	br := breaker.New(breaker.Options{Threshold: 2, Window: time.Minute, OpenFor: time.Minute})
	e := NewEdges(f, []string{"a:7001", "b:7001"}, br, nil)

	for i := 0; i < 2; i++ {
		errs := e.Broadcast(context.Background(), "r1", []byte(`{}`))
		require.Len(t, errs, 1)
		assert.NotErrorIs(t, errs[0], ErrEdgeSkipped)
	}
	errs := e.Broadcast(context.Background(), "r1", []byte(`{}`))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrEdgeSkipped)

	assert.Equal(t, 3, f.calls["a:7001"])
	assert.Equal(t, 2, f.calls["b:7001"])
}

func TestEdgesConcurrent(t *testing.T) {
	var inflight, peak int32
	slow := forwardFunc(func() error {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return nil
	})
	e := NewEdges(slow, []string{"a", "b", "c", "d"}, nil, nil)
	assert.Empty(t, e.Broadcast(context.Background(), "r1", []byte(`{}`)))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
	assert.Equal(t, []string{"a", "b", "c", "d"}, e.Addrs())
}

type forwardFunc func() error

func (f forwardFunc) Forward(context.Context, string, string, []byte) error { return f() }
