package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redisstore "yuim/pkg/store/redis"
)

func TestBroadcastBackpressure(t *testing.T) {
	h := New()
	fast := NewConn("u1", "r1", nil, 2)
	slow := NewConn("u2", "r1", nil, 1)
	other := NewConn("u3", "r2", nil, 2)
	h.Join(fast)
	h.Join(slow)
	h.Join(other)
	h.Join(fast)
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 2, h.RoomLen("r1"))

	sent, dropped := h.Broadcast("r1", []byte("a"))
	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, dropped)

	sent, dropped = h.Broadcast("r1", []byte("b"))
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, dropped)
	assert.Len(t, other.Out, 0)

	sent, _ = h.Broadcast("nobody", []byte("c"))
	assert.Zero(t, sent)

	h.Leave(slow)
	h.Leave(slow)
	assert.Equal(t, 2, h.Len())
	_, open := <-slow.Out
	assert.True(t, open) // buffered "a" still drains
	_, open = <-slow.Out
	assert.False(t, open)

	h.Leave(other)
	assert.Zero(t, h.RoomLen("r2"))
}

func wsServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(NewConn("u1", r.URL.Query().Get("room_id"), ws, 8), time.Second, 0)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room_id=" + room
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestServeDeliversAndCleansUp(t *testing.T) {
	h := New()
	srv := wsServer(t, h)
	ws := dial(t, srv, "r1")
	require.Eventually(t, func() bool { return h.RoomLen("r1") == 1 }, time.Second, 5*time.Millisecond)

	h.Broadcast("r1", []byte(`{"t":"chat"}`))
	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	_, b, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":"chat"}`, string(b))

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSubscribeFansRedisIntoHub(t *testing.T) {
	mr := miniredis.RunT(t)
	st, err := redisstore.New(redisstore.Settings{Addr: mr.Addr()})
	require.NoError(t, err)
	defer st.Close()

	h := New()
	c := NewConn("u1", "r1", nil, 4)
	h.Join(c)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- Subscribe(ctx, st.Client(), st, h, zap.NewNop(), func() { close(ready) }) }()
	<-ready

	mr.Publish(st.RoomChannel("r1"), `{"room_id":"r1"}`)
	mr.Publish(st.RoomChannel("r2"), `{"room_id":"r2"}`)
	select {
	case b := <-c.Out:
		assert.JSONEq(t, `{"room_id":"r1"}`, string(b))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	assert.Never(t, func() bool { return len(c.Out) > 0 }, 50*time.Millisecond, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestRunResubscribesAfterRedisComesBack(t *testing.T) {
	mr := miniredis.RunT(t)
	st, err := redisstore.New(redisstore.Settings{Addr: mr.Addr()})
	require.NoError(t, err)
	defer st.Close()
	mr.Close()

	h := New()
	c := NewConn("u1", "r1", nil, 4)
	h.Join(c)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, st.Client(), st, h, zap.NewNop(), RunOptions{
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
			Ready:           ready,
		})
	}()

	// Redis is down: the subscriber keeps trying instead of giving up
	select {
	case err := <-done:
		t.Fatalf("subscriber gave up while redis was down: %v", err)
	case <-ready:
		t.Fatal("subscribed without redis")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, mr.Restart())
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not recover")
	}

	mr.Publish(st.RoomChannel("r1"), `{"room_id":"r1"}`)
	select {
	case b := <-c.Out:
		assert.JSONEq(t, `{"room_id":"r1"}`, string(b))
	case <-time.After(time.Second):
		t.Fatal("no message delivered after recovery")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
}
