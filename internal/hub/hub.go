package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"yuim/internal/metrics"
)

type Conn struct {
	UID  string
	Room string
	WS   *websocket.Conn
	// bounded outbound queue (backpressure)
	Out chan []byte

	closeOnce sync.Once
}

func NewConn(uid, room string, ws *websocket.Conn, queue int) *Conn {
	if queue <= 0 {
		queue = 256
	}
	return &Conn{UID: uid, Room: room, WS: ws, Out: make(chan []byte, queue)}
}

// Hub indexes live websocket subscribers by room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	n     int
}

func New() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(c *Conn) {
	h.mu.Lock()
	set, ok := h.rooms[c.Room]
	if !ok {
		set = make(map[*Conn]struct{})
		h.rooms[c.Room] = set
	}
	if _, dup := set[c]; !dup {
		set[c] = struct{}{}
		h.n++
	}
	n := h.n
	h.mu.Unlock()
	metrics.OnlineConns.Set(float64(n))
}

// Leave removes c and closes its queue, which stops its write loop. Safe to call twice.
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	if set, ok := h.rooms[c.Room]; ok {
		if _, in := set[c]; in {
			delete(set, c)
			h.n--
			if len(set) == 0 {
				delete(h.rooms, c.Room)
			}
		}
	}
	c.closeOnce.Do(func() { close(c.Out) })
	n := h.n
	h.mu.Unlock()
	metrics.OnlineConns.Set(float64(n))
}

// Broadcast queues b to every subscriber of room without blocking. A subscriber
// whose queue is full misses this message.
func (h *Hub) Broadcast(room string, b []byte) (sent, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.Out <- b:
			sent++
		default:
			dropped++
		}
	}
	if sent > 0 {
		metrics.WSPushOK.Add(float64(sent))
	}
	if dropped > 0 {
		metrics.WSPushBackpressure.Add(float64(dropped))
	}
	return sent, dropped
}

func (h *Hub) Len() int {
	h.mu.RLock()
	n := h.n
	h.mu.RUnlock()
	return n
}

func (h *Hub) RoomLen(room string) int {
	h.mu.RLock()
	n := len(h.rooms[room])
	h.mu.RUnlock()
	return n
}

// Serve pumps c until the peer goes away or the hub drops it. It blocks; the
// caller's goroutine becomes the read loop.
func (h *Hub) Serve(c *Conn, writeTimeout, pingEvery time.Duration) {
	h.Join(c)
	done := make(chan struct{})
	go func() {
		defer close(done)
		writeLoop(c, writeTimeout, pingEvery)
		// a failed write must also unblock the read loop below
		_ = c.WS.Close()
	}()

	if pingEvery > 0 {
		wait := pingEvery * 2
		_ = c.WS.SetReadDeadline(time.Now().Add(wait))
		c.WS.SetPongHandler(func(string) error {
			return c.WS.SetReadDeadline(time.Now().Add(wait))
		})
	}
	c.WS.SetReadLimit(4096)
	for {
		// subscribers only listen; anything they send is discarded
		if _, _, err := c.WS.ReadMessage(); err != nil {
			break
		}
	}
	h.Leave(c)
	<-done
}

func writeLoop(c *Conn, wt time.Duration, pingEvery time.Duration) {
	var tick <-chan time.Time
	if pingEvery > 0 {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case b, ok := <-c.Out:
			if !ok {
				_ = c.WS.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wt))
				return
			}
			_ = c.WS.SetWriteDeadline(time.Now().Add(wt))
			if err := c.WS.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-tick:
			if err := c.WS.WriteControl(websocket.PingMessage, nil, time.Now().Add(wt)); err != nil {
				return
			}
		}
	}
}
