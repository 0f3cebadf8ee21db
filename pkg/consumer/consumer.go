// Package consumer is the receiving side of the envelope contract: it checks the
// version and room, drops duplicates that arrive over more than one transport,
// optionally verifies signatures, and keeps a bounded window of recent envelopes.
package consumer

import (
	"errors"
	"fmt"
	"sync"

	"yuim/pkg/envelope"
	"yuim/pkg/keyring"
)

var (
	ErrVersion      = errors.New("consumer: unsupported envelope version")
	ErrRoomMismatch = errors.New("consumer: envelope for another room")
	ErrDuplicate    = errors.New("consumer: duplicate txn_id")
	ErrSignature    = errors.New("consumer: bad signature")
	ErrMalformed    = errors.New("consumer: malformed envelope")
)

type Options struct {
	// RoomID, when set, rejects envelopes for any other room.
	RoomID string
	// BufferSize bounds Recent(); the oldest envelope is evicted first.
	BufferSize int
	// DedupeSize bounds the remembered txn ids.
	DedupeSize int
	// Keyring enables signature verification.
	Keyring *keyring.Keyring
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 200
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = 4 * o.BufferSize
	}
	return o
}

type Consumer struct {
	opts Options

	mu   sync.Mutex
	buf  []*envelope.Envelope // ring
	head int
	n    int

	seen  map[string]struct{}
	order []string // FIFO of seen txn ids
	next  int
}

func New(opts Options) *Consumer {
	opts = opts.withDefaults()
	return &Consumer{
		opts:  opts,
		buf:   make([]*envelope.Envelope, opts.BufferSize),
		seen:  make(map[string]struct{}, opts.DedupeSize),
		order: make([]string, 0, opts.DedupeSize),
	}
}

// Accept decodes raw and applies every check. Rejected envelopes are not buffered.
func (c *Consumer) Accept(raw []byte) (*envelope.Envelope, error) {
	env, err := envelope.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := c.AcceptEnvelope(env); err != nil {
		return env, err
	}
	return env, nil
}

func (c *Consumer) AcceptEnvelope(env *envelope.Envelope) error {
	if env == nil {
		return ErrMalformed
	}
	if env.V != envelope.Version {
		return fmt.Errorf("%w: %d", ErrVersion, env.V)
	}
	c.mu.Lock()
	room := c.opts.RoomID
	c.mu.Unlock()
	if room != "" && env.RoomID != room {
		return fmt.Errorf("%w: %q", ErrRoomMismatch, env.RoomID)
	}
	if env.TxnID == "" {
		return fmt.Errorf("%w: missing txn_id", ErrMalformed)
	}
	if c.opts.Keyring != nil {
		if err := envelope.Verify(env, c.opts.Keyring); err != nil {
			return fmt.Errorf("%w: %v", ErrSignature, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Reset may have switched rooms while the signature was being checked
	if c.opts.RoomID != "" && env.RoomID != c.opts.RoomID {
		return fmt.Errorf("%w: %q", ErrRoomMismatch, env.RoomID)
	}
	if _, dup := c.seen[env.TxnID]; dup {
		return ErrDuplicate
	}
	c.remember(env.TxnID)
	c.push(env)
	return nil
}

func (c *Consumer) remember(txnID string) {
	if len(c.order) < c.opts.DedupeSize {
		c.order = append(c.order, txnID)
	} else {
		delete(c.seen, c.order[c.next])
		c.order[c.next] = txnID
		c.next = (c.next + 1) % c.opts.DedupeSize
	}
	c.seen[txnID] = struct{}{}
}

func (c *Consumer) push(env *envelope.Envelope) {
	size := len(c.buf)
	c.buf[(c.head+c.n)%size] = env
	if c.n < size {
		c.n++
		return
	}
	c.head = (c.head + 1) % size
}

// Recent returns the buffered envelopes, oldest first.
func (c *Consumer) Recent() []*envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*envelope.Envelope, 0, c.n)
	for i := 0; i < c.n; i++ {
		out = append(out, c.buf[(c.head+i)%len(c.buf)])
	}
	return out
}

func (c *Consumer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset clears the buffer and the dedupe window, e.g. when switching rooms.
func (c *Consumer) Reset(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.RoomID = roomID
	for i := range c.buf {
		c.buf[i] = nil
	}
	c.head, c.n = 0, 0
	c.seen = make(map[string]struct{}, c.opts.DedupeSize)
	c.order = c.order[:0]
	c.next = 0
}
