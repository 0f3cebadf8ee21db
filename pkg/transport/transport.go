// Package transport delivers sealed envelopes to broadcast and durable backends.
package transport

import (
	"context"
	"errors"
	"fmt"

	"yuim/pkg/envelope"
)

// EventMessage is the event name every envelope is published under.
const EventMessage = "message"

var (
	ErrNotConfigured = errors.New("transport: not configured")
	ErrBreakerOpen   = errors.New("transport: breaker open")
)

// Adapter is one delivery backend. Publish must honour ctx cancellation and
// must not modify env.
type Adapter interface {
	Name() string
	Publish(ctx context.Context, channel, event string, env *envelope.Envelope) error
}

// PublishError ties a failure to the adapter that produced it.
type PublishError struct {
	Adapter string
	Err     error
}

func (e *PublishError) Error() string { return fmt.Sprintf("transport %s: %v", e.Adapter, e.Err) }

func (e *PublishError) Unwrap() error { return e.Err }
