package comet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yuim/internal/breaker"
	"yuim/internal/metrics"
)

var ErrEdgeSkipped = errors.New("comet: edge breaker open")

// Forwarder is satisfied by *HTTPSender.
type Forwarder interface {
	Forward(ctx context.Context, edgeAddr, channel string, envelope []byte) error
}

// Edges forwards to every edge node, skipping nodes whose breaker is open.
type Edges struct {
	send    Forwarder
	addrs   []string
	breaker *breaker.Breaker
	log     *zap.Logger
	limit   int
}

func NewEdges(send Forwarder, addrs []string, br *breaker.Breaker, log *zap.Logger) *Edges {
	if log == nil {
		log = zap.NewNop()
	}
	return &Edges{send: send, addrs: append([]string(nil), addrs...), breaker: br, log: log, limit: 16}
}

func (e *Edges) Addrs() []string { return append([]string(nil), e.addrs...) }

// Broadcast returns one error per failed or skipped edge.
func (e *Edges) Broadcast(ctx context.Context, channel string, envelope []byte) []error {
	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(addr string, err error) {
		mu.Lock()
		errs = append(errs, fmt.Errorf("edge %s: %w", addr, err))
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(e.limit)
	for _, addr := range e.addrs {
		g.Go(func() error {
			if !e.breaker.Allow(addr) {
				fail(addr, ErrEdgeSkipped)
				return nil
			}
			if err := e.send.Forward(ctx, addr, channel, envelope); err != nil {
				metrics.JobForwardFail.Inc()
				if e.breaker.Failure(addr) {
					metrics.BreakerOpen.WithLabelValues(addr).Inc()
					e.log.Warn("edge breaker opened", zap.String("edge", addr))
				}
				e.log.Warn("edge forward failed", zap.String("edge", addr), zap.String("channel", channel), zap.Error(err))
				fail(addr, err)
				return nil
			}
			e.breaker.Success(addr)
			metrics.JobForwardOK.Inc()
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
