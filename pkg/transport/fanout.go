package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"yuim/internal/breaker"
	"yuim/internal/metrics"
	"yuim/pkg/envelope"
)

type FanoutOptions struct {
	// Timeout bounds each adapter call separately.
	Timeout time.Duration
	// Breaker is optional; nil disables it.
	Breaker *breaker.Breaker
}

func (o FanoutOptions) withDefaults() FanoutOptions {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	return o
}

// Fanout publishes to every adapter concurrently and waits for all of them.
type Fanout struct {
	adapters []Adapter
	opts     FanoutOptions
	log      *zap.Logger
}

func NewFanout(adapters []Adapter, opts FanoutOptions, log *zap.Logger) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{adapters: adapters, opts: opts.withDefaults(), log: log}
}

func (f *Fanout) Adapters() []string {
	out := make([]string, 0, len(f.adapters))
	for _, a := range f.adapters {
		out = append(out, a.Name())
	}
	return out
}

// Publish returns one *PublishError per failed adapter. The caller's
// cancellation is not propagated: an accepted envelope is still delivered
// after the submitter goes away.
func (f *Fanout) Publish(ctx context.Context, channel, event string, env *envelope.Envelope) []error {
	ctx = context.WithoutCancel(ctx)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, a := range f.adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			if err := f.publishOne(ctx, a, channel, event, env); err != nil {
				mu.Lock()
				errs = append(errs, &PublishError{Adapter: a.Name(), Err: err})
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()

	for _, err := range errs {
		f.log.Warn("publish failed",
			zap.String("channel", channel),
			zap.String("txn_id", env.TxnID),
			zap.Error(err),
		)
	}
	return errs
}

func (f *Fanout) publishOne(ctx context.Context, a Adapter, channel, event string, env *envelope.Envelope) (err error) {
	name := a.Name()
	if !f.opts.Breaker.Allow(name) {
		metrics.PublishSkipped.WithLabelValues(name).Inc()
		return ErrBreakerOpen
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.New("adapter panic")
			f.log.Error("adapter panic", zap.String("adapter", name), zap.Any("panic", r))
		}
		if err != nil {
			metrics.PublishFail.WithLabelValues(name).Inc()
			if f.opts.Breaker.Failure(name) {
				metrics.BreakerOpen.WithLabelValues(name).Inc()
				f.log.Warn("adapter breaker opened", zap.String("adapter", name))
			}
			return
		}
		metrics.PublishOK.WithLabelValues(name).Inc()
		f.opts.Breaker.Success(name)
	}()

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()
	start := time.Now()
	err = a.Publish(ctx, channel, event, env)
	metrics.PublishLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

// Close closes every adapter that holds resources.
func (f *Fanout) Close() error {
	var errs []error
	for _, a := range f.adapters {
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
