// Package bridge moves envelopes from the durable log to the edge nodes. Each
// envelope is checked, deduplicated across job instances and forwarded raw.
package bridge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"yuim/internal/metrics"
	"yuim/pkg/consumer"
)

// Deduper remembers txn ids across job instances; *redisstore.Store fits.
type Deduper interface {
	DedupeTxn(ctx context.Context, txnID string, ttl time.Duration) (bool, error)
}

// Broadcaster delivers to all edges; *comet.Edges fits.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, envelope []byte) []error
}

type Options struct {
	DedupeTTL     time.Duration
	DedupeTimeout time.Duration
}

type Bridge struct {
	check *consumer.Consumer
	dedup Deduper
	out   Broadcaster
	opts  Options
	log   *zap.Logger
}

func New(check *consumer.Consumer, dedup Deduper, out Broadcaster, opts Options, log *zap.Logger) *Bridge {
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = 15 * time.Minute
	}
	if opts.DedupeTimeout <= 0 {
		opts.DedupeTimeout = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{check: check, dedup: dedup, out: out, opts: opts, log: log}
}

// Handle processes one message body. Rejected messages are dropped, not retried:
// the returned error is for logging and tests only.
func (b *Bridge) Handle(ctx context.Context, raw []byte) error {
	metrics.JobConsumed.Inc()

	env, err := b.check.Accept(raw)
	if err != nil {
		reason := rejectReason(err)
		metrics.JobRejected.WithLabelValues(reason).Inc()
		if reason != "duplicate" {
			b.log.Warn("envelope rejected", zap.String("reason", reason), zap.Error(err))
		}
		return err
	}

	if b.dedup != nil {
		dctx, cancel := context.WithTimeout(ctx, b.opts.DedupeTimeout)
		first, err := b.dedup.DedupeTxn(dctx, env.TxnID, b.opts.DedupeTTL)
		cancel()
		switch {
		case err != nil:
			// store down: deliver anyway, clients dedupe by txn_id
			b.log.Warn("dedupe unavailable", zap.String("txn_id", env.TxnID), zap.Error(err))
		case !first:
			metrics.JobRejected.WithLabelValues("duplicate").Inc()
			return consumer.ErrDuplicate
		}
	}

	if errs := b.out.Broadcast(ctx, env.RoomID, raw); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, consumer.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, consumer.ErrSignature):
		return "signature"
	case errors.Is(err, consumer.ErrVersion):
		return "version"
	case errors.Is(err, consumer.ErrRoomMismatch):
		return "room"
	default:
		return "malformed"
	}
}
