package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Requests by outcome code: ok, SAMPLING_ACTIVE, REPLAY_ERROR, ...
	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_relay_requests_total",
		Help: "Total message submissions by result code.",
	}, []string{"code"})

	SubmitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "im_relay_submit_seconds",
		Help:    "Submit handling latency.",
		Buckets: prometheus.DefBuckets,
	})

	RateLimitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_relay_ratelimit_store_errors_total",
		Help: "Rate limit checks skipped because the store failed (fail-open).",
	})
	ViewerCountErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_relay_viewercount_errors_total",
		Help: "Participant count reads that failed and were treated as zero.",
	})
	Announcements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_relay_high_traffic_announcements_total",
		Help: "High traffic sys envelopes broadcast.",
	})

	PublishOK = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_relay_publish_ok_total",
		Help: "Successful adapter publishes.",
	}, []string{"adapter"})
	PublishFail = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_relay_publish_fail_total",
		Help: "Failed adapter publishes.",
	}, []string{"adapter"})
	PublishSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_relay_publish_breaker_skip_total",
		Help: "Publishes skipped because the adapter breaker was open.",
	}, []string{"adapter"})
	PublishLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "im_relay_publish_seconds",
		Help:    "Adapter publish latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"adapter"})

	OnlineConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "im_relay_ws_online_conns",
		Help: "Current websocket subscriber connections.",
	})
	WSPushOK = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_relay_ws_push_ok_total",
		Help: "Envelopes queued to websocket subscribers.",
	})
	WSPushBackpressure = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_relay_ws_push_backpressure_total",
		Help: "Envelopes dropped because a subscriber queue was full.",
	})

	JobConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_relay_job_consumed_total",
		Help: "Envelopes consumed from the durable log.",
	})
	JobRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_relay_job_rejected_total",
		Help: "Envelopes rejected by the consumer checks.",
	}, []string{"reason"})
	JobForwardOK = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_relay_job_forward_ok_total",
		Help: "Envelopes forwarded to edge nodes.",
	})
	JobForwardFail = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_relay_job_forward_fail_total",
		Help: "Edge forward failures.",
	})
	BreakerOpen = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_relay_breaker_open_total",
		Help: "Times a circuit breaker opened.",
	}, []string{"key"})
)

var once sync.Once

// Register is idempotent so tests and both binaries can call it.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			Requests, SubmitLatency,
			RateLimitErrors, ViewerCountErrors, Announcements,
			PublishOK, PublishFail, PublishSkipped, PublishLatency,
			OnlineConns, WSPushOK, WSPushBackpressure,
			JobConsumed, JobRejected, JobForwardOK, JobForwardFail,
			BreakerOpen,
		)
	})
}
