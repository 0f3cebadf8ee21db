package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"yuim/internal/breaker"
	"yuim/internal/bridge"
	"yuim/internal/comet"
	"yuim/internal/config"
	"yuim/internal/metrics"
	"yuim/pkg/consumer"
	"yuim/pkg/keyring"
	redisstore "yuim/pkg/store/redis"
)

func main() {
	var cfgPaths string
	flag.StringVar(&cfgPaths, "c", "./config.yml", "config file path (supports: a.yml,b.yml)")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := config.Load(cfgPaths)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if len(cfg.Job.Edges) == 0 {
		log.Fatal("job.edges required")
	}

	metrics.Register()
	go serveMetrics(cfg.Metrics.Addr, log)

	store, err := redisstore.New(cfg.Redis)
	if err != nil {
		log.Fatal("redis init failed", zap.Error(err))
	}
	defer store.Close()

	keys, err := keyring.New(cfg.Signing.Keys, cfg.Signing.CurrentKID)
	if err != nil {
		log.Fatal("signing keys invalid", zap.Error(err))
	}

	var brk *breaker.Breaker
	if cfg.Breaker.Enabled {
		brk = breaker.New(cfg.Breaker.Options)
	}
	edges := comet.NewEdges(comet.NewHTTPSender(cfg.Job.Timeout, cfg.Job.PushPath, cfg.Job.PushToken), cfg.Job.Edges, brk, log)

	// Only authentic envelopes leave the job; the local window absorbs
	// redeliveries before the shared Redis check is consulted.
	b := bridge.New(
		consumer.New(consumer.Options{Keyring: keys, BufferSize: 1024}),
		store, edges,
		bridge.Options{DedupeTTL: cfg.Job.DedupeTTL},
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Job.Source {
	case "kafka":
		r, err := bridge.NewKafkaReader(cfg.Transports.Kafka, cfg.Job.ConsumerGroup)
		if err != nil {
			log.Fatal("kafka source init failed", zap.Error(err))
		}
		defer r.Close()
		log.Info("im-relay-job started", zap.String("source", "kafka"), zap.Strings("edges", edges.Addrs()))
		if err := bridge.RunKafka(ctx, r, b, log); err != nil {
			log.Error("kafka source stopped", zap.Error(err))
		}
	case "rocketmq":
		shutdown, err := bridge.StartRocketMQ(cfg.Transports.RocketMQ, cfg.Job.ConsumerGroup, b, log)
		if err != nil {
			log.Fatal("rocketmq source init failed", zap.Error(err))
		}
		log.Info("im-relay-job started", zap.String("source", "rocketmq"), zap.Strings("edges", edges.Addrs()))
		<-ctx.Done()
		log.Info("shutdown signal received")
		_ = shutdown()
	default:
		log.Fatal("unknown job.source", zap.String("source", cfg.Job.Source))
	}
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}
	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server error", zap.Error(err))
	}
}
