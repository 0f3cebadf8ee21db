package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sony/sonyflake"
	"go.uber.org/zap"

	"yuim/internal/auth"
	"yuim/internal/breaker"
	"yuim/internal/config"
	"yuim/internal/db"
	"yuim/internal/httpapi"
	"yuim/internal/hub"
	"yuim/internal/metrics"
	"yuim/internal/relay"
	"yuim/internal/repo"
	"yuim/pkg/abuse"
	"yuim/pkg/keyring"
	"yuim/pkg/replay"
	redisstore "yuim/pkg/store/redis"
	"yuim/pkg/transport"
)

var (
	// Version is injected via -ldflags "-X main.Version=..."
	Version = "dev"
)

func main() {
	var cfgPaths string
	flag.StringVar(&cfgPaths, "c", "./config.yml", "config file path (supports: a.yml,b.yml)")
	flag.Parse()

	cfg, err := config.Load(cfgPaths)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("load config failed", zap.Error(err))
	}
	log := newLogger(cfg)
	defer log.Sync()
	log.Info("im-relay starting", zap.String("version", Version), zap.String("addr", cfg.HTTP.Addr))

	metrics.Register()

	store, err := redisstore.New(cfg.Redis)
	if err != nil {
		log.Fatal("redis init failed", zap.Error(err))
	}
	defer store.Close()

	database, err := db.Open(db.Options{
		Driver:       cfg.DB.Driver,
		DSN:          cfg.DB.DSN,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		MaxIdleConns: cfg.DB.MaxIdleConns,
		ConnMaxLife:  cfg.DB.ConnMaxLife,
		ConnMaxIdle:  cfg.DB.ConnMaxIdle,
	})
	if err != nil {
		log.Fatal("db init failed", zap.Error(err))
	}
	defer database.Close()

	keys, err := keyring.New(cfg.Signing.Keys, cfg.Signing.CurrentKID)
	if err != nil {
		log.Fatal("signing keys invalid", zap.Error(err))
	}

	adapters, err := transport.Build(cfg.Transports, transport.Deps{Redis: store.Client(), Keys: store}, log)
	if err != nil {
		log.Fatal("transport init failed", zap.Error(err))
	}
	var brk *breaker.Breaker
	if cfg.Breaker.Enabled {
		brk = breaker.New(cfg.Breaker.Options)
	}
	fan := transport.NewFanout(adapters, transport.FanoutOptions{Timeout: cfg.Transports.Timeout, Breaker: brk}, log)
	defer fan.Close()

	sf, err := sonyflake.New(sonyflake.Settings{})
	if err != nil {
		log.Fatal("sonyflake init failed", zap.Error(err))
	}

	svc, err := relay.NewService(relay.Deps{
		Directory: repo.NewDirectory(database.DB, database.Driver),
		Viewers:   store,
		Replay: replay.New(store.Client(), replay.Options{
			TTL:     cfg.Replay.TTL,
			Timeout: cfg.Timeouts.Replay,
			Key:     store.TxnKey,
		}),
		Limiter: abuse.NewRateLimiter(store.Client(), abuse.LimiterOptions{
			Limit:   cfg.RateLimit.Limit,
			Window:  cfg.RateLimit.Window,
			Timeout: cfg.Timeouts.RateLimit,
			Key:     store.RateKey,
		}),
		Sampler: abuse.NewSampler(store.Client(), abuse.SamplerOptions{
			Types:        cfg.Sampling.Types,
			Threshold:    cfg.Sampling.Threshold,
			Rate:         *cfg.Sampling.Rate,
			ExemptRoles:  cfg.Sampling.ExemptRoles,
			ExemptTitles: cfg.Sampling.ExemptTitles,
			Cooldown:     cfg.Sampling.Cooldown,
			Timeout:      cfg.Timeouts.RateLimit,
			NotifyKey:    store.NotifyKey,
		}),
		Keyring:   keys,
		Publisher: fan,
		IDs:       sf,
	}, relay.Options{LookupTimeout: cfg.Timeouts.Lookup}, log)
	if err != nil {
		log.Fatal("relay init failed", zap.Error(err))
	}

	authn, err := newAuthenticator(cfg, store)
	if err != nil {
		log.Fatal("auth init failed", zap.Error(err))
	}
	if authn == nil {
		log.Warn("auth disabled: sender id is taken from X-Uid or ?uid=")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.New()
	go func() {
		if err := hub.Run(ctx, store.Client(), store, h, log, hub.RunOptions{}); err != nil {
			log.Error("room subscriber stopped", zap.Error(err))
		}
	}()

	api := httpapi.NewServer(httpapi.Deps{
		Relay:    svc,
		Hub:      h,
		Backfill: store,
		Auth: auth.Config{
			Enabled:      cfg.Auth.Enabled,
			Header:       cfg.Auth.Token.Header,
			BearerPrefix: cfg.Auth.Token.BearerPrefix,
			QueryKey:     cfg.Auth.Token.QueryKey,
			Timeout:      cfg.Timeouts.Auth,
			PublicPaths:  cfg.Auth.PublicPaths,
		},
		Authn:  authn,
		Health: store.Ping,
	}, httpapi.Options{
		InternalToken:   cfg.InternalToken,
		WSQueue:         cfg.Hub.QueueSize,
		WSWriteTimeout:  cfg.Hub.WriteTimeout,
		WSPingInterval:  cfg.Hub.PingInterval,
		BackfillDefault: cfg.Backfill.DefaultLimit,
		BackfillMax:     cfg.Backfill.MaxLimit,
	}, log)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info("im-relay listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.Strings("transports", fan.Adapters()),
		zap.String("kid", keys.CurrentKID()),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("im-relay stopped")
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if cfg.IsDev() {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// newAuthenticator returns nil when auth is disabled; the router then trusts X-Uid.
func newAuthenticator(cfg *config.Config, store *redisstore.Store) (auth.Authenticator, error) {
	if !cfg.Auth.Enabled {
		return nil, nil
	}
	if cfg.Auth.Mode == "jwt" {
		v, err := auth.NewJWTVerifier(cfg.Auth.JWT.Secret, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.Audience)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return &auth.SessionStore{RedisPrefix: cfg.Auth.Token.RedisPrefix, Store: store}, nil
}
