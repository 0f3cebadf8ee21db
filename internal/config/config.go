package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"yuim/internal/breaker"
	redisstore "yuim/pkg/store/redis"
	"yuim/pkg/transport"
)

type Config struct {
	Env string `yaml:"env" env:"RELAY_ENV"`

	HTTP struct {
		Addr              string        `yaml:"addr" env:"RELAY_HTTP_ADDR"` // ":7001"
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Redis redisstore.Settings `yaml:"redis"`

	DB struct {
		Driver       string        `yaml:"driver" env:"RELAY_DB_DRIVER"` // mysql | pgx
		DSN          string        `yaml:"dsn" env:"RELAY_DB_DSN"`
		MaxOpenConns int           `yaml:"max_open_conns"`
		MaxIdleConns int           `yaml:"max_idle_conns"`
		ConnMaxLife  time.Duration `yaml:"conn_max_life"`
		ConnMaxIdle  time.Duration `yaml:"conn_max_idle"`
	} `yaml:"db"`

	Auth struct {
		Enabled bool   `yaml:"enabled" env:"RELAY_AUTH_ENABLED"`
		Mode    string `yaml:"mode" env:"RELAY_AUTH_MODE"` // session | jwt
		Token   struct {
			Header       string `yaml:"header"`
			BearerPrefix string `yaml:"bearer_prefix"`
			QueryKey     string `yaml:"query_key"`
			RedisPrefix  string `yaml:"redis_prefix"`
		} `yaml:"token"`
		JWT struct {
			Secret   string `yaml:"secret" env:"RELAY_JWT_SECRET"`
			Issuer   string `yaml:"issuer"`
			Audience string `yaml:"audience"`
		} `yaml:"jwt"`
		PublicPaths []string `yaml:"public_paths"`
	} `yaml:"auth"`

	Signing struct {
		CurrentKID string            `yaml:"current_kid" env:"RELAY_SIGNING_CURRENT_KID"`
		Keys       map[string]string `yaml:"keys" env:"RELAY_SIGNING_KEYS"` // k1:secret,k2:secret
	} `yaml:"signing"`

	Replay struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"replay"`

	RateLimit struct {
		Limit  int64         `yaml:"limit"`
		Window time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`

	Sampling struct {
		Types        []string      `yaml:"types"`
		Threshold    int64         `yaml:"threshold"`
		Rate         *int          `yaml:"rate"` // percent admitted while hot
		ExemptRoles  []string      `yaml:"exempt_roles"`
		ExemptTitles []string      `yaml:"exempt_titles"`
		Cooldown     time.Duration `yaml:"cooldown"`
	} `yaml:"sampling"`

	Timeouts struct {
		Auth      time.Duration `yaml:"auth"`
		Lookup    time.Duration `yaml:"lookup"`
		Replay    time.Duration `yaml:"replay"`
		RateLimit time.Duration `yaml:"rate_limit"`
		Publish   time.Duration `yaml:"publish"`
	} `yaml:"timeouts"`

	Transports transport.Config `yaml:"transports"`

	Breaker struct {
		Enabled         bool `yaml:"enabled"`
		breaker.Options `yaml:",inline"`
	} `yaml:"breaker"`

	Hub struct {
		QueueSize    int           `yaml:"queue_size"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		PingInterval time.Duration `yaml:"ping_interval"`
	} `yaml:"hub"`

	Backfill struct {
		DefaultLimit int64 `yaml:"default_limit"`
		MaxLimit     int64 `yaml:"max_limit"`
	} `yaml:"backfill"`

	Metrics struct {
		Addr string `yaml:"addr" env:"RELAY_METRICS_ADDR"`
	} `yaml:"metrics"`

	// Job configures cmd/im-relay-job.
	Job struct {
		Source        string        `yaml:"source" env:"RELAY_JOB_SOURCE"` // rocketmq | kafka
		Edges         []string      `yaml:"edges" env:"RELAY_JOB_EDGES" env-separator:","`
		PushPath      string        `yaml:"push_path"`
		PushToken     string        `yaml:"push_token"`
		Timeout       time.Duration `yaml:"timeout"`
		DedupeTTL     time.Duration `yaml:"dedupe_ttl"`
		ConsumerGroup string        `yaml:"consumer_group"`
	} `yaml:"job"`

	// InternalToken guards /internal/broadcast; empty disables the endpoint.
	InternalToken string `yaml:"internal_token" env:"RELAY_INTERNAL_TOKEN"`
}

// Load supports comma-separated config files: "-c common.yml,im-relay.yml".
// Later files override earlier ones, RELAY_* environment variables override files.
func Load(pathList string) (*Config, error) {
	if strings.TrimSpace(pathList) == "" {
		return nil, errors.New("config path required (e.g. -c ./config.yml or -c common.yml,im-relay.yml)")
	}
	var c Config
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config %s: %w", p, err)
		}
	}
	if err := cleanenv.ReadEnv(&c); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	c.applyDefaults()
	return &c, c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "prod"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":7001"
	}
	if c.HTTP.ReadHeaderTimeout == 0 {
		c.HTTP.ReadHeaderTimeout = 2 * time.Second
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "mysql"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "session"
	}
	if c.Auth.Token.Header == "" {
		c.Auth.Token.Header = "Authorization"
	}
	if c.Auth.Token.BearerPrefix == "" {
		c.Auth.Token.BearerPrefix = "Bearer "
	}
	if c.Auth.Token.QueryKey == "" {
		c.Auth.Token.QueryKey = "token"
	}
	if c.Auth.Token.RedisPrefix == "" {
		c.Auth.Token.RedisPrefix = "token:app:"
	}
	if c.Auth.PublicPaths == nil {
		c.Auth.PublicPaths = []string{"/healthz", "/metrics", "/internal/"}
	}

	if c.Replay.TTL == 0 {
		c.Replay.TTL = 15 * time.Minute
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = 5
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Second
	}

	if len(c.Sampling.Types) == 0 {
		c.Sampling.Types = []string{"chat"}
	}
	if c.Sampling.Threshold == 0 {
		c.Sampling.Threshold = 5000
	}
	if c.Sampling.Rate == nil {
		r := 20
		c.Sampling.Rate = &r
	}
	if c.Sampling.Cooldown == 0 {
		c.Sampling.Cooldown = 5 * time.Minute
	}

	if c.Timeouts.Auth == 0 {
		c.Timeouts.Auth = time.Second
	}
	if c.Timeouts.Lookup == 0 {
		c.Timeouts.Lookup = 2 * time.Second
	}
	if c.Timeouts.Replay == 0 {
		c.Timeouts.Replay = 500 * time.Millisecond
	}
	if c.Timeouts.RateLimit == 0 {
		c.Timeouts.RateLimit = 300 * time.Millisecond
	}
	if c.Timeouts.Publish == 0 {
		c.Timeouts.Publish = 2 * time.Second
	}
	if len(c.Transports.Enabled) == 0 {
		c.Transports.Enabled = []string{"redis_pubsub", "redis_stream"}
	}
	if c.Transports.Timeout == 0 {
		c.Transports.Timeout = c.Timeouts.Publish
	}
	if c.Transports.Stream.GlobalMaxLen == 0 {
		c.Transports.Stream.GlobalMaxLen = 1_000_000
	}
	if c.Transports.Stream.RoomMaxLen == 0 {
		c.Transports.Stream.RoomMaxLen = 1000
	}

	if c.Hub.QueueSize <= 0 {
		c.Hub.QueueSize = 256
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = 5 * time.Second
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = 30 * time.Second
	}
	if c.Backfill.DefaultLimit <= 0 {
		c.Backfill.DefaultLimit = 50
	}
	if c.Backfill.MaxLimit <= 0 {
		c.Backfill.MaxLimit = 500
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9101"
	}
	if c.Job.Source == "" {
		c.Job.Source = "rocketmq"
	}
	if c.Job.PushPath == "" {
		c.Job.PushPath = "/internal/broadcast"
	}
	if c.Job.PushToken == "" {
		c.Job.PushToken = c.InternalToken
	}
	if c.Job.Timeout == 0 {
		c.Job.Timeout = 2 * time.Second
	}
	if c.Job.DedupeTTL == 0 {
		c.Job.DedupeTTL = 15 * time.Minute
	}
	if c.Job.ConsumerGroup == "" {
		c.Job.ConsumerGroup = "im-relay-job"
	}
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if len(c.Signing.Keys) == 0 {
		return errors.New("signing.keys required")
	}
	if _, ok := c.Signing.Keys[c.Signing.CurrentKID]; !ok {
		return fmt.Errorf("signing.current_kid %q not in signing.keys", c.Signing.CurrentKID)
	}
	switch c.Auth.Mode {
	case "session":
	case "jwt":
		if c.Auth.Enabled && c.Auth.JWT.Secret == "" {
			return errors.New("auth.jwt.secret required in jwt mode")
		}
	default:
		return fmt.Errorf("auth.mode %q: want session or jwt", c.Auth.Mode)
	}
	switch c.DB.Driver {
	case "mysql", "pgx":
	default:
		return fmt.Errorf("db.driver %q: want mysql or pgx", c.DB.Driver)
	}
	if r := *c.Sampling.Rate; r < 0 || r > 100 {
		return fmt.Errorf("sampling.rate %d out of range 0..100", r)
	}
	// with auth off the sender id comes from the client, acceptable only in dev
	if !c.Auth.Enabled && !c.IsDev() {
		return fmt.Errorf("auth.enabled=false requires env: dev (env is %q)", c.Env)
	}
	return nil
}

func (c *Config) IsDev() bool { return c.Env == "dev" }
