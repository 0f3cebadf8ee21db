package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	// Enabled lists adapter names in publish order, e.g. [redis_pubsub, redis_stream].
	Enabled    []string         `yaml:"enabled" env:"RELAY_TRANSPORTS" env-separator:","`
	Timeout    time.Duration    `yaml:"timeout"`
	Stream     StreamOptions    `yaml:"stream"`
	RocketMQ   RocketMQConfig   `yaml:"rocketmq"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Centrifugo CentrifugoConfig `yaml:"centrifugo"`
}

// Deps are the shared clients adapters may need.
type Deps struct {
	Redis redis.Cmdable
	Keys  Keys
}

// Build assembles the configured adapters. Adding a backend means one case here.
func Build(cfg Config, deps Deps, log *zap.Logger) ([]Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var out []Adapter
	seen := map[string]bool{}
	for _, name := range cfg.Enabled {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		var (
			a   Adapter
			err error
		)
		switch name {
		case "redis_pubsub", "redis_stream":
			if deps.Redis == nil || deps.Keys == nil {
				err = ErrNotConfigured
				break
			}
			if name == "redis_pubsub" {
				a = NewRedisPubSub(deps.Redis, deps.Keys)
			} else {
				a = NewRedisStream(deps.Redis, deps.Keys, cfg.Stream)
			}
		case "rocketmq":
			a, err = NewRocketMQ(cfg.RocketMQ)
		case "kafka":
			a, err = NewKafka(cfg.Kafka)
		case "centrifugo":
			a, err = NewCentrifugo(cfg.Centrifugo)
		default:
			err = fmt.Errorf("unknown transport %q", name)
		}
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		log.Info("transport enabled", zap.String("adapter", name))
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no transports enabled: %w", ErrNotConfigured)
	}
	return out, nil
}

func closeAll(as []Adapter) {
	_ = NewFanout(as, FanoutOptions{}, nil).Close()
}
