package transport

import (
	"context"
	"encoding/json"
	"fmt"

	rmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"

	"yuim/pkg/envelope"
)

type RocketMQConfig struct {
	NameServer string `yaml:"name_server" env:"RELAY_ROCKETMQ_NAMESERVER"`
	Group      string `yaml:"group"`
	Topic      string `yaml:"topic"`
	AccessKey  string `yaml:"access_key" env:"RELAY_ROCKETMQ_ACCESS_KEY"`
	SecretKey  string `yaml:"secret_key" env:"RELAY_ROCKETMQ_SECRET_KEY"`
	Retry      int    `yaml:"retry"`
}

type syncSender interface {
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
	Shutdown() error
}

// RocketMQ appends envelopes to a topic, tagged by event type and keyed by room.
type RocketMQ struct {
	topic string
	p     syncSender
}

func NewRocketMQ(cfg RocketMQConfig) (*RocketMQ, error) {
	if cfg.NameServer == "" {
		return nil, fmt.Errorf("rocketmq: missing name_server")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("rocketmq: missing group")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("rocketmq: missing topic")
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 2
	}
	opts := []producer.Option{
		producer.WithNameServer([]string{cfg.NameServer}),
		producer.WithGroupName(cfg.Group),
		producer.WithRetry(cfg.Retry),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, producer.WithCredentials(primitive.Credentials{
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		}))
	}
	prd, err := rmq.NewProducer(opts...)
	if err != nil {
		return nil, err
	}
	if err := prd.Start(); err != nil {
		return nil, err
	}
	return &RocketMQ{topic: cfg.Topic, p: prd}, nil
}

func (r *RocketMQ) Name() string { return "rocketmq" }

func (r *RocketMQ) Publish(ctx context.Context, channel, _ string, env *envelope.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	m := primitive.NewMessage(r.topic, b)
	m.WithTag(string(env.T))
	m.WithKeys([]string{channel, env.TxnID})
	_, err = r.p.SendSync(ctx, m)
	return err
}

func (r *RocketMQ) Close() error {
	if r.p != nil {
		return r.p.Shutdown()
	}
	return nil
}
