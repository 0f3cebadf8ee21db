package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"yuim/pkg/envelope"
)

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" env:"RELAY_KAFKA_BROKERS" env-separator:","`
	Topic        string        `yaml:"topic"`
	Group        string        `yaml:"group"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka appends envelopes to a topic keyed by room so a room stays on one
// partition and keeps its order.
type Kafka struct {
	w messageWriter
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: missing brokers")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: missing topic")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
	}}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Publish(ctx context.Context, channel, event string, env *envelope.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(channel),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event)},
			{Key: "t", Value: []byte(env.T)},
			{Key: "kid", Value: []byte(env.Kid)},
			{Key: "txn_id", Value: []byte(env.TxnID)},
		},
	})
}

func (k *Kafka) Close() error { return k.w.Close() }
