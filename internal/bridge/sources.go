package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	rmq "github.com/apache/rocketmq-client-go/v2"
	rmqconsumer "github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"yuim/pkg/transport"
)

// RocketMQHandler adapts b to a push consumer callback. Every message is
// acknowledged: a rejected envelope will not get better on redelivery.
func RocketMQHandler(b *Bridge) func(context.Context, ...*primitive.MessageExt) (rmqconsumer.ConsumeResult, error) {
	return func(ctx context.Context, msgs ...*primitive.MessageExt) (rmqconsumer.ConsumeResult, error) {
		for _, m := range msgs {
			_ = b.Handle(ctx, m.Body)
		}
		return rmqconsumer.ConsumeSuccess, nil
	}
}

// StartRocketMQ subscribes a clustering consumer group to the envelope topic.
// The returned func shuts it down.
func StartRocketMQ(cfg transport.RocketMQConfig, group string, b *Bridge, log *zap.Logger) (func() error, error) {
	if cfg.NameServer == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("rocketmq source: name_server and topic required")
	}
	opts := []rmqconsumer.Option{
		rmqconsumer.WithNameServer([]string{cfg.NameServer}),
		rmqconsumer.WithGroupName(group),
		rmqconsumer.WithConsumerModel(rmqconsumer.Clustering),
		rmqconsumer.WithConsumeFromWhere(rmqconsumer.ConsumeFromLastOffset),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, rmqconsumer.WithCredentials(primitive.Credentials{
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		}))
	}
	c, err := rmq.NewPushConsumer(opts...)
	if err != nil {
		return nil, err
	}
	selector := rmqconsumer.MessageSelector{Type: rmqconsumer.TAG, Expression: "*"}
	if err := c.Subscribe(cfg.Topic, selector, RocketMQHandler(b)); err != nil {
		return nil, err
	}
	if err := c.Start(); err != nil {
		return nil, err
	}
	log.Info("rocketmq source started", zap.String("topic", cfg.Topic), zap.String("group", group))
	return c.Shutdown, nil
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaReader(cfg transport.KafkaConfig, group string) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka source: brokers and topic required")
	}
	if cfg.Group != "" {
		group = cfg.Group
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        group,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // commit synchronously after each handled message
	}), nil
}

// RunKafka handles messages until ctx is done. Offsets are committed after the
// envelope has been handled, so a crash redelivers rather than loses.
func RunKafka(ctx context.Context, r fetcher, b *Bridge, log *zap.Logger) error {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		_ = b.Handle(ctx, m.Value)
		if err := r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("kafka commit failed", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}
