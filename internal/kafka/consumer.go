package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"friends-go/internal/config"
)

// MessageHandler is a function type for processing consumed Kafka messages.
// Returning nil commits the message offset.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
	logger   *zap.Logger
}

// NewConfluentKafkaConsumer prepares a consumer; the client itself is created by Consume.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig, logger *zap.Logger) (MessageConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: no brokers configured")
	}
	return &confluentKafkaConsumer{cfg: cfg, logger: logger.Named("kafka-consumer")}, nil
}

// ConsumerConfigMap builds the librdkafka settings for a manually committing consumer.
func ConsumerConfigMap(cfg config.KafkaConfig, groupID string) *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(cfg.Brokers, ","),
		"group.id":           groupID,
		"auto.offset.reset":  "latest", // 只推送上线后的通知
		"enable.auto.commit": "false",
		"security.protocol":  cfg.Protocol,
	}
	if cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", cfg.ClientID)
	}
	return configMap
}

// Consume starts consuming messages from the specified topics and group.
// This method will block until the context is canceled or a fatal error occurs.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	c.groupID = groupID
	log := c.logger.With(zap.String("group", groupID), zap.Strings("topics", topics))

	consumer, err := kafka.NewConsumer(ConsumerConfigMap(c.cfg, groupID))
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}

	log.Info("kafka consumer started")

	for {
		select {
		case <-ctx.Done():
			log.Info("context canceled, stopping consumer")
			return nil
		default:
		}

		ev := c.consumer.Poll(1000)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				log.Warn("error processing kafka message",
					zap.String("topic", *e.TopicPartition.Topic),
					zap.Int32("partition", e.TopicPartition.Partition),
					zap.String("offset", e.TopicPartition.Offset.String()),
					zap.Error(err))
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				log.Warn("failed to commit offset", zap.String("offset", e.TopicPartition.Offset.String()), zap.Error(err))
			}
		case kafka.Error:
			log.Warn("kafka consumer error", zap.Error(e), zap.Int("code", int(e.Code())), zap.Bool("fatal", e.IsFatal()))
			if e.IsFatal() {
				return e
			}
		case kafka.AssignedPartitions:
			log.Info("partitions assigned", zap.Int("count", len(e.Partitions)))
			_ = c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			log.Info("partitions revoked", zap.Int("count", len(e.Partitions)))
			_ = c.consumer.Unassign()
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		c.logger.Warn("error closing kafka consumer", zap.String("group", c.groupID), zap.Error(err))
	} else {
		c.logger.Info("kafka consumer closed", zap.String("group", c.groupID))
	}
	c.consumer = nil
}
