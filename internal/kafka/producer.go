package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"friends-go/internal/config"
)

// MessageProducer defines the interface for a Kafka message producer.
type MessageProducer interface {
	SendMessage(ctx context.Context, topic string, key []byte, payload []byte) error
	Close()
}

// confluentKafkaProducer is an implementation of MessageProducer using confluent-kafka-go.
type confluentKafkaProducer struct {
	producer *kafka.Producer
	cfg      config.KafkaConfig
	logger   *zap.Logger
}

// ProducerConfigMap builds the librdkafka settings for the notification producer.
func ProducerConfigMap(cfg config.KafkaConfig) *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"security.protocol": cfg.Protocol,
		// 同一 key 的消息保持顺序
		"enable.idempotence": true,
	}
	if cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", cfg.ClientID)
	}
	if cfg.Acks != "" {
		_ = configMap.SetKey("acks", cfg.Acks)
	}
	if cfg.DeliveryTimeout > 0 {
		_ = configMap.SetKey("message.timeout.ms", int(cfg.DeliveryTimeout/time.Millisecond))
	}
	return configMap
}

// NewConfluentKafkaProducer creates a new Kafka producer instance using confluent-kafka-go.
func NewConfluentKafkaProducer(cfg config.KafkaConfig, logger *zap.Logger) (MessageProducer, error) {
	p, err := kafka.NewProducer(ProducerConfigMap(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	prod := &confluentKafkaProducer{producer: p, cfg: cfg, logger: logger.Named("kafka-producer")}
	go prod.watchErrors()
	return prod, nil
}

// watchErrors drains client-level events. Per-message reports go to the delivery channel.
func (p *confluentKafkaProducer) watchErrors() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case kafka.Error:
			p.logger.Warn("kafka producer error", zap.Error(ev), zap.Bool("fatal", ev.IsFatal()))
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.logger.Warn("late delivery failure", zap.Error(ev.TopicPartition.Error))
			}
		}
	}
}

// SendMessage sends a single message to the specified Kafka topic.
// It waits for the delivery report or for ctx to end, whichever comes first.
func (p *confluentKafkaProducer) SendMessage(ctx context.Context, topic string, key []byte, payload []byte) error {
	// Not closed: librdkafka may still write the report after ctx is done.
	deliveryChan := make(chan kafka.Event, 1)

	kafkaMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          payload,
		Timestamp:      time.Now(),
	}

	if err := p.producer.Produce(kafkaMsg, deliveryChan); err != nil {
		return fmt.Errorf("kafka producer failed to enqueue message for topic %s: %w", topic, err)
	}

	select {
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("kafka producer: unexpected event type received on delivery channel: %T %v", e, e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka producer: delivery failed for topic %s: %w", topic, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafka producer: context canceled while waiting for delivery report for topic %s: %w", topic, ctx.Err())
	}
}

// Close flushes any outstanding messages and closes the Kafka producer.
func (p *confluentKafkaProducer) Close() {
	if p.producer == nil {
		return
	}
	p.logger.Info("closing kafka producer")
	if remaining := p.producer.Flush(15 * 1000); remaining > 0 {
		p.logger.Warn("messages still outstanding after flush", zap.Int("remaining", remaining))
	}
	p.producer.Close()
	p.producer = nil
}
