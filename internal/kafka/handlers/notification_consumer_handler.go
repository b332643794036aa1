package kafkahandlers

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	internalkafka "friends-go/internal/kafka"
	"friends-go/internal/models"
)

// Deliverer hands an event over for pushing to the recipient's connection on this instance.
// It reports false only when the event was dropped because the delivery queue is full.
// Recipients that are not connected here are skipped later, after the hand-over.
type Deliverer interface {
	DeliverNotification(event models.NotificationEvent) bool
}

// NotificationConsumerLogic turns consumed notification messages into realtime pushes.
type NotificationConsumerLogic struct {
	deliverer Deliverer
	logger    *zap.Logger
}

// NewNotificationConsumerLogic creates a new instance of NotificationConsumerLogic.
func NewNotificationConsumerLogic(d Deliverer, logger *zap.Logger) *NotificationConsumerLogic {
	if d == nil {
		logger.Panic("Deliverer cannot be nil")
	}
	return &NotificationConsumerLogic{deliverer: d, logger: logger.Named("notification-consumer")}
}

// HandleNotification is the MessageHandler passed to the Kafka consumer.
// Undecodable messages are logged and committed; they would never succeed on retry.
func (h *NotificationConsumerLogic) HandleNotification(_ context.Context, msg *kafka.Message) error {
	event, err := internalkafka.DecodeNotification(msg.Value)
	if err != nil {
		h.logger.Warn("skipping malformed notification",
			zap.ByteString("key", msg.Key),
			zap.Int("size", len(msg.Value)),
			zap.Error(err))
		return nil
	}

	if !h.deliverer.DeliverNotification(event) {
		h.logger.Warn("notification dropped, delivery queue full",
			zap.String("type", string(event.Type)),
			zap.Stringer("recipient", event.RecipientID))
		return nil
	}

	h.logger.Debug("notification queued for push",
		zap.String("type", string(event.Type)),
		zap.Stringer("recipient", event.RecipientID))
	return nil
}
