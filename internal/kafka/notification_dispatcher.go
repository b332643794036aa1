package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"friends-go/internal/models"
)

// DispatcherConfig sizes the dispatcher's worker shards.
type DispatcherConfig struct {
	Topic          string
	Workers        int
	QueueSize      int
	PublishTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	return c
}

// DispatcherStats counts what happened to dispatched events.
type DispatcherStats struct {
	Published int64
	Failed    int64
	Dropped   int64
}

// NotificationDispatcher publishes notification events to Kafka off the caller's goroutine.
// Events for one recipient always land on the same worker, so they are sent in order.
// Dispatch never blocks: when a worker queue is full the event is dropped and logged.
type NotificationDispatcher struct {
	producer MessageProducer
	cfg      DispatcherConfig
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	shards []chan models.NotificationEvent
	wg     sync.WaitGroup

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewNotificationDispatcher starts cfg.Workers publishing goroutines.
func NewNotificationDispatcher(producer MessageProducer, cfg DispatcherConfig, logger *zap.Logger) *NotificationDispatcher {
	cfg = cfg.withDefaults()
	d := &NotificationDispatcher{
		producer: producer,
		cfg:      cfg,
		logger:   logger.Named("notification-dispatcher"),
		shards:   make([]chan models.NotificationEvent, cfg.Workers),
	}
	for i := range d.shards {
		d.shards[i] = make(chan models.NotificationEvent, cfg.QueueSize)
		d.wg.Add(1)
		go d.worker(i, d.shards[i])
	}
	return d
}

// ShardFor returns the worker index that owns recipientID.
func ShardFor(recipient string, workers int) int {
	if workers <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(recipient) % uint64(workers))
}

// Dispatch enqueues event and returns immediately.
func (d *NotificationDispatcher) Dispatch(_ context.Context, event models.NotificationEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	log := d.logger.With(
		zap.String("type", string(event.Type)),
		zap.Stringer("recipient", event.RecipientID),
		zap.Stringer("sender", event.SenderID),
	)
	if d.closed {
		d.dropped.Add(1)
		log.Warn("dispatcher closed, dropping notification")
		return
	}

	shard := d.shards[ShardFor(event.RecipientID.String(), len(d.shards))]
	select {
	case shard <- event:
	default:
		d.dropped.Add(1)
		log.Warn("notification queue full, dropping notification")
	}
}

func (d *NotificationDispatcher) worker(id int, queue <-chan models.NotificationEvent) {
	defer d.wg.Done()
	for event := range queue {
		d.publish(id, event)
	}
}

func (d *NotificationDispatcher) publish(worker int, event models.NotificationEvent) {
	log := d.logger.With(
		zap.Int("worker", worker),
		zap.String("type", string(event.Type)),
		zap.Stringer("recipient", event.RecipientID),
	)
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			log.Error("notification publish panicked", zap.Any("panic", r))
		}
	}()

	payload, err := EncodeNotification(event)
	if err != nil {
		d.failed.Add(1)
		log.Error("failed to encode notification", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
	defer cancel()
	if err := d.producer.SendMessage(ctx, d.cfg.Topic, []byte(event.RecipientID.String()), payload); err != nil {
		d.failed.Add(1)
		log.Warn("failed to publish notification", zap.Error(err))
		return
	}
	d.published.Add(1)
	log.Debug("notification published")
}

// Stats returns a snapshot of the dispatcher counters.
func (d *NotificationDispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Close stops accepting events and waits for queued ones to be published or ctx to end.
func (d *NotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, shard := range d.shards {
		close(shard)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("notification dispatcher drained", zap.Int64("published", d.published.Load()), zap.Int64("failed", d.failed.Load()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification dispatcher: drain interrupted: %w", ctx.Err())
	}
}

// EncodeNotification is the wire form published to the notifications topic.
func EncodeNotification(event models.NotificationEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return payload, nil
}

// DecodeNotification parses a message produced by EncodeNotification.
func DecodeNotification(payload []byte) (models.NotificationEvent, error) {
	var event models.NotificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("unmarshal notification: %w", err)
	}
	if event.Type == "" {
		return event, fmt.Errorf("notification without type")
	}
	return event, nil
}
