package consumers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/platform/messaging/producers"
	"github.com/segmentio/kafka-go"
)

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, handler MessageHandler) error
	Close() error
}

// MessageReader wraps kafka.Reader methods for testing
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads the booking lifecycle topic with at-least-once delivery.
// A message whose handler fails is parked on the DLQ and then committed, so one
// bad message never blocks its partition.
type KafkaConsumer struct {
	reader     MessageReader
	dlq        producers.DeadLetterPublisher
	logger     *slog.Logger
	topic      string
	groupID    string
	retryDelay time.Duration
}

func NewKafkaConsumer(logger *slog.Logger, cfg *config.KafkaConfig, dlq producers.DeadLetterPublisher) *KafkaConsumer {
	startOffset := kafka.FirstOffset
	if cfg.StartOffset == kafka.LastOffset {
		startOffset = kafka.LastOffset
	}

	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Brokers},
			Topic:       cfg.BookingEventsTopic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: startOffset,
		}),
		dlq:        dlq,
		logger:     logger.With("component", "kafka_consumer"),
		topic:      cfg.BookingEventsTopic,
		groupID:    cfg.ConsumerGroup,
		retryDelay: time.Second,
	}
}

// Subscribe starts the fetch loop in a goroutine; it stops when ctx is cancelled
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Subscribed to Kafka topic", "topic", c.topic, "group_id", c.groupID)
	go c.run(ctx, handler)
	return nil
}

func (c *KafkaConsumer) run(ctx context.Context, handler MessageHandler) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Context canceled, stopping consumer", "topic", c.topic)
				return
			}
			c.logger.Error("Failed to fetch message from Kafka", "topic", c.topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}

		c.handle(ctx, msg, handler)
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message, handler MessageHandler) {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))

	if err := handler(ctx, msg.Key, msg.Value); err != nil {
		log.Error("Failed to process message", "error", err)
		if c.dlq == nil {
			log.Warn("No DLQ configured, leaving message uncommitted")
			return
		}
		if dlqErr := c.dlq.PublishToDLQ(ctx, string(msg.Key), msg.Value, err.Error()); dlqErr != nil {
			log.Error("Failed to park message on DLQ, leaving it uncommitted", "error", dlqErr)
			return
		}
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("Failed to commit message", "error", err)
		return
	}
	log.Debug("Message committed")
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
