package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/segmentio/kafka-go"
)

// NotificationProducer publishes operator notifications for the notification service
type NotificationProducer struct {
	logger  *slog.Logger
	writer  messageWriter
	topic   string
	metrics *metrics.Metrics
}

var _ shared.Notifier = (*NotificationProducer)(nil)

// NewNotificationProducer ensures the notifications topic exists and opens an async writer
func NewNotificationProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig, m *metrics.Metrics) (*NotificationProducer, error) {
	if cfg.NotificationsTopic == "" {
		return nil, fmt.Errorf("kafka notifications topic is not configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for notification producer: %w", err)
	}
	defer conn.Close()

	if err := createKafkaTopicIfNotExists(conn, cfg.NotificationsTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure notifications topic %s exists: %w", cfg.NotificationsTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.NotificationsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		WriteTimeout: cfg.MaxWait,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				m.ObserveNotificationError()
				logger.Error("Failed to deliver operator notifications", "topic", cfg.NotificationsTopic, "error", err, "count", len(messages))
			}
		},
	}

	return newNotificationProducer(logger, writer, cfg.NotificationsTopic, m), nil
}

func newNotificationProducer(logger *slog.Logger, writer messageWriter, topic string, m *metrics.Metrics) *NotificationProducer {
	return &NotificationProducer{
		logger:  logger.With("component", "notification_producer"),
		writer:  writer,
		topic:   topic,
		metrics: m,
	}
}

// Notify publishes n keyed by category. Errors are logged and swallowed.
func (p *NotificationProducer) Notify(ctx context.Context, n shared.Notification) {
	value, err := json.Marshal(n)
	if err != nil {
		p.metrics.ObserveNotificationError()
		p.logger.Error("Failed to marshal operator notification", "title", n.Title, "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(n.Category),
		Value: value,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(n.Severity)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.ObserveNotificationError()
		p.logger.Error("Failed to publish operator notification",
			"topic", p.topic,
			"title", n.Title,
			"severity", string(n.Severity),
			"error", err,
		)
		return
	}

	p.logger.Debug("Published operator notification", "title", n.Title, "severity", string(n.Severity))
}

func (p *NotificationProducer) Close() error {
	p.logger.Info("Closing notification producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close notification writer for topic %s: %w", p.topic, err)
	}
	return nil
}

// LogNotifier writes notifications to the log only; used when Kafka is not configured
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "log_notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, note shared.Notification) {
	n.logger.Warn("Operator notification",
		"title", note.Title,
		"message", note.Message,
		"severity", string(note.Severity),
		"category", note.Category,
		"details", note.Details,
	)
}
