package producers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	topicReadAttempts = 5
	topicReadDelay    = 2 * time.Second
)

// topicConnection is the part of *kafka.Conn used to provision topics
type topicConnection interface {
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	CreateTopics(topics ...kafka.TopicConfig) error
}

// messageWriter is the part of *kafka.Writer the DLQ and notification producers use
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ messageWriter = (*kafka.Writer)(nil)

// createKafkaTopicIfNotExists provisions topic when no partitions can be read for it.
// Partition counts and replication default to 1.
func createKafkaTopicIfNotExists(conn topicConnection, topic string, numPartitions, replicationFactor int, logger *slog.Logger) error {
	return ensureTopic(conn, topic, numPartitions, replicationFactor, logger, topicReadDelay)
}

func ensureTopic(conn topicConnection, topic string, numPartitions, replicationFactor int, logger *slog.Logger, delay time.Duration) error {
	logger = logger.With("topic", topic)

	var lastErr error
	for attempt := 1; attempt <= topicReadAttempts; attempt++ {
		partitions, err := conn.ReadPartitions(topic)
		if err == nil && len(partitions) > 0 {
			logger.Debug("Kafka topic exists", "partitions", len(partitions))
			return nil
		}
		if err == nil {
			break
		}
		lastErr = err
		logger.Warn("Failed to read topic partitions", "attempt", attempt, "error", err)
		time.Sleep(delay)
	}

	cfg := kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     max(numPartitions, 1),
		ReplicationFactor: max(replicationFactor, 1),
	}
	logger.Info("Creating Kafka topic", "partitions", cfg.NumPartitions, "replication_factor", cfg.ReplicationFactor, "last_read_error", lastErr)
	if err := conn.CreateTopics(cfg); err != nil {
		return fmt.Errorf("failed to create kafka topic %s: %w", topic, err)
	}
	return nil
}
