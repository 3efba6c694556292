package producers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDLQProducer_PublishToDLQ(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("SuccessfulPublishToDLQ", func(t *testing.T) {
		mockWriter := new(MockMessageWriter)
		producer := newDLQProducer(logger, mockWriter, "payment_events_dlq", "retry_scheduler")
		producer.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

		original := []byte(`{"id":"evt_1"}`)
		mockWriter.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || string(msgs[0].Key) != "evt_1" {
				return false
			}
			var dl deadLetter
			if err := json.Unmarshal(msgs[0].Value, &dl); err != nil {
				return false
			}
			return dl.Source == "retry_scheduler" &&
				dl.OriginalValue == string(original) &&
				dl.Reason == "max retries exceeded" &&
				dl.Timestamp == "2026-01-02T03:04:05Z"
		})).Return(nil).Once()

		require.NoError(t, producer.PublishToDLQ(ctx, "evt_1", original, "max retries exceeded"))
		mockWriter.AssertExpectations(t)
	})

	t.Run("WriterError", func(t *testing.T) {
		mockWriter := new(MockMessageWriter)
		producer := newDLQProducer(logger, mockWriter, "payment_events_dlq", "booking_consumer")
		writerError := errors.New("leader not available")

		mockWriter.On("WriteMessages", ctx, mock.Anything).Return(writerError).Once()

		err := producer.PublishToDLQ(ctx, "k", []byte("v"), "malformed")
		assert.ErrorIs(t, err, writerError)
		mockWriter.AssertExpectations(t)
	})

	t.Run("Disabled", func(t *testing.T) {
		var producer *DLQProducer
		assert.ErrorIs(t, producer.PublishToDLQ(ctx, "k", []byte("v"), "malformed"), ErrDLQDisabled)
		assert.NoError(t, producer.Close())
	})
}

func TestDLQProducer_Close(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	mockWriter := new(MockMessageWriter)
	producer := newDLQProducer(logger, mockWriter, "payment_events_dlq", "booking_consumer")
	closeError := errors.New("close failed")
	mockWriter.On("Close").Return(closeError).Once()

	assert.ErrorIs(t, producer.Close(), closeError)
	mockWriter.AssertExpectations(t)
}
