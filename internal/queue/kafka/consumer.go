package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"opsassist/internal/config"
	"opsassist/internal/queue"
)

// fetchBackoff is the pause after a failed fetch before trying again.
const fetchBackoff = 500 * time.Millisecond

// Consumer reads classification tasks as a member of a consumer group.
// Several workers may call Start on one Consumer; the reader hands each
// fetched task to exactly one of them.
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// NewConsumer joins the configured consumer group on the task topic.
func NewConsumer(cfg *config.KafkaConfig, logger *slog.Logger) *Consumer {
	logger = logger.With("component", "kafka-consumer", "topic", cfg.Topic, "group", cfg.ConsumerGroup)

	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.ConsumerGroup,
			StartOffset: kafka.FirstOffset,
			MinBytes:    1,
			MaxBytes:    1 << 20,
			MaxWait:     time.Second,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Warn(fmt.Sprintf(msg, args...))
			}),
		}),
		logger: logger,
	}
}

// Start hands every fetched task to handler and commits it afterwards.
// A task whose handler failed is committed too: classification is best
// effort and is never redelivered.
func (c *Consumer) Start(ctx context.Context, handler queue.MessageHandler) error {
	c.logger.Info("consuming classification tasks")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				// Reader closed by Close.
				return nil
			}
			c.logger.Error("failed to fetch task", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchBackoff):
			}
			continue
		}

		task := &queue.Message{
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: fromKafkaHeaders(msg.Headers),
		}
		if err := handler(ctx, task); err != nil {
			c.logger.Warn("task handler failed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to commit task at partition %d offset %d: %w", msg.Partition, msg.Offset, err)
		}
	}
}

// Close leaves the consumer group and closes the reader.
func (c *Consumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
