// Package kafka carries classification tasks over a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"opsassist/internal/config"
	"opsassist/internal/queue"
)

// writeTimeout bounds a single WriteMessages call when the caller's
// context carries no deadline.
const writeTimeout = 5 * time.Second

// Producer publishes classification tasks. Tasks are keyed by service and
// hashed onto partitions, so tasks of one service are consumed in order.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer creates a producer for the configured task topic.
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) *Producer {
	logger = logger.With("component", "kafka-producer", "topic", cfg.Topic)

	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           writeTimeout,
			RequiredAcks:           kafka.RequireAll,
			Compression:            kafka.Snappy,
			AllowAutoTopicCreation: true,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Warn(fmt.Sprintf(msg, args...))
			}),
		},
		logger: logger,
	}
}

// Publish writes one task message.
func (p *Producer) Publish(ctx context.Context, msg *queue.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, writeTimeout)
		defer cancel()
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: toKafkaHeaders(msg.Headers),
	})
	if err != nil {
		return fmt.Errorf("failed to write task to %s: %w", p.writer.Topic, err)
	}

	p.logger.Debug("task published", "key", string(msg.Key))
	return nil
}

// Close flushes buffered tasks and closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func fromKafkaHeaders(headers []kafka.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
