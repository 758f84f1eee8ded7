package kafka

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

const (
	initialRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff     = 10 * time.Second
)

// Consumer reads one topic within a consumer group. A failing handler is
// retried on the same message until it succeeds; the consumer never fetches
// past an unhandled message, because group commits are high-watermarks and
// committing a later offset would acknowledge the failed one too.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("Error reading message: %v", err)
				continue
			}

			if err := handleWithRetry(ctx, handler, msg.Key, msg.Value); err != nil {
				return err
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				log.Printf("Error committing message: %v", err)
			}
		}
	}
}

// handleWithRetry invokes the handler until it succeeds or the context is
// cancelled, backing off between attempts. Handlers absorb duplicates
// through the idempotency ledger, so repeating one is safe.
func handleWithRetry(ctx context.Context, handler MessageHandler, key, value []byte) error {
	backoff := initialRetryBackoff
	for {
		err := handler(ctx, key, value)
		if err == nil {
			return nil
		}
		log.Printf("Error handling message, retrying in %v: %v", backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
