// Package kafka carries document change and analytics events between the
// ARK services over segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one message. Returning an error asks for a retry;
// handlers skip input they can never process by returning nil.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// reader is the part of *kafka.Reader the consume loop uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  reader
	topic   string
	handler MessageHandler
	retry   resilience.RetryConfig
	logger  *slog.Logger

	handled atomic.Int64
	dropped atomic.Int64
}

// NewConsumer joins cfg.ConsumerGroup on topic. New groups start at the
// latest offset: search nodes rebuild from the store on start, so older
// changes are already reflected.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r reader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		topic:   topic,
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		logger: slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx ends, then closes the reader. A message whose
// handler still fails after the retries is committed and counted as
// dropped; the periodic consistency check repairs what it missed.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "handled", c.handled.Load(), "dropped", c.dropped.Load())
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("reader closed: %w", err)
			}
			c.logger.Error("fetch failed", "error", err)
			continue
		}
		if err := c.process(ctx, msg); err != nil {
			return nil
		}
	}
}

// process runs the handler and commits. It only fails when ctx ended
// before the message could be settled, leaving it for redelivery.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
	if t := EventType(msg); t != "" {
		log = log.With("event_type", t)
	}
	log.Debug("message received", "value_size", len(msg.Value))

	err := resilience.Retry(ctx, "handle "+c.topic, c.retry, func(ctx context.Context) error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	switch {
	case err == nil:
		c.handled.Add(1)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		c.dropped.Add(1)
		log.Error("giving up on message", "error", err)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("commit failed", "error", err)
	}
	return nil
}

// Handled and Dropped count settled messages.
func (c *Consumer) Handled() int64 { return c.handled.Load() }
func (c *Consumer) Dropped() int64 { return c.dropped.Load() }

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
