package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/config"
	"github.com/segmentio/kafka-go"
)

// TypeHeader carries Event.Type on the wire.
const TypeHeader = "event-type"

// Event is one message. Events sharing a Key land on the same partition and
// keep their order. Value is JSON encoded.
type Event struct {
	Key   string
	Type  string
	Value any
}

// Publisher is the write side used by services that emit events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

type ProducerOption func(*kafka.Writer)

// Async makes Publish return once the event is queued. Delivery failures
// are logged and counted instead of returned. Suited to analytics, where
// losing an event is cheaper than slowing a search.
func Async() ProducerOption {
	return func(w *kafka.Writer) {
		w.Async = true
		w.RequiredAcks = kafka.RequireOne
	}
}

type Producer struct {
	writer *kafka.Writer
	failed atomic.Int64
	logger *slog.Logger
}

// NewProducer writes to topic. By default every Publish waits for all
// in-sync replicas, which is what document change events need.
func NewProducer(cfg config.KafkaConfig, topic string, opts ...ProducerOption) *Producer {
	p := &Producer{
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.Async {
		w.Completion = p.completed
	}
	p.writer = w
	return p
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publishing %s event %q: %w", p.writer.Topic, event.Key, err)
	}
	return nil
}

// Failed counts events that never reached the broker.
func (p *Producer) Failed() int64 { return p.failed.Load() }

func (p *Producer) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	p.failed.Add(int64(len(msgs)))
	p.logger.Error("async delivery failed", "messages", len(msgs), "error", err)
}

// Close flushes queued events.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func encode(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding %s event %q: %w", event.Type, event.Key, err)
	}
	msg := kafka.Message{Key: []byte(event.Key), Value: value}
	if event.Type != "" {
		msg.Headers = []kafka.Header{{Key: TypeHeader, Value: []byte(event.Type)}}
	}
	return msg, nil
}

// EventType returns the TypeHeader of msg, or "".
func EventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == TypeHeader {
			return string(h.Value)
		}
	}
	return ""
}
