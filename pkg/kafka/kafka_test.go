package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/config"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changeMessage struct {
	DocumentID string `json:"documentId"`
	Version    int    `json:"version"`
}

func TestDecodeJSON(t *testing.T) {
	msg, err := DecodeJSON[changeMessage]([]byte(`{"documentId":"kb-001","version":3}`))
	require.NoError(t, err)
	assert.Equal(t, changeMessage{DocumentID: "kb-001", Version: 3}, msg)

	_, err = DecodeJSON[changeMessage]([]byte(`{not json`))
	assert.ErrorContains(t, err, "decoding kafka message")
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Key: "kb-001", Value: "x"}))
}

func TestEncodeCarriesKeyAndType(t *testing.T) {
	msg, err := encode(Event{
		Key:   "kb-007",
		Type:  "document.updated",
		Value: changeMessage{DocumentID: "kb-007", Version: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "kb-007", string(msg.Key))
	assert.JSONEq(t, `{"documentId":"kb-007","version":2}`, string(msg.Value))
	assert.Equal(t, "document.updated", EventType(msg))

	msg, err = encode(Event{Key: "转账", Value: map[string]int{"hits": 3}})
	require.NoError(t, err)
	assert.Empty(t, msg.Headers)
	assert.Empty(t, EventType(msg))

	_, err = encode(Event{Key: "kb-008", Type: "search", Value: func() {}})
	assert.ErrorContains(t, err, `encoding search event "kb-008"`)
}

func TestAsyncProducerCountsFailedDeliveries(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "ark.analytics", Async())
	assert.True(t, p.writer.Async)
	require.NotNil(t, p.writer.Completion)

	p.completed(make([]kafka.Message, 3), errors.New("broker unreachable"))
	p.completed(make([]kafka.Message, 2), nil)
	assert.Equal(t, int64(3), p.Failed())

	sync := NewProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "ark.document-changes")
	assert.False(t, sync.writer.Async)
	assert.Equal(t, kafka.RequireAll, sync.writer.RequiredAcks)
}
