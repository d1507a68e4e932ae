package notify

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes processed-call payloads keyed by provider call id, so
// every event for one call lands on the same partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, e Event) error {
	data, err := json.Marshal(NewPayload(e))
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Call.ProviderCallID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("call.processed")},
		},
	})
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
