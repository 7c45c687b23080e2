package render

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/signalsfoundry/terrain-visibility/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each layer as a JSON message keyed by scan ID.
type KafkaSink struct {
	w messageWriter
}

// NewKafkaSink writes to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, layer model.Layer) error {
	value, err := json.Marshal(layer)
	if err != nil {
		return fmt.Errorf("marshal layer: %w", err)
	}
	err = s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(layer.ScanID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(layer.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish layer %s: %w", layer.ScanID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.w.Close() }
