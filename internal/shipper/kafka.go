// kafka.go implements the Kafka sink. Messages are keyed by kind and entity so
// all change sets for one entity land on one partition in order.
package shipper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/fieldtrace/fieldtrace/internal/config"
)

// KafkaShipper delivers envelopes to a Kafka topic
type KafkaShipper struct {
	writer *kafka.Writer
}

// NewKafkaShipper creates a new Kafka shipper
func NewKafkaShipper(cfg *config.KafkaShipperConfig) (*KafkaShipper, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaShipper{writer: writer}, nil
}

// Ship publishes one envelope, keyed by kind and entity ID
func (ks *KafkaShipper) Ship(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(env.Kind + ":" + env.EntityID),
		Value: data,
	}
	if err := ks.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to kafka: %w", err)
	}
	return nil
}

// Close closes the underlying writer
func (ks *KafkaShipper) Close() error {
	return ks.writer.Close()
}
