// Package events publishes confirmation events for downstream consumers
// (presentation, notifications). Publishing is best-effort: a confirmation
// that has already committed is never rolled back because the broker was
// unreachable.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/cmatc13/slotwall/pkg/logging"
)

// ConfirmationEvent is emitted once per successful confirmation
type ConfirmationEvent struct {
	SubmissionID    string  `json:"submission_id"`
	SlotNumber      int64   `json:"slot_number"`
	Amount          float64 `json:"amount"`
	Path            string  `json:"path"`
	TransactionHash string  `json:"transaction_hash,omitempty"`
	ConfirmedAt     int64   `json:"confirmed_at"`
}

// Publisher emits confirmation events. Implementations must tolerate
// broker outages without returning the failure to the confirmation path.
type Publisher interface {
	PublishConfirmation(event *ConfirmationEvent) error
	Close()
}

// KafkaPublisher publishes confirmation events to a Kafka topic
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *logging.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic
func NewKafkaPublisher(brokers, topic string, logger *logging.Logger) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	// Drain delivery reports so the producer queue does not fill up.
	go func() {
		for e := range producer.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				logger.Warn("confirmation event delivery failed",
					"error", m.TopicPartition.Error,
					"topic", topic)
			}
		}
	}()

	return p, nil
}

// PublishConfirmation publishes one confirmation event
func (p *KafkaPublisher) PublishConfirmation(event *ConfirmationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error serializing confirmation event: %w", err)
	}

	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.SubmissionID),
		Value: value,
	}, nil)
	if err != nil {
		return fmt.Errorf("error publishing confirmation event: %w", err)
	}

	return nil
}

// Close flushes outstanding events and shuts the producer down
func (p *KafkaPublisher) Close() {
	p.producer.Flush(15 * 1000)
	p.producer.Close()
}
