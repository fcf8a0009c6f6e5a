package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const flushTimeoutMs = 5000

// KafkaPublisher produces extraction events to Kafka topics. Delivery is
// asynchronous; failed deliveries surface through the event channel and are
// logged, not returned.
type KafkaPublisher struct {
	producer    *kafka.Producer
	symbolTopic string
	runTopic    string
	logger      *slog.Logger
}

// NewKafkaPublisher connects a producer to the given brokers.
func NewKafkaPublisher(brokers, symbolTopic, runTopic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := &KafkaPublisher{
		producer:    producer,
		symbolTopic: symbolTopic,
		runTopic:    runTopic,
		logger:      logger.With("component", "kafka_publisher"),
	}
	go p.deliveryReports()
	return p, nil
}

func (p *KafkaPublisher) deliveryReports() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.logger.Error("event delivery failed",
					"topic", *ev.TopicPartition.Topic,
					"error", ev.TopicPartition.Error)
			}
		case kafka.Error:
			p.logger.Error("kafka producer error", "error", ev)
		}
	}
}

// PublishSymbol emits a per-symbol completion event keyed by symbol, so all
// events for one symbol land on the same partition in order.
func (p *KafkaPublisher) PublishSymbol(ctx context.Context, event SymbolCompleted) error {
	return p.produce(p.symbolTopic, []byte(event.Symbol), event)
}

// PublishRun emits the aggregate run summary keyed by run ID.
func (p *KafkaPublisher) PublishRun(ctx context.Context, event RunCompleted) error {
	return p.produce(p.runTopic, []byte(event.ExtractionRun), event)
}

func (p *KafkaPublisher) produce(topic string, key []byte, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
	}, nil)
	if err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Close flushes outstanding messages and shuts down the producer.
func (p *KafkaPublisher) Close() error {
	remaining := p.producer.Flush(flushTimeoutMs)
	if remaining > 0 {
		p.logger.Warn("closing with undelivered events", "remaining", remaining)
	}
	p.producer.Close()
	return nil
}

var _ Publisher = (*KafkaPublisher)(nil)
