package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka topic sink
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// MessageWriter is the part of kafka.Writer the sink uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTopic publishes alert messages keyed by alert id
type KafkaTopic struct {
	writer MessageWriter
	topic  string
	logger *zap.SugaredLogger
}

// NewKafkaTopic creates the sink with a kafka-go writer
func NewKafkaTopic(cfg KafkaConfig, logger *zap.SugaredLogger) (*KafkaTopic, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink needs at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink needs a topic")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.WriteTimeout,
	}
	return NewKafkaTopicWithWriter(writer, cfg.Topic, logger), nil
}

// NewKafkaTopicWithWriter creates the sink on any writer
func NewKafkaTopicWithWriter(writer MessageWriter, topic string, logger *zap.SugaredLogger) *KafkaTopic {
	return &KafkaTopic{writer: writer, topic: topic, logger: logger}
}

// Name identifies the sink in logs and metrics
func (k *KafkaTopic) Name() string {
	return "kafka"
}

// Send writes one message keyed by the alert id
func (k *KafkaTopic) Send(ctx context.Context, msg AlertMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert message: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Alert.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
			{Key: "severity", Value: []byte(msg.Alert.Severity)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write alert to topic %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (k *KafkaTopic) Close() error {
	return k.writer.Close()
}
