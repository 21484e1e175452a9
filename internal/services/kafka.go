package services

import (
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/keyward/backend/pkg/logger"
)

// KafkaSink publishes lifecycle events to a topic so downstream consumers
// (notification service, SIEM) can react without being called in-process.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{producer: producer, topic: topic}, nil
}

// Listener satisfies the events fan-out; publish failures are logged and
// swallowed so a broker outage cannot fail an authentication.
func (s *KafkaSink) Listener(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("kafka_event_encode_failed", err, map[string]interface{}{
			"event": string(event.Type),
		})
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		logger.Error("kafka_event_publish_failed", err, map[string]interface{}{
			"event": string(event.Type),
		})
	}
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
