package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/IBM/sarama"
)

// KafkaNotifier publishes events as JSON messages keyed by payment or owner id.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaProducer dials brokers with the acknowledgement settings payment events need.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	return sarama.NewSyncProducer(brokers, config)
}

func NewKafkaNotifier(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (k *KafkaNotifier) PaymentStatusChanged(_ context.Context, e PaymentEvent) error {
	return k.publish(e.PaymentID.String(), e)
}

func (k *KafkaNotifier) LowBalance(_ context.Context, e LowBalanceEvent) error {
	return k.publish(e.OwnerID.String(), e)
}

func (k *KafkaNotifier) publish(key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	log.Printf("[Kafka] published %s to %s", key, k.topic)
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.producer.Close()
}
