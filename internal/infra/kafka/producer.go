package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/IBM/sarama"

	"github.com/ivankudzin/creditpay/internal/domain/model"
)

func NewConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if strings.TrimSpace(clientID) != "" {
		cfg.ClientID = strings.TrimSpace(clientID)
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0
	return cfg
}

func NewSyncProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	producer, err := sarama.NewSyncProducer(brokers, NewConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// BalanceProducer publishes balance changes keyed by user id so one user's
// events stay ordered within a partition.
type BalanceProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewBalanceProducer(producer sarama.SyncProducer, topic string) *BalanceProducer {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = "balance.changed"
	}
	return &BalanceProducer{producer: producer, topic: topic}
}

func (p *BalanceProducer) Name() string {
	return "kafka"
}

func (p *BalanceProducer) Publish(ctx context.Context, change model.BalanceChange) error {
	if p.producer == nil {
		return fmt.Errorf("kafka producer is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal balance change: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(change.UserID, 10)),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send balance change to kafka: %w", err)
	}
	return nil
}

func (p *BalanceProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
