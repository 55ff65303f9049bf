package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"viewpulse/internal/metrics"
	"viewpulse/internal/model"
)

var ErrSinkClosed = errors.New("kafka sink is closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaSink writes alert events to a topic keyed by item ID, so every event
// for one item lands on the same partition.
type KafkaSink struct {
	writer messageWriter
	closed atomic.Bool
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  1,
	}}, nil
}

func (k *KafkaSink) PublishAlert(ctx context.Context, rec model.AlertRecord) error {
	if k.closed.Load() {
		return ErrSinkClosed
	}
	data, err := json.Marshal(NewAlertEvent(rec))
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.ItemID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "alert_id", Value: []byte(rec.ID)},
			{Key: "tier", Value: []byte(rec.Tier.String())},
		},
		Time: rec.CreatedAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventPublishErrors.WithLabelValues("kafka").Inc()
		return err
	}
	return nil
}

func (k *KafkaSink) Close() error {
	if k.closed.Swap(true) {
		return nil
	}
	return k.writer.Close()
}
