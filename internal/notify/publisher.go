// Package notify publishes order status events for downstream consumers such
// as the SMS sender.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"adora-payments/internal/logger"
	"adora-payments/internal/metrics"
	"adora-payments/internal/order"
	"adora-payments/internal/utils"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// OrderStatusEvent is the message value written for every status change.
type OrderStatusEvent struct {
	TrackingNumber string    `json:"tracking_number"`
	Phone          string    `json:"phone"`
	ReceiverName   string    `json:"receiver_name"`
	Gateway        string    `json:"gateway"`
	Status         string    `json:"status"`
	StatusLabel    string    `json:"status_label"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  MessageWriter
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafkaPublisher(w MessageWriter, m *metrics.Metrics) *KafkaPublisher {
	return &KafkaPublisher{writer: w, metrics: m, now: time.Now}
}

// OrderStatusChanged writes one event keyed by tracking number, so events of
// the same order stay ordered within a partition.
func (p *KafkaPublisher) OrderStatusChanged(ctx context.Context, o *order.Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "notify"),
		zap.String("tracking_number", o.TrackingNumber),
		zap.String("status", string(o.PaymentStatus)),
	)

	value, err := json.Marshal(OrderStatusEvent{
		TrackingNumber: o.TrackingNumber,
		Phone:          utils.NormalizePhone(o.ReceiverPhone),
		ReceiverName:   o.ReceiverName,
		Gateway:        string(o.PaymentReference),
		Status:         string(o.PaymentStatus),
		StatusLabel:    o.PaymentStatus.String(),
		OccurredAt:     p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode order status event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.TrackingNumber),
		Value: value,
		Time:  p.now(),
	})
	if err != nil {
		p.metrics.EventPublished(string(o.PaymentStatus), "error")
		log.Error("failed to publish order status", zap.Error(err))
		return fmt.Errorf("publish order status: %w", err)
	}

	p.metrics.EventPublished(string(o.PaymentStatus), "ok")
	log.Info("order status published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
