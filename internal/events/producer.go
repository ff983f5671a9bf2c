package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/pharmacy-portal/internal/notify"
	"github.com/jogardn/pharmacy-portal/pkg/models"
)

const (
	OrderEventsTopic    = "order.events"
	OrderEventsDLQTopic = "order.events.dlq"
)

// OrderEvent is the envelope published for every order lifecycle change. Both
// parties are carried so consumers can fan out without a lookup.
type OrderEvent struct {
	EventID    string           `json:"event_id"`
	Type       notify.EventType `json:"type"`
	OrderID    string           `json:"order_id"`
	PatientID  string           `json:"patient_id,omitempty"`
	PharmacyID string           `json:"pharmacy_id"`
	Status     models.Status    `json:"status"`
	Reason     string           `json:"reason,omitempty"`
	EventTime  time.Time        `json:"event_time"`
}

func NewOrderEvent(e notify.OrderEvent, patientID, pharmacyID string) OrderEvent {
	return OrderEvent{
		EventID:    uuid.New().String(),
		Type:       e.Type,
		OrderID:    e.OrderID,
		PatientID:  patientID,
		PharmacyID: pharmacyID,
		Status:     e.Status,
		Reason:     e.Reason,
	}
}

// Message returns the notification message the event renders to.
func (e OrderEvent) Message() notify.Message {
	return notify.Event(notify.OrderEvent{
		Type:    e.Type,
		OrderID: e.OrderID,
		Status:  e.Status,
		Reason:  e.Reason,
	})
}

type Publisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logrus.Logger
}

func newProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0
	return config
}

func NewKafkaProducer(brokers, topic string, logger *logrus.Logger) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), newProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaProducerWith(producer, topic, logger), nil
}

// NewKafkaProducerWith wraps an existing sarama producer.
func NewKafkaProducerWith(producer sarama.SyncProducer, topic string, logger *logrus.Logger) *KafkaProducer {
	if topic == "" {
		topic = OrderEventsTopic
	}
	return &KafkaProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func (p *KafkaProducer) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.OrderID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send order event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic":      p.topic,
		"partition":  partition,
		"offset":     offset,
		"order_id":   event.OrderID,
		"event_type": event.Type,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}

// NopPublisher drops events. It stands in when no broker is configured.
type NopPublisher struct {
	Logger *logrus.Logger
}

func (p NopPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	if p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{
			"order_id":   event.OrderID,
			"event_type": event.Type,
		}).Debug("No event bus configured, dropping event")
	}
	return nil
}
