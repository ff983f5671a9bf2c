package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

type OrderEventHandler interface {
	HandleOrderEvent(ctx context.Context, event OrderEvent) error
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message goes straight to the DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

type ConsumerMetrics struct {
	Processed    atomic.Int64
	Retried      atomic.Int64
	DeadLettered atomic.Int64
	Succeeded    atomic.Int64
	Failed       atomic.Int64
}

type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	dlq           sarama.SyncProducer
	group         *consumerGroupHandler
	logger        *logrus.Logger
	topics        []string
}

type consumerGroupHandler struct {
	handler  OrderEventHandler
	dlq      sarama.SyncProducer
	dlqTopic string
	retry    RetryPolicy
	logger   *logrus.Logger
	metrics  *ConsumerMetrics
}

// NewKafkaConsumer joins groupID on topic. Messages that still fail after the
// retry policy is exhausted are forwarded to dlqTopic.
func NewKafkaConsumer(brokers, groupID, topic, dlqTopic string, retry RetryPolicy, handler OrderEventHandler, logger *logrus.Logger) (*KafkaConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	dlq, err := sarama.NewSyncProducer(strings.Split(brokers, ","), newProducerConfig())
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	if topic == "" {
		topic = OrderEventsTopic
	}
	if dlqTopic == "" {
		dlqTopic = OrderEventsDLQTopic
	}

	return &KafkaConsumer{
		consumerGroup: consumerGroup,
		dlq:           dlq,
		group:         newConsumerGroupHandler(handler, dlq, dlqTopic, retry, logger),
		logger:        logger,
		topics:        []string{topic},
	}, nil
}

func newConsumerGroupHandler(handler OrderEventHandler, dlq sarama.SyncProducer, dlqTopic string, retry RetryPolicy, logger *logrus.Logger) *consumerGroupHandler {
	return &consumerGroupHandler{
		handler:  handler,
		dlq:      dlq,
		dlqTopic: dlqTopic,
		retry:    retry,
		logger:   logger,
		metrics:  &ConsumerMetrics{},
	}
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, c.group); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.WithError(err).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if err := c.dlq.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close DLQ producer")
	}
	return c.consumerGroup.Close()
}

func (c *KafkaConsumer) Metrics() *ConsumerMetrics {
	return c.group.metrics
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.process(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			h.logger.Info("Consumer group session context cancelled")
			return nil
		}
	}
}

// process handles one message. Failures are dead-lettered so the partition
// keeps moving.
func (h *consumerGroupHandler) process(ctx context.Context, message *sarama.ConsumerMessage) {
	h.metrics.Processed.Add(1)

	err := h.handleWithRetry(ctx, message)
	if err == nil {
		h.metrics.Succeeded.Add(1)
		return
	}
	if ctx.Err() != nil {
		return
	}

	h.metrics.Failed.Add(1)
	h.logger.WithError(err).WithField("key", string(message.Key)).Error("Failed to process order event")

	if dlqErr := sendToDLQ(h.dlq, h.dlqTopic, message, err, h.logger); dlqErr != nil {
		h.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		return
	}
	h.metrics.DeadLettered.Add(1)
}

func (h *consumerGroupHandler) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return Permanent(fmt.Errorf("failed to unmarshal order event: %w", err))
	}

	delay := h.retry.InitialDelay
	var err error
	for attempt := 0; attempt <= h.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			h.metrics.Retried.Add(1)
			h.logger.WithFields(logrus.Fields{
				"order_id": event.OrderID,
				"attempt":  attempt,
				"delay":    delay,
			}).Info("Retrying order event")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if h.retry.MaxDelay > 0 && delay > h.retry.MaxDelay {
				delay = h.retry.MaxDelay
			}
		}

		err = h.handler.HandleOrderEvent(ctx, event)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		h.logger.WithError(err).WithField("attempt", attempt+1).Warn("Retryable error handling order event")
	}
	return fmt.Errorf("exhausted retries for order %s: %w", event.OrderID, err)
}
