package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// MaxReplays bounds how many times a dead-lettered event is replayed.
const MaxReplays = 3

var ErrReplayLimit = errors.New("exceeded maximum replay attempts")

type MessageMetadata struct {
	ReplayCount   int       `json:"replay_count"`
	FailedAt      time.Time `json:"failed_at"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

func replayCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) == "replay_count" {
			if n, err := strconv.Atoi(string(header.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func sendToDLQ(producer sarama.SyncProducer, topic string, message *sarama.ConsumerMessage, cause error, logger *logrus.Logger) error {
	metadata := MessageMetadata{
		ReplayCount:   replayCount(message),
		FailedAt:      time.Now().UTC(),
		OriginalTopic: message.Topic,
		ErrorMessage:  cause.Error(),
	}
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
		},
	}

	partition, offset, err := producer.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"dlq_topic":     topic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         cause.Error(),
	}).Warn("Message sent to dead letter queue")
	return nil
}

// DLQReplayer drains the dead letter topic back onto the order events topic.
type DLQReplayer struct {
	consumer    sarama.ConsumerGroup
	producer    sarama.SyncProducer
	logger      *logrus.Logger
	dlqTopic    string
	replayTopic string
}

func NewDLQReplayer(brokers, dlqTopic, replayTopic string, logger *logrus.Logger) (*DLQReplayer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	consumer, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), "order-events-dlq-replayer", config)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), newProducerConfig())
	if err != nil {
		consumer.Close()
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return newDLQReplayer(consumer, producer, dlqTopic, replayTopic, logger), nil
}

func newDLQReplayer(consumer sarama.ConsumerGroup, producer sarama.SyncProducer, dlqTopic, replayTopic string, logger *logrus.Logger) *DLQReplayer {
	if dlqTopic == "" {
		dlqTopic = OrderEventsDLQTopic
	}
	if replayTopic == "" {
		replayTopic = OrderEventsTopic
	}
	return &DLQReplayer{
		consumer:    consumer,
		producer:    producer,
		logger:      logger,
		dlqTopic:    dlqTopic,
		replayTopic: replayTopic,
	}
}

func (r *DLQReplayer) Run(ctx context.Context) error {
	for {
		if err := r.consumer.Consume(ctx, []string{r.dlqTopic}, r); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			r.logger.WithError(err).Error("Error consuming from DLQ")
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Replay republishes one dead-lettered message with an incremented replay count.
func (r *DLQReplayer) Replay(message *sarama.ConsumerMessage) error {
	count := replayCount(message)
	var metadata MessageMetadata
	for _, header := range message.Headers {
		if string(header.Key) == "metadata" {
			if err := json.Unmarshal(header.Value, &metadata); err == nil {
				count = metadata.ReplayCount
			}
		}
	}

	if count >= MaxReplays {
		r.logger.WithFields(logrus.Fields{
			"order_key":    string(message.Key),
			"replay_count": count,
		}).Error("Message exceeded maximum replay attempts")
		return ErrReplayLimit
	}

	replay := &sarama.ProducerMessage{
		Topic: r.replayTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("replay_count"), Value: []byte(strconv.Itoa(count + 1))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
		},
	}

	partition, offset, err := r.producer.SendMessage(replay)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"replay_topic":     r.replayTopic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"order_key":        string(message.Key),
	}).Info("Message replayed from DLQ")
	return nil
}

func (r *DLQReplayer) Close() error {
	if err := r.producer.Close(); err != nil {
		r.logger.WithError(err).Error("Failed to close producer")
	}
	return r.consumer.Close()
}

func (r *DLQReplayer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (r *DLQReplayer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (r *DLQReplayer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := r.Replay(message); err != nil {
				r.logger.WithError(err).Error("Failed to replay DLQ message")
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
