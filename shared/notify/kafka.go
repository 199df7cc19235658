package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// WelcomeTopic carries welcome notices from the provisioning services to the notifier worker
const WelcomeTopic = "tenant-welcome"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes welcome notices to Kafka for the notifier worker
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier creates a publisher for broker
func NewKafkaNotifier(broker string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// SendWelcomeNotice publishes the notice keyed by tenant code
func (kn *KafkaNotifier) SendWelcomeNotice(ctx context.Context, notice WelcomeNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal welcome notice: %w", err)
	}

	msg := kafka.Message{
		Topic: WelcomeTopic,
		Key:   []byte(notice.TenantCode),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("welcome_notice")},
			{Key: "tenant_code", Value: []byte(notice.TenantCode)},
			{Key: "role", Value: []byte(notice.Role)},
		},
	}
	if err := kn.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write welcome notice to Kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (kn *KafkaNotifier) Close() error {
	if err := kn.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads welcome notices from Kafka and hands them to a delivery Notifier
type Consumer struct {
	reader   messageReader
	delivery Notifier
	log      logrus.FieldLogger

	attempts int
	backoff  time.Duration
	timeout  time.Duration
}

// NewConsumer creates a consumer in group groupID
func NewConsumer(broker, groupID string, delivery Notifier, log logrus.FieldLogger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{broker},
		Topic:          WelcomeTopic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})
	return newConsumer(reader, delivery, log)
}

func newConsumer(reader messageReader, delivery Notifier, log logrus.FieldLogger) *Consumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Consumer{
		reader:   reader,
		delivery: delivery,
		log:      log,
		attempts: 3,
		backoff:  time.Second,
		timeout:  15 * time.Second,
	}
}

// Run consumes until ctx is cancelled. A notice is committed once it was
// delivered or every delivery attempt failed.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.WithField("topic", WelcomeTopic).Info("Starting welcome notice consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("Error reading welcome notice")
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.WithError(err).WithField("offset", msg.Offset).Warn("Failed to commit welcome notice")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var notice WelcomeNotice
	if err := json.Unmarshal(msg.Value, &notice); err != nil {
		c.log.WithError(err).WithField("offset", msg.Offset).Warn("Dropping malformed welcome notice")
		return
	}

	fields := logrus.Fields{
		"recipient":   notice.RecipientEmail,
		"tenant_code": notice.TenantCode,
	}
	for attempt := 1; attempt <= c.attempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.delivery.SendWelcomeNotice(sendCtx, notice)
		cancel()

		if err == nil {
			c.log.WithFields(fields).Info("Welcome notice delivered")
			return
		}
		c.log.WithFields(fields).WithField("attempt", attempt).WithError(err).Warn("Welcome notice delivery failed")

		if errors.Is(err, context.Canceled) || !sleep(ctx, c.backoff*time.Duration(attempt)) {
			return
		}
	}
	c.log.WithFields(fields).Error("Giving up on welcome notice")
}

// Close closes the reader
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka reader: %w", err)
	}
	return nil
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
