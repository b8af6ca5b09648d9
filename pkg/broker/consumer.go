package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Handler processes one consumed message. Returning an error causes a
// redelivery attempt (tracked per-message up to DeliveryLimit); returning
// nil commits the offset.
type Handler func(ctx context.Context, msg Message) error

// Consumer wraps a Kafka reader bounded by a prefetch/concurrency limit and
// routes to a DLQ topic after DeliveryLimit failed attempts.
type Consumer struct {
	reader        *kafkago.Reader
	dlqProducer   *Producer
	handler       Handler
	logger        *slog.Logger
	topic         string
	concurrency   int
	deliveryLimit int
	msgTimeout    time.Duration
}

// ConsumerOption configures optional Consumer behavior.
type ConsumerOption func(*Consumer)

// WithConcurrency bounds in-flight handler invocations (the per-queue
// prefetch of spec §5).
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithDeliveryLimit overrides DefaultDeliveryLimit.
func WithDeliveryLimit(n int) ConsumerOption {
	return func(c *Consumer) { c.deliveryLimit = n }
}

// WithMessageTimeout bounds how long a single handler invocation may run
// before it is treated as failed and nacked to the DLQ without requeue.
func WithMessageTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.msgTimeout = d }
}

// NewConsumer creates a Consumer for topic in the given consumer group.
// dlqProducer is used to route messages that exceed the delivery limit to
// DLQTopic(topic); it may be nil, in which case exhausted messages are
// simply dropped after being logged (used in tests).
func NewConsumer(cfg Config, topic string, handler Handler, dlqProducer *Producer, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    topic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10 * 1024 * 1024,
	})

	c := &Consumer{
		reader:        reader,
		dlqProducer:   dlqProducer,
		handler:       handler,
		logger:        logger,
		topic:         topic,
		concurrency:   1,
		deliveryLimit: DefaultDeliveryLimit,
		msgTimeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins consuming, blocking until ctx is canceled. Up to
// Consumer.concurrency messages are handled concurrently; each handler
// invocation is bounded by msgTimeout.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer starting", "topic", c.topic, "concurrency", c.concurrency)

	sem := make(chan struct{}, c.concurrency)
	attempts := make(map[string]int)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("consumer stopping", "topic", c.topic)
				return nil
			}
			return fmt.Errorf("broker: fetch message from %s: %w", c.topic, err)
		}

		sem <- struct{}{}
		msgKey := fmt.Sprintf("%d-%d", m.Partition, m.Offset)
		go func(m kafkago.Message) {
			defer func() { <-sem }()
			c.process(ctx, m, msgKey, attempts)
		}(m)
	}
}

func (c *Consumer) process(ctx context.Context, m kafkago.Message, msgKey string, attempts map[string]int) {
	msg := Message{Key: m.Key, Value: m.Value, Headers: make(map[string]string, len(m.Headers))}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}

	handlerCtx, cancel := context.WithTimeout(ctx, c.msgTimeout)
	defer cancel()

	err := c.handler(handlerCtx, msg)
	if err == nil {
		if cerr := c.reader.CommitMessages(ctx, m); cerr != nil {
			c.logger.Error("commit error", "topic", c.topic, "error", cerr)
		}
		delete(attempts, msgKey)
		return
	}

	attempts[msgKey]++
	c.logger.Error("handler error", "topic", c.topic, "partition", m.Partition, "offset", m.Offset,
		"attempt", attempts[msgKey], "error", err)

	// A handler that overran msgTimeout goes to the DLQ at once, without
	// waiting for the delivery limit.
	if attempts[msgKey] >= c.deliveryLimit || errors.Is(handlerCtx.Err(), context.DeadlineExceeded) {
		c.routeToDLQ(ctx, msg, err)
		if cerr := c.reader.CommitMessages(ctx, m); cerr != nil {
			c.logger.Error("commit error after DLQ route", "topic", c.topic, "error", cerr)
		}
		delete(attempts, msgKey)
	}
	// Below the delivery limit: do not commit, so the message is
	// redelivered on the next fetch cycle (at-least-once).
}

func (c *Consumer) routeToDLQ(ctx context.Context, msg Message, cause error) {
	if c.dlqProducer == nil {
		c.logger.Warn("delivery limit exceeded, no DLQ producer configured, dropping", "topic", c.topic)
		return
	}
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}
	msg.Headers["x-dlq-reason"] = cause.Error()
	msg.Headers["x-dlq-source-topic"] = c.topic
	if err := c.dlqProducer.Publish(ctx, DLQTopic(c.topic), msg); err != nil {
		c.logger.Error("failed to route message to DLQ", "topic", c.topic, "error", err)
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("broker: close reader for %s: %w", c.topic, err)
	}
	return nil
}
