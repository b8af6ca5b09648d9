package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Message is a single broker message: an envelope-shaped payload with
// optional headers, keyed for partition affinity (correlation ID is the
// natural key so a loan's events land on one partition).
type Message struct {
	Headers map[string]string
	Key     []byte
	Value   []byte
}

// Producer wraps a pool of per-topic Kafka writers for publishing envelope
// payloads with publisher confirms (RequireAll acks).
type Producer struct {
	writers map[string]*kafkago.Writer
	brokers []string
	tlsCfg  *tls.Config
	mu      sync.Mutex
}

// NewProducer creates a Producer for the given configuration.
func NewProducer(cfg Config) *Producer {
	p := &Producer{
		writers: make(map[string]*kafkago.Writer),
		brokers: cfg.Brokers,
	}
	if cfg.TLS {
		p.tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return p
}

// Publish sends messages to topic and blocks until the broker acknowledges
// them from every in-sync replica (publisher confirm). Transient Kafka
// errors (leader election, topic auto-creation races) are retried with a
// short linear backoff; everything else is returned immediately.
func (p *Producer) Publish(ctx context.Context, topic string, messages ...Message) error {
	w := p.writerFor(topic)

	batch := make([]kafkago.Message, 0, len(messages))
	for _, m := range messages {
		km := kafkago.Message{Key: m.Key, Value: m.Value}
		for k, v := range m.Headers {
			km.Headers = append(km.Headers, kafkago.Header{Key: k, Value: []byte(v)})
		}
		batch = append(batch, km)
	}

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if err := w.WriteMessages(ctx, batch...); err != nil {
			lastErr = err
			if isTransient(err) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
					continue
				}
			}
			return fmt.Errorf("broker: publish to %s: %w", topic, err)
		}
		return nil
	}
	return fmt.Errorf("broker: publish to %s after 5 attempts: %w", topic, lastErr)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Leader Not Available") ||
		strings.Contains(s, "Not Leader") ||
		strings.Contains(s, "Unknown Topic Or Partition")
}

func (p *Producer) writerFor(topic string) *kafkago.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{}, // key-affinity: one loan's messages stay ordered on one partition
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	p.writers[topic] = w
	return w
}

// Close closes every writer the producer has opened.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("broker: close writer for %s: %w", topic, err)
		}
	}
	p.writers = make(map[string]*kafkago.Writer)
	return firstErr
}
