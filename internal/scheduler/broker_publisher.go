package scheduler

import (
	"context"

	"github.com/bibbank/loanserve/pkg/broker"
)

// BrokerPublisher adapts pkg/broker.Producer to the Publisher port the
// dispatcher depends on (mirrors internal/payment.BrokerPublisher).
type BrokerPublisher struct {
	producer *broker.Producer
}

// NewBrokerPublisher wraps an already-configured broker.Producer.
func NewBrokerPublisher(producer *broker.Producer) *BrokerPublisher {
	return &BrokerPublisher{producer: producer}
}

func (p *BrokerPublisher) Publish(ctx context.Context, topic string, key []byte, payload []byte) error {
	return p.producer.Publish(ctx, topic, broker.Message{Key: key, Value: payload})
}
