package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/postgres"
)

// TxRunner matches the transactional-boundary port shared by every
// component.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(q postgres.Querier) error) error
}

// LoanLister lists loans due for daily fan-out. asOf is the cycle's
// as-of date, letting tests run a cycle for an arbitrary day.
type LoanLister interface {
	ListActiveLoans(ctx context.Context, q postgres.Querier, asOf time.Time) ([]uuid.UUID, error)
}

// OutboxRepository is the shared outbox-enqueue port, drained by the
// dispatcher (mirrors internal/payment's OutboxRepository).
type OutboxRepository interface {
	Enqueue(ctx context.Context, q postgres.Querier, row OutboxRow) error
	FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]OutboxRow, error)
	MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error
	Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error
}

// Publisher sends a rendered message to a topic, acknowledged only once
// the broker confirms it. Backed by pkg/broker.Producer in production
// wiring.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, payload []byte) error
}
