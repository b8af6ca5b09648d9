package ach

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// TxRunner matches the transactional-boundary port shared by every
// component (internal/collections.TxRunner, internal/reconcile.TxRunner).
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(q postgres.Querier) error) error
}

// BatchRepository persists NACHA batches and their entries.
type BatchRepository interface {
	OpenBatch(ctx context.Context, q postgres.Querier, b Batch) (uuid.UUID, error)
	GetBatch(ctx context.Context, q postgres.Querier, batchID uuid.UUID) (Batch, error)
	AddEntry(ctx context.Context, q postgres.Querier, e Entry) (uuid.UUID, error)
	ListEntries(ctx context.Context, q postgres.Querier, batchID uuid.UUID) ([]Entry, error)
	SealBatch(ctx context.Context, q postgres.Querier, batchID uuid.UUID, entryCount int, entryHash int64, debitTotal, creditTotal money.Minor, sealedAt time.Time) error
	StampTrace(ctx context.Context, q postgres.Querier, entryID uuid.UUID, traceNumber string) error
	MarkFiled(ctx context.Context, q postgres.Querier, batchID uuid.UUID, filedAt time.Time) error
	MarkSettled(ctx context.Context, q postgres.Querier, batchID uuid.UUID, settledAt time.Time) error
	MarkFailed(ctx context.Context, q postgres.Querier, batchID uuid.UUID) error
	NextSequence(ctx context.Context, q postgres.Querier, batchID uuid.UUID) (int, error)
}

// EntryLookup resolves an entry by the trace number stamped on it at
// seal time, used when processing a return.
type EntryLookup interface {
	GetEntryByTrace(ctx context.Context, q postgres.Querier, traceNumber string) (Entry, error)
}

// ReturnRepository persists ACH returns, idempotent on entry id (spec
// §4.9 "insert return row (idempotent on entry id)").
type ReturnRepository interface {
	InsertReturn(ctx context.Context, q postgres.Querier, r Return) (uuid.UUID, bool, error)
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
