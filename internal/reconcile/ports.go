package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// TxRunner executes fn within a database transaction — the same shape as
// ledger.TxRunner, payment.TxRunner, escrow.TxRunner, and collections.TxRunner.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(postgres.Querier) error) error
}

// StatementRepository persists parsed bank txns and looks them up for
// matching / exception handling.
type StatementRepository interface {
	InsertStatement(ctx context.Context, q postgres.Querier, statementID uuid.UUID, account string, format StatementFormat, ingestedAt time.Time) error
	InsertTxn(ctx context.Context, q postgres.Querier, txn BankTxn) error
	MarkMatched(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, eventID uuid.UUID) error
	GetTxn(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID) (BankTxn, bool, error)
	ListByStatement(ctx context.Context, q postgres.Querier, statementID uuid.UUID) ([]BankTxn, error)
}

// CashEventLookup resolves candidate ledger events touching the cash
// account within the scoring window (spec §4.8).
type CashEventLookup interface {
	CashEventsNear(ctx context.Context, q postgres.Querier, date time.Time, windowDays int) ([]CashEvent, error)
}

// ExceptionRepository tracks the new/resolved/written_off exception
// lifecycle (spec §4.8 "Manual match / write-off").
type ExceptionRepository interface {
	Upsert(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, variance money.Minor) (uuid.UUID, error)
	Resolve(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, at time.Time) error
	WriteOff(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, at time.Time) error
	OpenFor(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID) (Exception, bool, error)
}

// LedgerPoster posts the compensating entry for a write-off, and exposes
// the narrow slice of ledger.Service reconciliation needs — posting
// balanced lines directly rather than one of the fixed posting helpers,
// since a write-off's account pair varies by bank txn type.
type LedgerPoster interface {
	PostEvent(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, schema, currency string, lines []ledger.Line) (uuid.UUID, error)
}

// OutboxRepository enqueues outbound messages transactionally alongside
// the causing write (spec §4.10), and is drained by the dispatcher
// (mirrors internal/payment's OutboxRepository).
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
