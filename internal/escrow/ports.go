package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// TxRunner executes fn within a database transaction — the same shape as
// ledger.TxRunner and payment.TxRunner, declared locally so this package
// stays independently wireable and testable.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(postgres.Querier) error) error
}

// ItemLookup resolves the active escrow items configured on a loan (spec
// §3 EscrowItem; the product/item configuration aggregate lives outside
// this core, per spec §1 scope).
type ItemLookup interface {
	ActiveItems(ctx context.Context, q postgres.Querier, loanID uuid.UUID) ([]Item, error)
}

// PolicyLookup resolves the escrow policy in effect for a loan.
type PolicyLookup interface {
	GetPolicy(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (Policy, error)
}

// ForecastRepository replaces a loan's forecast horizon in one
// delete-then-insert transaction (spec §4.6: "the forecast replaces the
// prior horizon for the loan").
type ForecastRepository interface {
	ReplaceHorizon(ctx context.Context, q postgres.Querier, loanID uuid.UUID, rows []ForecastRow) error
	ForecastWindow(ctx context.Context, q postgres.Querier, loanID uuid.UUID, from, to time.Time) ([]ForecastRow, error)
}

// DisbursementRepository persists EscrowDisbursement rows and enforces
// the "at most one non-canceled disbursement per (loan, escrow_id,
// due_date)" uniqueness (spec §5 ordering guarantees).
type DisbursementRepository interface {
	Exists(ctx context.Context, q postgres.Querier, loanID uuid.UUID, escrowID string, dueDate time.Time) (bool, error)
	InsertDisbursement(ctx context.Context, q postgres.Querier, d Disbursement) error
	DueScheduled(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) ([]Disbursement, error)
	MarkPosted(ctx context.Context, q postgres.Querier, disbID uuid.UUID, eventID uuid.UUID) error
}

// BalanceLookup resolves the current escrow liability balance for a loan,
// backed by ledger.Service.LatestBalances in production wiring.
type BalanceLookup interface {
	EscrowLiability(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (money.Minor, error)
}

// LedgerPoster is the narrow slice of ledger.Service the disbursement
// poster needs, declared as a port so this package does not import
// internal/ledger directly.
type LedgerPoster interface {
	PostEscrowPayment(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, currency string, amount, available money.Minor) (uuid.UUID, error)
}

// AnalysisRepository persists annual escrow analyses and resolves the
// previous version to increment from (spec §3: "version monotonically
// increasing per loan").
type AnalysisRepository interface {
	LatestVersion(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (int, error)
	Insert(ctx context.Context, q postgres.Querier, a Analysis) error
}

// OutboxRepository is the durable outbox port for escrow events, drained
// by the dispatcher (mirrors internal/payment's OutboxRepository).
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
