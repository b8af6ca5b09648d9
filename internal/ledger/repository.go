package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// EventRepository persists events and their lines. Implementations must
// enforce correlation-ID uniqueness (Invariant L3) and must never allow an
// UPDATE or DELETE against a finalized event or its lines (Invariant L2).
type EventRepository interface {
	// Insert writes the event and its lines in PENDING (not yet finalized)
	// state. It returns ErrDuplicateCorrelation if the correlation ID
	// already exists.
	Insert(ctx context.Context, q postgres.Querier, e Event) error
	// Finalize marks the event finalized via the balance-checking stored
	// procedure, repeating the Σdebit=Σcredit check inside the same
	// transaction as defense in depth.
	Finalize(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error
	// FindByCorrelation returns the event for a correlation ID, or
	// (Event{}, false, nil) if none exists.
	FindByCorrelation(ctx context.Context, q postgres.Querier, correlationID string) (Event, bool, error)
}

// BalanceReader computes derived balances from finalized entries only
// (Invariant L4). No implementation may cache a "current balance" column.
type BalanceReader interface {
	// LatestBalances returns the per-account balance (debit − credit) for
	// a loan across all finalized entries.
	LatestBalances(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (map[Account]money.Minor, error)
	// TrialBalance aggregates finalized entries across all loans, grouped
	// by account and currency.
	TrialBalance(ctx context.Context, q postgres.Querier) ([]TrialBalanceLine, error)
}

// TrialBalanceLine is one (account, currency) subtotal of the trial
// balance.
type TrialBalanceLine struct {
	Account  Account
	Currency string
	Balance  money.Minor
}
