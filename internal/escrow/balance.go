package escrow

import (
	"context"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// LedgerBalances is the narrow slice of ledger.Service the escrow engine
// needs, declared as a port so this package does not import
// internal/ledger directly except through this one adapter.
type LedgerBalances interface {
	LatestBalances(ctx context.Context, loanID uuid.UUID, q postgres.Querier) (map[ledger.Account]money.Minor, error)
}

// DefaultBalances implements BalanceLookup against ledger.Service,
// reading the current escrow_liability balance (spec §4.6 "current
// escrow liability (ledger-derived)").
type DefaultBalances struct {
	ledgerSvc LedgerBalances
}

// NewDefaultBalances wires the balance lookup to a ledger service.
func NewDefaultBalances(ledgerSvc LedgerBalances) *DefaultBalances {
	return &DefaultBalances{ledgerSvc: ledgerSvc}
}

func (b *DefaultBalances) EscrowLiability(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (money.Minor, error) {
	balances, err := b.ledgerSvc.LatestBalances(ctx, loanID, q)
	if err != nil {
		return 0, err
	}
	// LatestBalances reports debit − credit; escrow_liability is
	// credit-normal, so negate it to get the funds held.
	return -balances[ledger.AccountEscrowLiability], nil
}
