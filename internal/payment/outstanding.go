package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/internal/waterfall"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// DefaultOutstanding computes waterfall.Outstanding from the ledger's
// derived balances plus the active schedule's current-period interest —
// the production OutstandingLookup the poster wires against.
type DefaultOutstanding struct {
	ledgerSvc *ledger.Service
	schedules ScheduleLookup
	escrow    EscrowDueLookup
}

// NewDefaultOutstanding wires an OutstandingLookup to the ledger, schedule,
// and escrow-forecast ports it composes.
func NewDefaultOutstanding(ledgerSvc *ledger.Service, schedules ScheduleLookup, escrowDue EscrowDueLookup) *DefaultOutstanding {
	return &DefaultOutstanding{ledgerSvc: ledgerSvc, schedules: schedules, escrow: escrowDue}
}

// Outstanding splits the ledger's accrued interest_receivable balance into
// "past due" and "current period" by comparing it against the schedule's
// interest accrued through today (spec §4.5 "computes outstanding from
// ledger-derived balances plus current-period interest from the active
// schedule").
func (d *DefaultOutstanding) Outstanding(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (waterfall.Outstanding, error) {
	balances, err := d.ledgerSvc.LatestBalances(ctx, loanID, q)
	if err != nil {
		return nil, err
	}

	interestReceivable := balances[ledger.AccountInterestReceivable]

	var currentPeriodInterest money.Minor
	plan, hasPlan, err := d.schedules.ActiveSchedule(ctx, q, loanID)
	if err != nil {
		return nil, err
	}
	if hasPlan {
		currentPeriodInterest = plan.InterestAccruedThrough(time.Now().UTC())
	}
	if currentPeriodInterest > interestReceivable {
		currentPeriodInterest = interestReceivable
	}

	var escrowDue money.Minor
	if d.escrow != nil {
		escrowDue, err = d.escrow.NextDue(ctx, q, loanID)
		if err != nil {
			return nil, err
		}
	}

	return waterfall.Outstanding{
		waterfall.BucketFeesDue:         balances[ledger.AccountFeesReceivable],
		waterfall.BucketInterestPastDue: interestReceivable - currentPeriodInterest,
		waterfall.BucketInterestCurrent: currentPeriodInterest,
		waterfall.BucketPrincipal:       balances[ledger.AccountLoanPrincipal],
		waterfall.BucketEscrow:          escrowDue,
	}, nil
}
