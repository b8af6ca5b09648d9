package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
)

// Thin, contract-preserving posting helpers (spec §4.2). Each composes a
// balanced Event and delegates to PostEvent; none bypasses the correlation
// or balance checks.

const (
	SchemaPaymentReceived  = "posting.payment.v1"
	SchemaInterestAccrual  = "posting.interest_accrual.v1"
	SchemaFeeAssessment    = "posting.fee.v1"
	SchemaLateFeeAssessed  = "posting.late_fee.v1"
	SchemaEscrowPayment    = "escrow.disbursement.v1"
	SchemaLoanOrigination  = "posting.origination.v1"
	SchemaChargeOff        = "posting.chargeoff.v1"
)

// PostPaymentReceived debits cash and credits each allocation's target
// account for a posted payment. allocations maps a credit account to the
// minor-unit amount applied to it (zero amounts are omitted by the
// caller — the waterfall allocator already drops them).
func (s *Service) PostPaymentReceived(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, currency string, allocations map[Account]money.Minor, total money.Minor) (uuid.UUID, error) {
	lines := make([]Line, 0, len(allocations)+1)
	debit, err := DebitLine(AccountCash, total, "Payment received")
	if err != nil {
		return uuid.Nil, err
	}
	lines = append(lines, debit)
	for account, amount := range allocations {
		if amount <= 0 {
			continue
		}
		credit, err := CreditLine(account, amount, creditMemo(account))
		if err != nil {
			return uuid.Nil, err
		}
		lines = append(lines, credit)
	}
	return s.PostEvent(ctx, loanID, effectiveDate, correlationID, SchemaPaymentReceived, currency, lines)
}

func creditMemo(account Account) string {
	switch account {
	case AccountFeesReceivable:
		return "Fees paid"
	case AccountInterestReceivable:
		return "Interest paid"
	case AccountLoanPrincipal:
		return "Principal reduction"
	case AccountEscrowLiability:
		return "Escrow deposit"
	case AccountSuspense:
		return "Prepayment / Future payment"
	default:
		return "Payment applied"
	}
}

// PostInterestAccrual debits interest receivable and credits interest
// income for the period's accrued interest.
func (s *Service) PostInterestAccrual(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, currency string, amount money.Minor) (uuid.UUID, error) {
	debit, err := DebitLine(AccountInterestReceivable, amount, "Interest accrued")
	if err != nil {
		return uuid.Nil, err
	}
	credit, err := CreditLine(AccountInterestIncome, amount, "Interest accrued")
	if err != nil {
		return uuid.Nil, err
	}
	return s.PostEvent(ctx, loanID, effectiveDate, correlationID, SchemaInterestAccrual, currency, []Line{debit, credit})
}

// PostFeeAssessment debits fees receivable and credits fee income.
func (s *Service) PostFeeAssessment(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, currency string, amount money.Minor, isLateFee bool) (uuid.UUID, error) {
	incomeAccount := AccountFeeIncome
	schema := SchemaFeeAssessment
	if isLateFee {
		incomeAccount = AccountLateFeeIncome
		schema = SchemaLateFeeAssessed
	}
	debit, err := DebitLine(AccountFeesReceivable, amount, "Fee assessed")
	if err != nil {
		return uuid.Nil, err
	}
	credit, err := CreditLine(incomeAccount, amount, "Fee assessed")
	if err != nil {
		return uuid.Nil, err
	}
	return s.PostEvent(ctx, loanID, effectiveDate, correlationID, schema, currency, []Line{debit, credit})
}

// PostEscrowPayment posts an escrow disbursement. When available is less
// than amount, the shortfall is posted as a second pair against
// escrow_advances (spec §4.6 disbursement posting).
func (s *Service) PostEscrowPayment(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, currency string, amount, available money.Minor) (uuid.UUID, error) {
	var lines []Line
	if available >= amount {
		d, err := DebitLine(AccountEscrowLiability, amount, "Escrow disbursement")
		if err != nil {
			return uuid.Nil, err
		}
		c, err := CreditLine(AccountCash, amount, "Escrow disbursement")
		if err != nil {
			return uuid.Nil, err
		}
		lines = []Line{d, c}
	} else {
		shortfall := amount - available
		d1, err := DebitLine(AccountEscrowAdvances, shortfall, "Escrow advance (shortfall)")
		if err != nil {
			return uuid.Nil, err
		}
		c1, err := CreditLine(AccountCash, shortfall, "Escrow advance (shortfall)")
		if err != nil {
			return uuid.Nil, err
		}
		lines = []Line{d1, c1}
		if available > 0 {
			d2, err := DebitLine(AccountEscrowLiability, available, "Escrow disbursement")
			if err != nil {
				return uuid.Nil, err
			}
			c2, err := CreditLine(AccountCash, available, "Escrow disbursement")
			if err != nil {
				return uuid.Nil, err
			}
			lines = append(lines, d2, c2)
		}
	}
	return s.PostEvent(ctx, loanID, effectiveDate, correlationID, SchemaEscrowPayment, currency, lines)
}

// PostLoanOrigination books the initial principal advance: debit loan
// principal, credit cash.
func (s *Service) PostLoanOrigination(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, currency string, principal money.Minor) (uuid.UUID, error) {
	d, err := DebitLine(AccountLoanPrincipal, principal, "Loan origination")
	if err != nil {
		return uuid.Nil, err
	}
	c, err := CreditLine(AccountCash, principal, "Loan origination")
	if err != nil {
		return uuid.Nil, err
	}
	return s.PostEvent(ctx, loanID, effectiveDate, correlationID, SchemaLoanOrigination, currency, []Line{d, c})
}

// PostChargeOff writes off the remaining principal balance against the
// write-off expense account.
func (s *Service) PostChargeOff(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, currency string, remainingPrincipal money.Minor) (uuid.UUID, error) {
	if remainingPrincipal <= 0 {
		return uuid.Nil, fmt.Errorf("ledger: charge-off amount must be positive, got %d", remainingPrincipal)
	}
	d, err := DebitLine(AccountWriteoffExpense, remainingPrincipal, "Charge-off")
	if err != nil {
		return uuid.Nil, err
	}
	c, err := CreditLine(AccountLoanPrincipal, remainingPrincipal, "Charge-off")
	if err != nil {
		return uuid.Nil, err
	}
	return s.PostEvent(ctx, loanID, effectiveDate, correlationID, SchemaChargeOff, currency, []Line{d, c})
}
