package collections

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// LateFeeAssessor assesses the late fee for one loan and due date, once
// (spec §4.7 "Late fee").
type LateFeeAssessor struct {
	tx       TxRunner
	policies LateFeePolicyLookup
	amounts  DueAmountLookup
	assess   AssessmentRepository
	ledger   LedgerPoster
	outbox   OutboxRepository
	currency string
	log      *slog.Logger
}

// NewLateFeeAssessor wires the assessor to its dependencies.
func NewLateFeeAssessor(tx TxRunner, policies LateFeePolicyLookup, amounts DueAmountLookup, assess AssessmentRepository, ledger LedgerPoster, outbox OutboxRepository, currency string, log *slog.Logger) *LateFeeAssessor {
	return &LateFeeAssessor{tx: tx, policies: policies, amounts: amounts, assess: assess, ledger: ledger, outbox: outbox, currency: currency, log: log}
}

// Run assesses the fee for (loanID, dueDate) as of asOf if grace has
// elapsed, the base isn't fully paid, and no assessment exists yet. It
// returns zero with no error when no fee is due.
func (a *LateFeeAssessor) Run(ctx context.Context, loanID uuid.UUID, dueDate, asOf time.Time) (money.Minor, error) {
	var feeMinor money.Minor
	err := a.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		policy, err := a.policies.GetPolicy(ctx, q, loanID)
		if err != nil {
			return fmt.Errorf("collections: load late fee policy: %w", err)
		}

		grace := dueDate.AddDate(0, 0, policy.GraceDays)
		if asOf.Before(grace) {
			return nil
		}

		exists, err := a.assess.Exists(ctx, q, loanID, dueDate)
		if err != nil {
			return fmt.Errorf("collections: check existing assessment: %w", err)
		}
		if exists {
			return nil
		}

		amounts, found, err := a.amounts.DueAmounts(ctx, q, loanID, dueDate)
		if err != nil {
			return fmt.Errorf("collections: load due amounts: %w", err)
		}
		if !found {
			return nil
		}

		base := baseAmount(policy.Basis, amounts)
		if amounts.AppliedMinor >= base {
			return nil
		}

		fee := computeLateFee(policy, base)
		if fee <= 0 {
			return nil
		}

		eventID, err := a.ledger.PostFeeAssessment(ctx, loanID, asOf, assessmentCorrelationID(loanID, dueDate), a.currency, fee, true)
		if err != nil {
			return fmt.Errorf("collections: post late fee: %w", err)
		}

		assessment := Assessment{
			LoanID:        loanID,
			PeriodDueDate: dueDate,
			AmountMinor:   fee,
			EventID:       eventID,
			CreatedAt:     time.Now().UTC(),
		}
		if err := a.assess.InsertAssessment(ctx, q, assessment); err != nil {
			return fmt.Errorf("collections: insert assessment: %w", err)
		}

		if err := enqueueOutbox(ctx, q, a.outbox, TopicLateFeeAssessed, uuid.New(), "latefee.assessed.v1", loanID.String(), lateFeeAssessedPayload{
			LoanID:        loanID,
			PeriodDueDate: dueDate,
			AmountMinor:   fee,
			EventID:       eventID,
		}); err != nil {
			return err
		}

		feeMinor = fee
		return nil
	})
	return feeMinor, err
}

// baseAmount selects the base amount a late fee's percentage applies to
// (spec §4.7 "Base amount selectable from {scheduled_pi, total_due,
// principal_only}").
func baseAmount(basis LateFeeBasis, a DueAmounts) money.Minor {
	switch basis {
	case BasisTotalDue:
		return a.TotalDueMinor
	case BasisPrincipalOnly:
		return a.PrincipalOnlyMinor
	default:
		return a.ScheduledPIMinor
	}
}

// computeLateFee implements "max(0, min(cap, floor(base × percent_bps /
// 10000)))" or a fixed amount (spec §4.7 "Late fee"). Division truncates
// toward zero, which for non-negative operands is floor.
func computeLateFee(policy LateFeePolicy, base money.Minor) money.Minor {
	if policy.FixedAmountMinor > 0 {
		return clampFee(policy.FixedAmountMinor, policy.CapMinor)
	}
	raw := money.Minor(int64(base) * policy.PercentBps / 10000)
	return clampFee(raw, policy.CapMinor)
}

func clampFee(fee, cap money.Minor) money.Minor {
	if fee < 0 {
		fee = 0
	}
	if cap > 0 && fee > cap {
		fee = cap
	}
	return fee
}

func assessmentCorrelationID(loanID uuid.UUID, dueDate time.Time) string {
	return fmt.Sprintf("latefee:%s:%s", loanID, dueDate.Format("2006-01-02"))
}

type lateFeeAssessedPayload struct {
	LoanID        uuid.UUID   `json:"loan_id"`
	PeriodDueDate time.Time   `json:"period_due_date"`
	AmountMinor   money.Minor `json:"amount_minor"`
	EventID       uuid.UUID   `json:"event_id"`
}
