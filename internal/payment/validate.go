package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bibbank/loanserve/internal/schedule"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// ValidateStage is the second pipeline stage (spec §4.5 "Validator"): runs
// the six ordered rules against a received intake and writes the verdict,
// publishing payment.validated.v1 or payment.failed.v1.
type ValidateStage struct {
	tx          TxRunner
	loans       LoanLookup
	schedules   ScheduleLookup
	validations ValidationRepository
	outbox      OutboxRepository
	log         *slog.Logger
	now         func() time.Time
}

// NewValidateStage wires the validator to its dependencies.
func NewValidateStage(tx TxRunner, loans LoanLookup, schedules ScheduleLookup, validations ValidationRepository, outbox OutboxRepository, log *slog.Logger) *ValidateStage {
	return &ValidateStage{tx: tx, loans: loans, schedules: schedules, validations: validations, outbox: outbox, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Handle runs the ordered validation rules for one intake and persists the
// resulting PaymentValidation.
func (s *ValidateStage) Handle(ctx context.Context, intake PaymentIntake) error {
	return s.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		v := s.evaluate(ctx, q, intake)

		if err := s.validations.InsertValidation(ctx, q, v); err != nil {
			return fmt.Errorf("payment: insert validation: %w", err)
		}

		topic := TopicPaymentValidated
		if !v.IsValid {
			topic = TopicPaymentFailed
		}
		if err := enqueueOutbox(ctx, q, s.outbox, topic, intake.PaymentID, "payment.validated.v1", intake.PaymentID.String(), v); err != nil {
			return err
		}

		s.log.Info("payment validated", "payment_id", intake.PaymentID, "is_valid", v.IsValid, "reason", v.Reason)
		return nil
	})
}

// invalid builds the rejection verdict for a failed rule.
func invalid(intake PaymentIntake, reason string) PaymentValidation {
	return PaymentValidation{PaymentID: intake.PaymentID, IsValid: false, Reason: reason, EffectiveDate: intake.EffectiveDate}
}

func (s *ValidateStage) evaluate(ctx context.Context, q postgres.Querier, intake PaymentIntake) PaymentValidation {
	// Rule 1: loan exists.
	loan, exists, err := s.loans.GetLoan(ctx, q, intake.LoanID)
	if err != nil {
		return invalid(intake, fmt.Sprintf("loan lookup error: %v", err))
	}
	if !exists {
		return invalid(intake, "loan does not exist")
	}

	// Rule 2: loan status not paid_off/charged_off.
	if loan.Status == LoanStatusPaidOff || loan.Status == LoanStatusChargedOff {
		return invalid(intake, fmt.Sprintf("loan status %q does not accept payments", loan.Status))
	}

	// Rule 3: amount positive.
	if intake.AmountMinor <= 0 {
		return invalid(intake, "amount_minor must be positive")
	}

	// Rule 4: currency USD for the core (multi-currency is a policy
	// extension, spec §4.5).
	if intake.Currency != "USD" {
		return invalid(intake, fmt.Sprintf("unsupported currency %q", intake.Currency))
	}

	// Rule 5: effective_date not in the future.
	today := s.now()
	if intake.EffectiveDate.After(today) {
		v := invalid(intake, "effective_date is in the future")
		v.RetryAfter = intake.EffectiveDate.Sub(today)
		return v
	}

	// Rule 6: tag allocation_hints from the active schedule, if any.
	v := PaymentValidation{PaymentID: intake.PaymentID, IsValid: true, EffectiveDate: intake.EffectiveDate}
	plan, hasPlan, err := s.schedules.ActiveSchedule(ctx, q, intake.LoanID)
	if err == nil && hasPlan {
		v.AllocationHints = classifyPaymentType(plan, intake)
	}
	return v
}

// classifyPaymentType compares the intake amount against the most recent
// due period's scheduled payment to decide scheduled/overpayment/partial
// (spec §4.5 rule 6).
func classifyPaymentType(plan schedule.Plan, intake PaymentIntake) AllocationHints {
	var matched *schedule.Row
	for i := range plan.Rows {
		row := &plan.Rows[i]
		if row.DueDate.After(intake.EffectiveDate) {
			break
		}
		matched = row
	}
	if matched == nil {
		return AllocationHints{PaymentType: PaymentTypeScheduled}
	}
	switch {
	case intake.AmountMinor > matched.TotalPaymentMinor:
		return AllocationHints{PaymentType: PaymentTypeOverpayment}
	case intake.AmountMinor < matched.TotalPaymentMinor:
		return AllocationHints{PaymentType: PaymentTypePartial}
	default:
		return AllocationHints{PaymentType: PaymentTypeScheduled}
	}
}
