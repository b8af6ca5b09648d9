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

// PlanService manages a loan's payment-plan lifecycle (spec §4.7 "Plan
// lifecycle"): Draft -> Active -> {Completed, Defaulted, Canceled}.
type PlanService struct {
	tx     TxRunner
	plans  PlanRepository
	fc     ForeclosureRepository
	outbox OutboxRepository
	log    *slog.Logger
}

// NewPlanService wires the service to its dependencies.
func NewPlanService(tx TxRunner, plans PlanRepository, fc ForeclosureRepository, outbox OutboxRepository, log *slog.Logger) *PlanService {
	return &PlanService{tx: tx, plans: plans, fc: fc, outbox: outbox, log: log}
}

// ErrPlanAlreadyActive is returned when creating a plan for a loan that
// already has one active (spec §4.7: "One active plan per loan").
var ErrPlanAlreadyActive = fmt.Errorf("collections: loan already has an active payment plan")

// Create starts a new plan in Draft status.
func (s *PlanService) Create(ctx context.Context, q postgres.Querier, loanID uuid.UUID, installments []Installment) (Plan, error) {
	if _, active, err := s.plans.ActivePlan(ctx, q, loanID); err != nil {
		return Plan{}, fmt.Errorf("collections: check active plan: %w", err)
	} else if active {
		return Plan{}, ErrPlanAlreadyActive
	}

	now := time.Now().UTC()
	for i := range installments {
		installments[i].Status = InstallmentPending
	}
	plan := Plan{
		PlanID:       uuid.New(),
		LoanID:       loanID,
		Status:       PlanStatusDraft,
		Installments: installments,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.plans.InsertPlan(ctx, q, plan); err != nil {
		return Plan{}, fmt.Errorf("collections: insert plan: %w", err)
	}
	return plan, nil
}

// Activate transitions a Draft plan to Active.
func (s *PlanService) Activate(ctx context.Context, q postgres.Querier, plan Plan) (Plan, error) {
	if plan.Status != PlanStatusDraft {
		return plan, fmt.Errorf("collections: plan %s is not in draft status", plan.PlanID)
	}
	plan.Status = PlanStatusActive
	plan.UpdatedAt = time.Now().UTC()
	if err := s.plans.UpdatePlan(ctx, q, plan); err != nil {
		return plan, fmt.Errorf("collections: activate plan: %w", err)
	}
	return plan, nil
}

// ApplyPayment walks the active plan's installments by ascending
// installment_no, applying amountMinor cumulatively and setting each to
// paid once its cumulative applied amount reaches its scheduled amount;
// the remainder is partial or pending (spec §4.7 "Plan lifecycle"). When
// every installment is paid the plan completes, which additionally closes
// any open foreclosure case on the same loan (SPEC_FULL §C7 supplement).
func (s *PlanService) ApplyPayment(ctx context.Context, loanID uuid.UUID, amountMinor money.Minor) (Plan, error) {
	var result Plan
	err := s.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		plan, ok, err := s.plans.ActivePlan(ctx, q, loanID)
		if err != nil {
			return fmt.Errorf("collections: load active plan: %w", err)
		}
		if !ok {
			return fmt.Errorf("collections: no active plan for loan %s", loanID)
		}

		remaining := amountMinor
		allPaid := true
		for i := range plan.Installments {
			inst := &plan.Installments[i]
			if remaining > 0 && inst.Status != InstallmentPaid {
				inst.PaidAmountMinor += remaining
				remaining = 0
			}
			switch {
			case inst.PaidAmountMinor >= inst.ScheduledAmountMinor:
				inst.Status = InstallmentPaid
				if inst.PaidAmountMinor > inst.ScheduledAmountMinor {
					// Overflow carries to the next installment rather than
					// being lost.
					overflow := inst.PaidAmountMinor - inst.ScheduledAmountMinor
					inst.PaidAmountMinor = inst.ScheduledAmountMinor
					remaining += overflow
				}
			case inst.PaidAmountMinor > 0:
				inst.Status = InstallmentPartial
				allPaid = false
			default:
				inst.Status = InstallmentPending
				allPaid = false
			}
		}

		plan.UpdatedAt = time.Now().UTC()
		if allPaid {
			plan.Status = PlanStatusCompleted
		}
		if err := s.plans.UpdatePlan(ctx, q, plan); err != nil {
			return fmt.Errorf("collections: update plan: %w", err)
		}

		if plan.Status == PlanStatusCompleted {
			if err := s.closeOpenForeclosureCase(ctx, q, loanID); err != nil {
				return err
			}
		}

		result = plan
		return nil
	})
	return result, err
}

// DefaultSweep marks every active plan with a past-due pending or partial
// installment as Defaulted (spec §4.7: "A daily sweep marks plans with any
// past-due installment in pending|partial as Defaulted").
func (s *PlanService) DefaultSweep(ctx context.Context, asOf time.Time) (int, error) {
	var defaulted int
	err := s.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		plans, err := s.plans.PastDueActivePlans(ctx, q, asOf)
		if err != nil {
			return fmt.Errorf("collections: load past-due plans: %w", err)
		}

		for _, plan := range plans {
			if !hasPastDueUnpaidInstallment(plan, asOf) {
				continue
			}
			plan.Status = PlanStatusDefaulted
			plan.UpdatedAt = time.Now().UTC()
			if err := s.plans.UpdatePlan(ctx, q, plan); err != nil {
				return fmt.Errorf("collections: default plan %s: %w", plan.PlanID, err)
			}
			defaulted++
		}
		return nil
	})
	return defaulted, err
}

func hasPastDueUnpaidInstallment(plan Plan, asOf time.Time) bool {
	for _, inst := range plan.Installments {
		if inst.DueDate.After(asOf) {
			continue
		}
		if inst.Status == InstallmentPending || inst.Status == InstallmentPartial {
			return true
		}
	}
	return false
}

func (s *PlanService) closeOpenForeclosureCase(ctx context.Context, q postgres.Querier, loanID uuid.UUID) error {
	fc, open, err := s.fc.OpenCaseFor(ctx, q, loanID)
	if err != nil {
		return fmt.Errorf("collections: check open foreclosure case: %w", err)
	}
	if !open {
		return nil
	}
	now := time.Now().UTC()
	fc.Status = ForeclosureClosed
	fc.Outcome = "normal"
	fc.ClosedAt = &now
	if err := s.fc.CloseCase(ctx, q, fc); err != nil {
		return fmt.Errorf("collections: close foreclosure case %s: %w", fc.CaseID, err)
	}
	return nil
}
