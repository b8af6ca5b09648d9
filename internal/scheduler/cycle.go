package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/postgres"
)

// Cycle runs the nightly list-loans -> fan-out-escrow -> fan-out-collections
// step list, the top-level entry point named in spec.md's data-flow
// paragraph but never given its own component letter. It is grounded on
// the teacher's PaymentSagaOrchestrator.Execute step-list shape — a small
// state machine over named steps, each one appended to CompletedSteps on
// success and short-circuiting to a FailedStep on error — applied here to
// a nightly batch instead of a single payment.
type Cycle struct {
	tx     TxRunner
	loans  LoanLister
	outbox OutboxRepository
	clock  func() time.Time
	log    *slog.Logger
}

// NewCycle wires the fan-out loop. clock is injected so tests can run a
// cycle for an arbitrary as-of date without depending on wall-clock time.
func NewCycle(tx TxRunner, loans LoanLister, outbox OutboxRepository, clock func() time.Time, log *slog.Logger) *Cycle {
	return &Cycle{tx: tx, loans: loans, outbox: outbox, clock: clock, log: log}
}

// Run lists active loans as of the cycle's clock and publishes one
// escrow-cycle task and one collections-cycle task per loan.
func (c *Cycle) Run(ctx context.Context) RunResult {
	asOf := c.clock()
	result := RunResult{AsOf: asOf}

	err := c.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		loanIDs, err := c.loans.ListActiveLoans(ctx, q, asOf)
		if err != nil {
			return c.stepError(StepListLoans, err)
		}
		result.LoanCount = len(loanIDs)

		for _, loanID := range loanIDs {
			task := LoanTask{LoanID: loanID, AsOf: asOf}
			correlationID := fmt.Sprintf("scheduler:%s:%s", loanID, asOf.Format("2006-01-02"))

			if err := enqueueOutbox(ctx, q, c.outbox, TopicEscrowCycleRequested, uuid.New(), "scheduler.escrow_cycle_requested.v1", correlationID, task); err != nil {
				return c.stepError(StepFanOutEscrow, err)
			}
			if err := enqueueOutbox(ctx, q, c.outbox, TopicCollectionsCycleRequested, uuid.New(), "scheduler.collections_cycle_requested.v1", correlationID, task); err != nil {
				return c.stepError(StepFanOutCollections, err)
			}
		}
		return nil
	})

	if err != nil {
		if stepErr, ok := err.(*stepFailure); ok {
			step := stepErr.step
			result.FailedStep = &step
			result.FailureErr = stepErr.cause
		} else {
			result.FailureErr = err
		}
		c.log.ErrorContext(ctx, "scheduler cycle failed", "as_of", asOf, "error", err)
		return result
	}

	now := time.Now().UTC()
	result.CompletedAt = &now
	c.log.InfoContext(ctx, "scheduler cycle complete", "as_of", asOf, "loan_count", result.LoanCount)
	return result
}

type stepFailure struct {
	step  Step
	cause error
}

func (f *stepFailure) Error() string {
	return fmt.Sprintf("scheduler: step %s failed: %v", f.step, f.cause)
}

func (f *stepFailure) Unwrap() error {
	return f.cause
}

func (c *Cycle) stepError(step Step, cause error) error {
	return &stepFailure{step: step, cause: cause}
}
