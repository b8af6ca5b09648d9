package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CycleStep names one stage of the daily per-loan escrow cycle, mirroring
// the teacher's SagaStep enumeration for the payment saga.
type CycleStep string

const (
	CycleStepForecast     CycleStep = "FORECAST"
	CycleStepSchedule     CycleStep = "SCHEDULE"
	CycleStepPost         CycleStep = "POST"
	CycleStepComplete     CycleStep = "COMPLETE"
)

// CycleResult reports what the cycle did for one loan, for logging and
// for the scheduler's own run summary.
type CycleResult struct {
	LoanID      uuid.UUID
	Scheduled   int
	Posted      int
	FailedStep  *CycleStep
	FailureErr  error
}

// Cycle runs forecast -> schedule -> post for a single loan, the unit of
// work the daily scheduler fans out per loan (spec §4.6, and the
// supplemental scheduler component).
type Cycle struct {
	forecaster *Forecaster
	scheduler  *Scheduler
	poster     *Poster
	log        *slog.Logger
}

// NewCycle wires the three stages into one daily cycle.
func NewCycle(forecaster *Forecaster, scheduler *Scheduler, poster *Poster, log *slog.Logger) *Cycle {
	return &Cycle{forecaster: forecaster, scheduler: scheduler, poster: poster, log: log}
}

// Run executes the cycle for one loan as of asOf. A failure at any step
// stops that loan's cycle but is reported in the result rather than
// panicking the caller's fan-out loop.
func (c *Cycle) Run(ctx context.Context, loanID uuid.UUID, asOf time.Time) CycleResult {
	result := CycleResult{LoanID: loanID}

	if err := c.forecaster.Run(ctx, loanID, asOf); err != nil {
		return c.fail(result, CycleStepForecast, err)
	}

	scheduled, err := c.scheduler.Run(ctx, loanID, asOf)
	if err != nil {
		return c.fail(result, CycleStepSchedule, err)
	}
	result.Scheduled = scheduled

	posted, err := c.poster.Run(ctx, loanID, asOf)
	if err != nil {
		return c.fail(result, CycleStepPost, err)
	}
	result.Posted = posted

	return result
}

func (c *Cycle) fail(result CycleResult, step CycleStep, err error) CycleResult {
	result.FailedStep = &step
	result.FailureErr = err
	c.log.Error("escrow cycle step failed", "loan_id", result.LoanID, "step", step, "error", err)
	return result
}
