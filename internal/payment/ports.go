package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/schedule"
	"github.com/bibbank/loanserve/internal/waterfall"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// TxRunner executes fn within a database transaction, passing a Querier
// scoped to it — the same shape as ledger.TxRunner, kept as its own port
// here so the payment pipeline can be wired and tested independently of
// the ledger package.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(postgres.Querier) error) error
}

// LoanStatus mirrors the closed set of loan lifecycle states the validator
// checks against (spec §4.5 rule 2), grounded on the teacher's
// valueobject.LoanStatus enum.
type LoanStatus string

const (
	LoanStatusActive     LoanStatus = "active"
	LoanStatusDelinquent LoanStatus = "delinquent"
	LoanStatusDefault    LoanStatus = "default"
	LoanStatusPaidOff    LoanStatus = "paid_off"
	LoanStatusChargedOff LoanStatus = "charged_off"
)

// Loan is the minimal loan summary the pipeline needs: existence, status,
// and the currency it bills in.
type Loan struct {
	ID       uuid.UUID
	Status   LoanStatus
	Currency string
}

// LoanLookup resolves a loan's current status (spec §4.5 rules 1-2). The
// loan aggregate itself lives outside this core (spec §1 scope).
type LoanLookup interface {
	GetLoan(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (Loan, bool, error)
}

// Policy is the product policy the poster loads before allocating (spec
// §4.5 "loads product policy (waterfall, rounding, day-count)").
type Policy struct {
	WaterfallOrder []waterfall.Bucket
	Rounding       money.RoundingMode
	DayCount       money.DayCountConvention
}

// PolicyLookup resolves the product policy in effect for a loan.
type PolicyLookup interface {
	GetPolicy(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (Policy, error)
}

// ScheduleLookup resolves the active amortization plan for a loan, used to
// derive current-period interest and to tag payment type (spec §4.5 rule
// 6, and the poster's outstanding computation).
type ScheduleLookup interface {
	ActiveSchedule(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (schedule.Plan, bool, error)
}

// OutstandingLookup resolves the balances the waterfall allocates against.
// Backed by ledger.Service.LatestBalances in production wiring.
type OutstandingLookup interface {
	Outstanding(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (waterfall.Outstanding, error)
}

// EscrowDueLookup resolves the nearest upcoming escrow disbursement amount
// for a loan, used to populate waterfall.BucketEscrow. Backed by
// internal/escrow's forecast in production wiring.
type EscrowDueLookup interface {
	NextDue(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (money.Minor, error)
}

// IntakeRepository persists PaymentIntake rows and dedupes by
// IdempotencyKey (spec §4.5 intake: "if an intake row with the same key
// exists -> ack and drop").
type IntakeRepository interface {
	FindByIdempotencyKey(ctx context.Context, q postgres.Querier, key string) (PaymentIntake, bool, error)
	Insert(ctx context.Context, q postgres.Querier, intake PaymentIntake) error
}

// IntakeLookup resolves a previously stored intake by its PaymentID, used
// by the poster to recover the payment details a validated.v1 message
// doesn't itself carry.
type IntakeLookup interface {
	FindByID(ctx context.Context, q postgres.Querier, paymentID uuid.UUID) (PaymentIntake, bool, error)
}

// ValidationRepository persists the validator's verdict.
type ValidationRepository interface {
	InsertValidation(ctx context.Context, q postgres.Querier, v PaymentValidation) error
}

// PostingRepository persists the poster's result.
type PostingRepository interface {
	InsertPosting(ctx context.Context, q postgres.Querier, p PaymentPosting) error
}

// OutboxRepository is the durable outbox port shared by all three stages
// and drained by the dispatcher (spec §3 Outbox, §4.5 dispatcher).
type OutboxRepository interface {
	Enqueue(ctx context.Context, q postgres.Querier, row OutboxRow) error
	FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]OutboxRow, error)
	MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error
	Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error
}

// Publisher sends a rendered message to a topic, acknowledged only once the
// broker confirms it (spec §4.5/§4.10 publisher confirms). Backed by
// pkg/broker.Producer in production wiring.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, payload []byte) error
}
