package collections

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// TxRunner executes fn within a database transaction — the same shape as
// ledger.TxRunner, payment.TxRunner, and escrow.TxRunner.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(postgres.Querier) error) error
}

// ScheduledDueLookup resolves the rows scheduled on or before asOf, merging
// the amortization schedule and any escrow amounts due the same dates
// (spec §4.7 step 1).
type ScheduledDueLookup interface {
	DueRows(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) ([]DueRow, error)
}

// AppliedPaymentsLookup resolves the cumulative principal+interest+
// escrow+fees applied from posted payments on or before asOf (spec §4.7
// step 2).
type AppliedPaymentsLookup interface {
	AppliedThrough(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) (money.Minor, error)
}

// AssessedFeesLookup resolves the cumulative fees assessed on or before
// asOf (spec §4.7 step 1: "add assessed fees").
type AssessedFeesLookup interface {
	AssessedThrough(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) (money.Minor, error)
}

// SnapshotRepository persists delinquency snapshots and resolves the prior
// one to diff the bucket against (spec §4.7 step 6).
type SnapshotRepository interface {
	Previous(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (Snapshot, bool, error)
	Upsert(ctx context.Context, q postgres.Querier, s Snapshot) error
}

// LateFeePolicyLookup resolves the late-fee policy in effect for a loan.
type LateFeePolicyLookup interface {
	GetPolicy(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (LateFeePolicy, error)
}

// DueAmountLookup resolves one due date's scheduled amounts and how much of
// them has been applied, to compute late-fee base and the "base fully
// paid" check (spec §4.7 "If base is fully paid -> no fee").
type DueAmountLookup interface {
	DueAmounts(ctx context.Context, q postgres.Querier, loanID uuid.UUID, dueDate time.Time) (amounts DueAmounts, found bool, err error)
}

// DueAmounts holds one due date's scheduled amounts under each late-fee
// basis and how much of the total due has been applied (spec §4.7 "Base
// amount selectable from {scheduled_pi, total_due, principal_only}").
type DueAmounts struct {
	ScheduledPIMinor   money.Minor
	TotalDueMinor      money.Minor
	PrincipalOnlyMinor money.Minor
	AppliedMinor       money.Minor
}

// AssessmentRepository persists late-fee assessments, enforcing UNIQUE
// (loan, period_due_date) idempotency (spec §4.7 "once").
type AssessmentRepository interface {
	Exists(ctx context.Context, q postgres.Querier, loanID uuid.UUID, dueDate time.Time) (bool, error)
	InsertAssessment(ctx context.Context, q postgres.Querier, a Assessment) error
}

// LedgerPoster is the narrow slice of ledger.Service the late-fee stage
// needs, declared as a port so this package does not import internal/ledger
// directly.
type LedgerPoster interface {
	PostFeeAssessment(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, currency string, amount money.Minor, isLateFee bool) (uuid.UUID, error)
}

// PlanRepository persists payment plans.
type PlanRepository interface {
	ActivePlan(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (Plan, bool, error)
	InsertPlan(ctx context.Context, q postgres.Querier, p Plan) error
	UpdatePlan(ctx context.Context, q postgres.Querier, p Plan) error
	PastDueActivePlans(ctx context.Context, q postgres.Querier, asOf time.Time) ([]Plan, error)
}

// ForeclosureRepository persists foreclosure cases and milestone events.
type ForeclosureRepository interface {
	OpenCaseFor(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (ForeclosureCase, bool, error)
	InsertCase(ctx context.Context, q postgres.Querier, c ForeclosureCase) error
	MilestoneExists(ctx context.Context, q postgres.Querier, caseID uuid.UUID, m Milestone) (bool, error)
	InsertEvent(ctx context.Context, q postgres.Querier, e Event) error
	CloseCase(ctx context.Context, q postgres.Querier, c ForeclosureCase) error
}

// OutboxRepository is the durable outbox port for collections events,
// drained by the dispatcher (mirrors internal/payment's OutboxRepository).
type OutboxRepository interface {
	Enqueue(ctx context.Context, q postgres.Querier, row OutboxRow) error
	FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]OutboxRow, error)
	MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error
	Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error
}

// Publisher sends a rendered message to a topic, acknowledged only once
// the broker confirms it. Backed by pkg/broker.Producer in production
// wiring.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, payload []byte) error
}
