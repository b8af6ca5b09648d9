// Package collections implements daily delinquency bucketing, late-fee
// assessment, payment-plan lifecycle, and foreclosure milestone tracking
// (spec C7).
package collections

import (
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
)

// Bucket is the closed delinquency bucket set (spec §4.7 step 5).
type Bucket string

const (
	BucketCurrent    Bucket = "current"
	BucketDPD1to29   Bucket = "dpd_1_29"
	BucketDPD30to59  Bucket = "dpd_30_59"
	BucketDPD60to89  Bucket = "dpd_60_89"
	BucketDPD90Plus  Bucket = "dpd_90_plus"
)

// bucketFor maps a day-past-due count to its bucket (spec §4.7 step 5).
func bucketFor(dpd int) Bucket {
	switch {
	case dpd <= 0:
		return BucketCurrent
	case dpd <= 29:
		return BucketDPD1to29
	case dpd <= 59:
		return BucketDPD30to59
	case dpd <= 89:
		return BucketDPD60to89
	default:
		return BucketDPD90Plus
	}
}

// DueRow is one scheduled amount due on or before the as-of date, merging
// the amortization schedule's principal+interest with any escrow amount
// due the same date (spec §4.7 step 1).
type DueRow struct {
	DueDate        time.Time
	ScheduledMinor money.Minor
}

// Snapshot is one loan's delinquency state as of a given date (spec §3
// DelinquencySnapshot), unique on (loan, as_of_date).
type Snapshot struct {
	LoanID           uuid.UUID
	AsOfDate         time.Time
	EarliestUnpaidDue *time.Time
	DPD              int
	Bucket           Bucket
	CreatedAt        time.Time
}

// LateFeeBasis selects which amount a late fee's percentage is computed
// against (spec §4.7 "Late fee").
type LateFeeBasis string

const (
	BasisScheduledPI    LateFeeBasis = "scheduled_pi"
	BasisTotalDue       LateFeeBasis = "total_due"
	BasisPrincipalOnly  LateFeeBasis = "principal_only"
)

// LateFeePolicy is the per-loan late-fee configuration (spec §4.7 "Late
// fee"). FixedAmountMinor > 0 selects a flat fee instead of a percentage.
type LateFeePolicy struct {
	GraceDays        int
	Basis            LateFeeBasis
	PercentBps       int64
	CapMinor         money.Minor
	FixedAmountMinor money.Minor
}

// Assessment is one posted late fee (spec §3 LateFeeAssessment), unique on
// (loan, period_due_date).
type Assessment struct {
	LoanID        uuid.UUID
	PeriodDueDate time.Time
	AmountMinor   money.Minor
	EventID       uuid.UUID
	CreatedAt     time.Time
}

// PlanStatus is the closed payment-plan lifecycle (spec §4.7 "Plan
// lifecycle"): Draft -> Active -> {Completed, Defaulted, Canceled}.
type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "draft"
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusDefaulted PlanStatus = "defaulted"
	PlanStatusCanceled  PlanStatus = "canceled"
)

// InstallmentStatus is one installment's state within a plan (spec §4.7
// "Payment application walks installments... setting each to paid when
// cumulative paid >= scheduled; remaining -> partial or pending").
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
)

// Installment is one scheduled step of a payment plan.
type Installment struct {
	InstallmentNo        int
	DueDate              time.Time
	ScheduledAmountMinor money.Minor
	PaidAmountMinor      money.Minor
	Status               InstallmentStatus
}

// Plan is a loan's payment plan (spec §3 PaymentPlan): one active plan per
// loan, enforced by a partial unique index in postgres.
type Plan struct {
	PlanID        uuid.UUID
	LoanID        uuid.UUID
	Status        PlanStatus
	Installments  []Installment
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ForeclosureStatus is a case's open/closed state (spec §3 ForeclosureCase).
type ForeclosureStatus string

const (
	ForeclosureOpen   ForeclosureStatus = "open"
	ForeclosureClosed ForeclosureStatus = "closed"
)

// Milestone is one step in a foreclosure timeline (spec §4.7
// "Foreclosure"). sale_completed, reinstated, and redeemed are terminal.
type Milestone string

const (
	MilestoneReferral         Milestone = "referral"
	MilestoneNoticeOfDefault  Milestone = "notice_of_default"
	MilestoneSaleScheduled    Milestone = "sale_scheduled"
	MilestoneSaleCompleted    Milestone = "sale_completed"
	MilestoneReinstated       Milestone = "reinstated"
	MilestoneRedeemed         Milestone = "redeemed"
)

// isTerminal reports whether hitting this milestone closes the case (spec
// §4.7: "Terminal milestones {sale_completed, reinstated, redeemed} close
// the case").
func (m Milestone) isTerminal() bool {
	switch m {
	case MilestoneSaleCompleted, MilestoneReinstated, MilestoneRedeemed:
		return true
	default:
		return false
	}
}

// ForeclosureCase tracks one loan's foreclosure action (spec §3
// ForeclosureCase). Outcome is set when a terminal milestone closes the
// case: "closed" if the sale completed, "normal" otherwise (spec §4.7
// "update the collection-case status (closed if sale completed, else
// normal)").
type ForeclosureCase struct {
	CaseID   uuid.UUID
	LoanID   uuid.UUID
	Status   ForeclosureStatus
	Outcome  string
	OpenedAt time.Time
	ClosedAt *time.Time
}

// Event is one foreclosure milestone hit, unique on (fc_id, milestone).
type Event struct {
	CaseID    uuid.UUID
	Milestone Milestone
	HitAt     time.Time
}

// Outbox topic names published by this package (spec §6, SPEC_FULL §C7
// supplement).
const (
	TopicDelinquencyStatusChanged = "delinquency.status.changed.v1"
	TopicLateFeeAssessed          = "latefee.assessed.v1"
	TopicForeclosureCaseOpened    = "foreclosure.case.opened.v1"
	TopicForeclosureMilestoneHit  = "foreclosure.milestone.hit.v1"
)

// OutboxRow mirrors payment.OutboxRow and escrow.OutboxRow's shape, kept as
// its own type for the same reason: each durable-queue owner gets its own
// narrow port rather than a cross-package dependency.
type OutboxRow struct {
	EventID      uuid.UUID
	Topic        string
	Payload      []byte
	CreatedAt    time.Time
	PublishedAt  *time.Time
	AttemptCount int
	NextRetryAt  time.Time
	LastError    string
	Parked       bool
}

// MaxDispatchAttempts is the attempt ceiling before a row is parked,
// requiring operator action, mirroring internal/payment's dispatcher.
const MaxDispatchAttempts = 5

// MaxDispatchBackoff bounds the exponential backoff between retries.
const MaxDispatchBackoff = 60 * time.Second

// nextRetryAt computes now + min(60s, 2^attempt * 1s).
func nextRetryAt(now time.Time, attempt int) time.Time {
	backoff := time.Duration(1) * time.Second
	for i := 0; i < attempt && backoff < MaxDispatchBackoff; i++ {
		backoff *= 2
	}
	if backoff > MaxDispatchBackoff {
		backoff = MaxDispatchBackoff
	}
	return now.Add(backoff)
}
