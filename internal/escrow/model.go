// Package escrow implements forecasting, disbursement scheduling/posting,
// and annual analysis for loan escrow accounts (spec C6).
package escrow

import (
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
)

// Frequency is how often an escrow item disburses (spec §3 EscrowItem).
type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiAnnual Frequency = "semi_annual"
	FrequencyAnnual     Frequency = "annual"
	FrequencyOnce       Frequency = "once"
)

// step returns the number of months to advance next_due_date by, per
// frequency (spec §4.6 forecast). "once" advances 100 years so the
// forecast loop always terminates without a second item type.
func (f Frequency) step() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencySemiAnnual:
		return 6
	case FrequencyAnnual:
		return 12
	case FrequencyOnce:
		return 1200
	default:
		return 1
	}
}

// DisbursementStatus is the closed lifecycle of an EscrowDisbursement
// (spec §3): scheduled -> posted, or scheduled -> canceled.
type DisbursementStatus string

const (
	DisbursementScheduled DisbursementStatus = "scheduled"
	DisbursementPosted    DisbursementStatus = "posted"
	DisbursementCanceled  DisbursementStatus = "canceled"
)

// Policy is the per-(product, jurisdiction) escrow policy (spec §3
// EscrowPolicy).
type Policy struct {
	CushionMonths               int
	ShortageAmortizationMonths  int
	DeficiencyAmortizationMonths int
	SurplusRefundThresholdMinor money.Minor
	CollectSurplusAsReduction   bool
	PayWhenInsufficient         bool
	Rounding                    money.RoundingMode
}

// Item is one active disbursement configuration on a loan (spec §3
// EscrowItem): a recurring obligation like property tax or hazard
// insurance.
type Item struct {
	EscrowID      string
	LoanID        uuid.UUID
	Type          string
	Payee         string
	AmountMinor   money.Minor
	Frequency     Frequency
	NextDueDate   time.Time
}

// ForecastRow is one projected disbursement (spec §3 EscrowForecast),
// unique on (loan, escrow_id, due_date).
type ForecastRow struct {
	LoanID      uuid.UUID
	EscrowID    string
	DueDate     time.Time
	AmountMinor money.Minor
}

// Disbursement is a scheduled or posted escrow payment (spec §3
// EscrowDisbursement).
type Disbursement struct {
	DisbID      uuid.UUID
	LoanID      uuid.UUID
	EscrowID    string
	DueDate     time.Time
	AmountMinor money.Minor
	Status      DisbursementStatus
	EventID     *uuid.UUID
}

// Analysis is one version of the annual escrow analysis (spec §3
// EscrowAnalysis); Version increments monotonically per loan.
type Analysis struct {
	LoanID                    uuid.UUID
	AsOf                      time.Time
	PeriodStart               time.Time
	PeriodEnd                 time.Time
	AnnualExpectedMinor       money.Minor
	CushionTargetMinor        money.Minor
	CurrentBalanceMinor       money.Minor
	ShortageMinor             money.Minor
	DeficiencyMinor           money.Minor
	SurplusMinor              money.Minor
	NewMonthlyTargetMinor     money.Minor
	DeficiencyRecoveryMonthly money.Minor
	Version                   int
}

// Outbox topic names published by the forecast and disbursement stages
// (spec §6, SPEC_FULL §C6 supplement).
const (
	TopicEscrowForecast     = "escrow.forecast.v1"
	TopicEscrowDisbursement = "escrow.disbursement.v1"
)

// OutboxRow mirrors payment.OutboxRow's shape (spec §3 Outbox), kept as
// its own type so this package does not import internal/payment or
// mutate the teacher's shared pkg/events.OutboxEntry.
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
