package ach

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
)

// BatchStatus is the ACH batch lifecycle (spec §4.9 "open → sealed →
// filed → settled|failed").
type BatchStatus string

const (
	BatchOpen    BatchStatus = "open"
	BatchSealed  BatchStatus = "sealed"
	BatchFiled   BatchStatus = "filed"
	BatchSettled BatchStatus = "settled"
	BatchFailed  BatchStatus = "failed"
)

// TxnCode is a NACHA entry detail transaction code (spec §4.9).
type TxnCode int

const (
	TxnCheckingCredit TxnCode = 22
	TxnCheckingDebit  TxnCode = 27
	TxnSavingsCredit  TxnCode = 32
	TxnSavingsDebit   TxnCode = 37
)

func (c TxnCode) isDebit() bool {
	return c == TxnCheckingDebit || c == TxnSavingsDebit
}

// Batch is one NACHA batch: a sealed batch's entries and totals are
// frozen (spec §4.9 "On seal, assign trace numbers... and freeze
// totals").
type Batch struct {
	BatchID          uuid.UUID
	Status           BatchStatus
	CompanyID        string
	CompanyName      string
	ODFIRouting      string
	EntryDescription string
	EffectiveDate    time.Time
	EntryCount       int
	EntryHash        int64
	DebitTotalMinor  money.Minor
	CreditTotalMinor money.Minor
	CreatedAt        time.Time
	SealedAt         *time.Time
	FiledAt          *time.Time
	SettledAt        *time.Time
}

// Entry is one NACHA entry detail record.
type Entry struct {
	EntryID             uuid.UUID
	BatchID             uuid.UUID
	LoanID              *uuid.UUID
	TxnCode             TxnCode
	RDFIRouting         string
	AccountNumberMasked string
	AmountMinor         money.Minor
	IndividualID        string
	TraceNumber         string
	SequenceNo          int
}

// ReturnCode is a NACHA return reason code (spec §4.9 "Returns").
type ReturnCode string

const (
	ReturnR01InsufficientFunds ReturnCode = "R01"
	ReturnR02AccountClosed     ReturnCode = "R02"
	ReturnR03NoAccount         ReturnCode = "R03"
	ReturnR04InvalidAccount    ReturnCode = "R04"
	ReturnR08PaymentStopped    ReturnCode = "R08"
	ReturnR09UncollectedFunds  ReturnCode = "R09"
)

// retryable is spec §4.9's "(e.g., NSF / uncollected funds)" example
// taken literally as the full membership of the retryable set.
var retryableReturnCodes = map[ReturnCode]bool{
	ReturnR01InsufficientFunds: true,
	ReturnR09UncollectedFunds:  true,
}

func (c ReturnCode) retryable() bool {
	return retryableReturnCodes[c]
}

// Return is a posted ACH return for one entry.
type Return struct {
	ReturnID   uuid.UUID
	EntryID    uuid.UUID
	Code       ReturnCode
	Reason     string
	ReceivedAt time.Time
}

// topic names (spec §6's enumeration does not name ACH-specific topics;
// these extend it the way C7's delinquency/foreclosure topics extend the
// enumeration for signals the spec describes in prose but doesn't list).
const (
	TopicPaymentReversalRequested = "payment.reversal.requested"
	TopicACHReturnRetryScheduled  = "ach.return.retry_scheduled.v1"
	TopicACHReturnExceptionOpened = "ach.return.exception_opened.v1"
)

// OutboxRow mirrors the other components' outbox row shape.
type OutboxRow struct {
	EventID      uuid.UUID
	Topic        string
	Payload      json.RawMessage
	CreatedAt    time.Time
	NextRetryAt  time.Time
	AttemptCount int
	PublishedAt  *time.Time
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
