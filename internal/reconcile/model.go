package reconcile

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
)

// StatementFormat identifies the bank statement wire format a BankTxn was
// parsed from (spec §4.8 / §6).
type StatementFormat string

const (
	FormatBAI2    StatementFormat = "bai2"
	FormatCAMT053 StatementFormat = "camt053"
	FormatMT950   StatementFormat = "mt950"
)

// TxnType is the normalized direction/kind of a bank statement line (spec
// §4.8's BAI2 type-code map and CAMT.053 CdtDbtInd).
type TxnType string

const (
	TxnCredit TxnType = "credit"
	TxnDebit  TxnType = "debit"
	TxnFee    TxnType = "fee"
	TxnReturn TxnType = "return"
)

// BankTxn is one normalized line from an ingested bank statement, independent
// of whether it came from BAI2 or CAMT.053.
type BankTxn struct {
	ID          uuid.UUID
	StatementID uuid.UUID
	Account     string
	Type        TxnType
	AmountMinor money.Minor
	PostedDate  time.Time
	BankRef     string
	Description string
	Matched     bool
	MatchedTo   *uuid.UUID
}

// MatchStatus is the lifecycle state of a reconciliation exception.
type MatchStatus string

const (
	ExceptionNew         MatchStatus = "new"
	ExceptionResolved    MatchStatus = "resolved"
	ExceptionWrittenOff  MatchStatus = "written_off"
)

// Exception tracks an unmatched or under-scored bank txn awaiting operator
// action (spec §4.8 "Auto-match... else create/refresh a new exception").
type Exception struct {
	ExceptionID uuid.UUID
	BankTxnID   uuid.UUID
	Status      MatchStatus
	VarianceMinor money.Minor
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// CashEvent is a candidate ledger event touching the cash account, as seen
// by the scorer (spec §4.8 "load ledger events within ±3 days on the
// account's GL cash account, summing debit − credit").
type CashEvent struct {
	EventID       uuid.UUID
	LoanID        uuid.UUID
	EffectiveDate time.Time
	CorrelationID string
	NetMinor      money.Minor
	Memo          string
}

// Candidate is a scored CashEvent for a given BankTxn (spec §4.8 table).
type Candidate struct {
	Event  CashEvent
	Score  int
	Signals []string
}

const autoMatchThreshold = 85
const candidateWindowDays = 3
const maxCandidates = 3

// topic names (spec §6 event schema enumeration).
const (
	TopicCashStatementIngested = "cash.stmt.ingested.v1"
	TopicCashReconciled        = "cash.reconciled.v1"
)

const schemaReconciliationWriteOff = "posting.reconciliation_writeoff.v1"

// OutboxRow mirrors payment.OutboxRow, escrow.OutboxRow, and
// collections.OutboxRow's shape, kept package-scoped rather than shared
// since each stage owns its own outbox table.
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
