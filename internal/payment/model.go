// Package payment implements the intake/validate/post pipeline (spec C5):
// three durable-queue stages that turn a raw gateway event into a balanced
// ledger posting, plus the outbox dispatcher that hands each stage's
// published events to the broker.
package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
)

// PaymentType tags how a validated payment relates to the active schedule.
type PaymentType string

const (
	PaymentTypeScheduled  PaymentType = "scheduled"
	PaymentTypeOverpayment PaymentType = "overpayment"
	PaymentTypePartial    PaymentType = "partial"
)

// RawGatewayEvent is the unparsed input to the intake stage.
type RawGatewayEvent struct {
	LoanID        uuid.UUID
	GatewayTxnID  string
	Method        string
	AmountMinor   money.Minor
	Currency      string
	ReceivedAt    time.Time
	EffectiveDate time.Time
	Source        string
	RawPayload    json.RawMessage
}

// IdempotencyKey computes SHA-256(loan|gateway_txn|amount|currency|effective_date)
// hex-encoded, per spec §4.5.
func IdempotencyKey(loanID uuid.UUID, gatewayTxnID string, amountMinor money.Minor, currency string, effectiveDate time.Time) string {
	raw := fmt.Sprintf("%s|%s|%d|%s|%s", loanID, gatewayTxnID, amountMinor, currency, effectiveDate.Format("2006-01-02"))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// PaymentIntake is the durable record of a received gateway event, keyed by
// IdempotencyKey to make re-delivery a no-op (spec §3 PaymentIntake).
type PaymentIntake struct {
	PaymentID      uuid.UUID
	LoanID         uuid.UUID
	Method         string
	AmountMinor    money.Minor
	Currency       string
	ReceivedAt     time.Time
	GatewayTxnID   string
	Source         string
	IdempotencyKey string
	EffectiveDate  time.Time
	RawPayload     json.RawMessage
}

// AllocationHints carries classification the validator derives from the
// active schedule (spec §4.5 rule 6).
type AllocationHints struct {
	PaymentType PaymentType `json:"payment_type,omitempty"`
}

// PaymentValidation is the durable record of the validator's verdict (spec
// §3 PaymentValidation).
type PaymentValidation struct {
	PaymentID       uuid.UUID
	IsValid         bool
	Reason          string
	RetryAfter      time.Duration
	AllocationHints AllocationHints
	EffectiveDate   time.Time
}

// PaymentPosting is the durable record of the poster's ledger write (spec
// §3 PaymentPosting).
type PaymentPosting struct {
	PaymentID   uuid.UUID
	EventID     uuid.UUID
	Applied     map[string]money.Minor
	NewBalances map[string]money.Minor
}

// OutboxRow is one row of the durable outbox table (spec §3 Outbox):
// topic/payload/attempt bookkeeping for at-least-once delivery.
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

// Outbox topic names published by the pipeline's three stages (spec §4.5).
const (
	TopicPaymentReceived  = "payment.received.v1"
	TopicPaymentValidated = "payment.validated.v1"
	TopicPaymentFailed    = "payment.failed.v1"
	TopicPaymentPosted    = "payment.posted.v1"
	TopicPaymentPostFailed = "payment.posted.failed.v1"
)

// MaxDispatchAttempts is the attempt ceiling before a row is parked,
// requiring operator action (spec §4.5).
const MaxDispatchAttempts = 5

// MaxDispatchBackoff bounds the exponential backoff between retries.
const MaxDispatchBackoff = 60 * time.Second

// nextRetryAt computes now + min(60s, 2^attempt * 1s), per spec §4.5.
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
