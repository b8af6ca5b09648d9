package scheduler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/broker"
)

// Topic names the scheduler fans a day's per-loan work out onto: the
// canonical escrow.saga / collections.saga topics from pkg/broker
// (spec §4.10's topic topology), not a scheduler-private name.
const (
	TopicEscrowCycleRequested      = broker.TopicEscrowSaga
	TopicCollectionsCycleRequested = broker.TopicCollectionsSaga
)

// LoanTask is the payload published for one loan/subsystem pair.
type LoanTask struct {
	LoanID uuid.UUID `json:"loan_id"`
	AsOf   time.Time `json:"as_of"`
}

// Step names one stage of the daily cycle, mirroring the teacher's
// SagaStep enumeration for the payment saga and internal/escrow's
// CycleStep for the per-loan cycle, applied here to the top-level nightly
// batch instead.
type Step string

const (
	StepListLoans         Step = "LIST_LOANS"
	StepFanOutEscrow      Step = "FAN_OUT_ESCROW"
	StepFanOutCollections Step = "FAN_OUT_COLLECTIONS"
	StepComplete          Step = "COMPLETE"
)

// RunResult reports what one daily cycle did, for logging and tests.
type RunResult struct {
	AsOf        time.Time
	LoanCount   int
	FailedStep  *Step
	FailureErr  error
	CompletedAt *time.Time
}

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
