package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/scheduler"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCycle_FansOutOneTaskPairPerLoan(t *testing.T) {
	loan1, loan2 := uuid.New(), uuid.New()
	lister := &fakeLoanLister{loanIDs: []uuid.UUID{loan1, loan2}}
	outbox := newFakeOutbox()
	asOf := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	cyc := scheduler.NewCycle(&fakeTxRunner{}, lister, outbox, fixedClock(asOf), testLogger())
	result := cyc.Run(context.Background())

	require.Nil(t, result.FailedStep)
	require.NoError(t, result.FailureErr)
	assert.Equal(t, 2, result.LoanCount)
	assert.NotNil(t, result.CompletedAt)
	require.Len(t, outbox.rows, 4)

	topics := map[string]int{}
	for _, row := range outbox.rows {
		topics[row.Topic]++
	}
	assert.Equal(t, 2, topics[scheduler.TopicEscrowCycleRequested])
	assert.Equal(t, 2, topics[scheduler.TopicCollectionsCycleRequested])
}

func TestCycle_NoActiveLoansIsANoOp(t *testing.T) {
	lister := &fakeLoanLister{}
	outbox := newFakeOutbox()
	cyc := scheduler.NewCycle(&fakeTxRunner{}, lister, outbox, fixedClock(time.Now()), testLogger())

	result := cyc.Run(context.Background())
	assert.Equal(t, 0, result.LoanCount)
	assert.Empty(t, outbox.rows)
	assert.NotNil(t, result.CompletedAt)
}

func TestCycle_ListFailureSetsFailedStep(t *testing.T) {
	lister := &fakeLoanLister{err: errors.New("connection reset")}
	outbox := newFakeOutbox()
	cyc := scheduler.NewCycle(&fakeTxRunner{}, lister, outbox, fixedClock(time.Now()), testLogger())

	result := cyc.Run(context.Background())
	require.NotNil(t, result.FailedStep)
	assert.Equal(t, scheduler.StepListLoans, *result.FailedStep)
	assert.Error(t, result.FailureErr)
	assert.Nil(t, result.CompletedAt)
}
