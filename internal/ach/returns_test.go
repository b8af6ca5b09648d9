package ach_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/ach"
)

func TestReturnProcessor_RetryableCodeSchedulesRetryAndReversal(t *testing.T) {
	loanID := uuid.New()
	entry := ach.Entry{EntryID: uuid.New(), LoanID: &loanID, TraceNumber: "021000020000001"}
	entries := newFakeEntryLookup()
	entries.byTrace[entry.TraceNumber] = entry

	returns := newFakeReturns()
	outbox := newFakeOutbox()
	proc := ach.NewReturnProcessor(&fakeTxRunner{}, entries, returns, outbox, testLogger())

	err := proc.ProcessReturn(context.Background(), entry.TraceNumber, ach.ReturnR01InsufficientFunds, "NSF", time.Now())
	require.NoError(t, err)

	require.Len(t, outbox.rows, 2)
	topics := []string{outbox.rows[0].Topic, outbox.rows[1].Topic}
	assert.Contains(t, topics, ach.TopicPaymentReversalRequested)
	assert.Contains(t, topics, ach.TopicACHReturnRetryScheduled)
}

func TestReturnProcessor_NonRetryableCodeOpensException(t *testing.T) {
	entry := ach.Entry{EntryID: uuid.New(), TraceNumber: "021000020000002"}
	entries := newFakeEntryLookup()
	entries.byTrace[entry.TraceNumber] = entry

	returns := newFakeReturns()
	outbox := newFakeOutbox()
	proc := ach.NewReturnProcessor(&fakeTxRunner{}, entries, returns, outbox, testLogger())

	err := proc.ProcessReturn(context.Background(), entry.TraceNumber, ach.ReturnR02AccountClosed, "account closed", time.Now())
	require.NoError(t, err)

	require.Len(t, outbox.rows, 1)
	assert.Equal(t, ach.TopicACHReturnExceptionOpened, outbox.rows[0].Topic)
}

func TestReturnProcessor_IdempotentOnEntryID(t *testing.T) {
	entry := ach.Entry{EntryID: uuid.New(), TraceNumber: "021000020000003"}
	entries := newFakeEntryLookup()
	entries.byTrace[entry.TraceNumber] = entry

	returns := newFakeReturns()
	outbox := newFakeOutbox()
	proc := ach.NewReturnProcessor(&fakeTxRunner{}, entries, returns, outbox, testLogger())

	require.NoError(t, proc.ProcessReturn(context.Background(), entry.TraceNumber, ach.ReturnR02AccountClosed, "account closed", time.Now()))
	require.NoError(t, proc.ProcessReturn(context.Background(), entry.TraceNumber, ach.ReturnR02AccountClosed, "account closed", time.Now()))

	assert.Len(t, outbox.rows, 1)
}
