package collections_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/collections"
	"github.com/bibbank/loanserve/pkg/money"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// TestDelinquencyScanner_WorkedExample reproduces spec's worked example #6:
// a 1000/month schedule due the 1st, paid only through 2025-03. On
// 2025-06-15 the earliest unpaid due date is 2025-04-01, dpd 75, bucket
// dpd_60_89. The next snapshot on 2025-07-02 computes dpd 92, bucket
// dpd_90_plus, publishes a status-changed event, and opens a foreclosure
// case.
func TestDelinquencyScanner_WorkedExample(t *testing.T) {
	due := newFakeDue()
	applied := newFakeApplied()
	fees := newFakeFees()
	snapshots := newFakeSnapshots()
	fc := newFakeForeclosures()
	outbox := newFakeOutbox()
	loanID := uuid.New()

	due.byLoan[loanID] = []collections.DueRow{
		{DueDate: date("2025-01-01"), ScheduledMinor: 1000},
		{DueDate: date("2025-02-01"), ScheduledMinor: 1000},
		{DueDate: date("2025-03-01"), ScheduledMinor: 1000},
		{DueDate: date("2025-04-01"), ScheduledMinor: 1000},
		{DueDate: date("2025-05-01"), ScheduledMinor: 1000},
		{DueDate: date("2025-06-01"), ScheduledMinor: 1000},
		{DueDate: date("2025-07-01"), ScheduledMinor: 1000},
	}
	applied.byLoan[loanID] = 3000

	scanner := collections.NewDelinquencyScanner(&fakeTxRunner{}, due, applied, fees, snapshots, fc, outbox, testLogger())

	snap, err := scanner.Run(context.Background(), loanID, date("2025-06-15"))
	require.NoError(t, err)
	require.NotNil(t, snap.EarliestUnpaidDue)
	assert.True(t, snap.EarliestUnpaidDue.Equal(date("2025-04-01")))
	assert.Equal(t, 75, snap.DPD)
	assert.Equal(t, collections.BucketDPD60to89, snap.Bucket)
	assert.Len(t, outbox.rows, 1, "first snapshot always publishes a status-changed event")
	assert.Empty(t, fc.byLoan, "dpd_60_89 does not open a foreclosure case")

	snap2, err := scanner.Run(context.Background(), loanID, date("2025-07-02"))
	require.NoError(t, err)
	assert.Equal(t, 92, snap2.DPD)
	assert.Equal(t, collections.BucketDPD90Plus, snap2.Bucket)
	assert.Len(t, outbox.rows, 3, "bucket change plus foreclosure case opened both publish")
	assert.Contains(t, fc.byLoan, loanID)
	assert.Equal(t, collections.ForeclosureOpen, fc.byLoan[loanID].Status)
}

func TestDelinquencyScanner_NoUnpaidInstallmentIsCurrent(t *testing.T) {
	due := newFakeDue()
	applied := newFakeApplied()
	fees := newFakeFees()
	snapshots := newFakeSnapshots()
	fc := newFakeForeclosures()
	outbox := newFakeOutbox()
	loanID := uuid.New()

	due.byLoan[loanID] = []collections.DueRow{
		{DueDate: date("2025-01-01"), ScheduledMinor: 1000},
	}
	applied.byLoan[loanID] = money.Minor(1000)

	scanner := collections.NewDelinquencyScanner(&fakeTxRunner{}, due, applied, fees, snapshots, fc, outbox, testLogger())
	snap, err := scanner.Run(context.Background(), loanID, date("2025-02-01"))
	require.NoError(t, err)
	assert.Nil(t, snap.EarliestUnpaidDue)
	assert.Equal(t, 0, snap.DPD)
	assert.Equal(t, collections.BucketCurrent, snap.Bucket)
}

func TestDelinquencyScanner_UnchangedBucketDoesNotPublish(t *testing.T) {
	due := newFakeDue()
	applied := newFakeApplied()
	fees := newFakeFees()
	snapshots := newFakeSnapshots()
	fc := newFakeForeclosures()
	outbox := newFakeOutbox()
	loanID := uuid.New()

	due.byLoan[loanID] = []collections.DueRow{
		{DueDate: date("2025-01-01"), ScheduledMinor: 1000},
	}
	applied.byLoan[loanID] = 0

	scanner := collections.NewDelinquencyScanner(&fakeTxRunner{}, due, applied, fees, snapshots, fc, outbox, testLogger())
	_, err := scanner.Run(context.Background(), loanID, date("2025-01-05"))
	require.NoError(t, err)
	_, err = scanner.Run(context.Background(), loanID, date("2025-01-06"))
	require.NoError(t, err)
	assert.Len(t, outbox.rows, 1, "same bucket on both snapshots publishes only once")
}
