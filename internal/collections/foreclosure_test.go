package collections_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/collections"
)

func TestForeclosureService_SaleCompletedClosesCaseAsClosed(t *testing.T) {
	fc := newFakeForeclosures()
	outbox := newFakeOutbox()
	loanID := uuid.New()
	caseID := uuid.New()
	fc.byLoan[loanID] = collections.ForeclosureCase{CaseID: caseID, LoanID: loanID, Status: collections.ForeclosureOpen}

	svc := collections.NewForeclosureService(&fakeTxRunner{}, fc, outbox, testLogger())
	err := svc.HitMilestone(context.Background(), caseID, loanID, collections.MilestoneSaleCompleted, date("2025-03-01"))
	require.NoError(t, err)

	assert.Equal(t, collections.ForeclosureClosed, fc.byLoan[loanID].Status)
	assert.Equal(t, "closed", fc.byLoan[loanID].Outcome)
	assert.NotNil(t, fc.byLoan[loanID].ClosedAt)
}

func TestForeclosureService_ReinstatedClosesCaseAsNormal(t *testing.T) {
	fc := newFakeForeclosures()
	outbox := newFakeOutbox()
	loanID := uuid.New()
	caseID := uuid.New()
	fc.byLoan[loanID] = collections.ForeclosureCase{CaseID: caseID, LoanID: loanID, Status: collections.ForeclosureOpen}

	svc := collections.NewForeclosureService(&fakeTxRunner{}, fc, outbox, testLogger())
	err := svc.HitMilestone(context.Background(), caseID, loanID, collections.MilestoneReinstated, date("2025-03-01"))
	require.NoError(t, err)

	assert.Equal(t, collections.ForeclosureClosed, fc.byLoan[loanID].Status)
	assert.Equal(t, "normal", fc.byLoan[loanID].Outcome)
}

func TestForeclosureService_NonTerminalMilestoneLeavesCaseOpen(t *testing.T) {
	fc := newFakeForeclosures()
	outbox := newFakeOutbox()
	loanID := uuid.New()
	caseID := uuid.New()
	fc.byLoan[loanID] = collections.ForeclosureCase{CaseID: caseID, LoanID: loanID, Status: collections.ForeclosureOpen}

	svc := collections.NewForeclosureService(&fakeTxRunner{}, fc, outbox, testLogger())
	err := svc.HitMilestone(context.Background(), caseID, loanID, collections.MilestoneNoticeOfDefault, date("2025-02-01"))
	require.NoError(t, err)

	assert.Equal(t, collections.ForeclosureOpen, fc.byLoan[loanID].Status)
	assert.Len(t, fc.events[caseID], 1)
}

func TestForeclosureService_DuplicateMilestoneIsNoop(t *testing.T) {
	fc := newFakeForeclosures()
	outbox := newFakeOutbox()
	loanID := uuid.New()
	caseID := uuid.New()
	fc.byLoan[loanID] = collections.ForeclosureCase{CaseID: caseID, LoanID: loanID, Status: collections.ForeclosureOpen}

	svc := collections.NewForeclosureService(&fakeTxRunner{}, fc, outbox, testLogger())
	require.NoError(t, svc.HitMilestone(context.Background(), caseID, loanID, collections.MilestoneReferral, date("2025-01-01")))
	require.NoError(t, svc.HitMilestone(context.Background(), caseID, loanID, collections.MilestoneReferral, date("2025-01-02")))
	assert.Len(t, fc.events[caseID], 1, "UNIQUE (fc_id, milestone) makes the second hit a no-op")
}
