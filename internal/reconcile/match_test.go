package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/internal/reconcile"
	"github.com/bibbank/loanserve/pkg/money"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// TestMatcher_AutoMatchesWorkedExample reproduces spec's worked example #4:
// a ledger event on 2025-03-10 with correlation_id
// "payment:loan:17:gw:ABC" credits cash 250.00; a bank credit txn the same
// day for 25000 minor whose description contains the correlation id in a
// different case. Score = 60 (exact) + 30 (same day) + 100 (correlation
// substring) = 190 >= 85, so it auto-matches.
func TestMatcher_AutoMatchesWorkedExample(t *testing.T) {
	stmts := newFakeStatements()
	loanID := uuid.New()
	eventID := uuid.New()
	bankTxnID := uuid.New()

	stmts.txns[bankTxnID] = reconcile.BankTxn{
		ID:          bankTxnID,
		Type:        reconcile.TxnCredit,
		AmountMinor: 25000,
		PostedDate:  date("2025-03-10"),
		Description: "payment:loan:17:gw:abc",
	}

	cash := newFakeCashEvents(reconcile.CashEvent{
		EventID:       eventID,
		LoanID:        loanID,
		EffectiveDate: date("2025-03-10"),
		CorrelationID: "payment:loan:17:gw:ABC",
		NetMinor:      25000,
	})

	exceptions := newFakeExceptions()
	outbox := newFakeOutbox()
	matcher := reconcile.NewMatcher(&fakeTxRunner{}, stmts, cash, exceptions, &fakeLedgerPoster{}, outbox, testLogger())

	result, err := matcher.Match(context.Background(), bankTxnID)
	require.NoError(t, err)
	assert.True(t, result.AutoMatched)
	assert.Equal(t, eventID, result.EventID)
	assert.Equal(t, 190, result.TopScore)
	assert.True(t, stmts.txns[bankTxnID].Matched)
	assert.Len(t, outbox.rows, 1)
}

func TestMatcher_NoCandidateOpensException(t *testing.T) {
	stmts := newFakeStatements()
	bankTxnID := uuid.New()
	stmts.txns[bankTxnID] = reconcile.BankTxn{
		ID:          bankTxnID,
		Type:        reconcile.TxnCredit,
		AmountMinor: 5000,
		PostedDate:  date("2025-03-10"),
	}

	cash := newFakeCashEvents()
	exceptions := newFakeExceptions()
	outbox := newFakeOutbox()
	matcher := reconcile.NewMatcher(&fakeTxRunner{}, stmts, cash, exceptions, &fakeLedgerPoster{}, outbox, testLogger())

	result, err := matcher.Match(context.Background(), bankTxnID)
	require.NoError(t, err)
	assert.False(t, result.AutoMatched)
	assert.False(t, stmts.txns[bankTxnID].Matched)
	assert.Contains(t, exceptions.byTxn, bankTxnID)
	assert.Equal(t, reconcile.ExceptionNew, exceptions.byTxn[bankTxnID].Status)
	assert.Equal(t, money.Minor(5000), exceptions.byTxn[bankTxnID].VarianceMinor)
}

func TestMatcher_LowScoreOpensExceptionWithVariance(t *testing.T) {
	stmts := newFakeStatements()
	loanID := uuid.New()
	eventID := uuid.New()
	bankTxnID := uuid.New()

	stmts.txns[bankTxnID] = reconcile.BankTxn{
		ID:          bankTxnID,
		Type:        reconcile.TxnCredit,
		AmountMinor: 10000,
		PostedDate:  date("2025-03-10"),
	}
	cash := newFakeCashEvents(reconcile.CashEvent{
		EventID:       eventID,
		LoanID:        loanID,
		EffectiveDate: date("2025-03-13"),
		CorrelationID: "unrelated",
		NetMinor:      9000,
	})
	exceptions := newFakeExceptions()
	outbox := newFakeOutbox()
	matcher := reconcile.NewMatcher(&fakeTxRunner{}, stmts, cash, exceptions, &fakeLedgerPoster{}, outbox, testLogger())

	result, err := matcher.Match(context.Background(), bankTxnID)
	require.NoError(t, err)
	assert.False(t, result.AutoMatched)
	assert.Less(t, result.TopScore, 85)
	assert.Equal(t, money.Minor(1000), exceptions.byTxn[bankTxnID].VarianceMinor)
}

func TestMatcher_ManualMatchResolvesException(t *testing.T) {
	stmts := newFakeStatements()
	bankTxnID := uuid.New()
	eventID := uuid.New()
	stmts.txns[bankTxnID] = reconcile.BankTxn{ID: bankTxnID, AmountMinor: 100}

	exceptions := newFakeExceptions()
	exceptions.byTxn[bankTxnID] = reconcile.Exception{ExceptionID: uuid.New(), BankTxnID: bankTxnID, Status: reconcile.ExceptionNew}
	outbox := newFakeOutbox()
	matcher := reconcile.NewMatcher(&fakeTxRunner{}, stmts, newFakeCashEvents(), exceptions, &fakeLedgerPoster{}, outbox, testLogger())

	err := matcher.ManualMatch(context.Background(), bankTxnID, eventID, "corr-1")
	require.NoError(t, err)
	assert.True(t, stmts.txns[bankTxnID].Matched)
	assert.Equal(t, reconcile.ExceptionResolved, exceptions.byTxn[bankTxnID].Status)
	assert.Len(t, outbox.rows, 1)
}

func TestMatcher_WriteOffPostsCompensatingEntry(t *testing.T) {
	stmts := newFakeStatements()
	loanID := uuid.New()
	bankTxnID := uuid.New()
	stmts.txns[bankTxnID] = reconcile.BankTxn{ID: bankTxnID, Type: reconcile.TxnFee, AmountMinor: 1500}

	exceptions := newFakeExceptions()
	exceptions.byTxn[bankTxnID] = reconcile.Exception{ExceptionID: uuid.New(), BankTxnID: bankTxnID, Status: reconcile.ExceptionNew}
	ledgerPoster := &fakeLedgerPoster{}
	outbox := newFakeOutbox()
	matcher := reconcile.NewMatcher(&fakeTxRunner{}, stmts, newFakeCashEvents(), exceptions, ledgerPoster, outbox, testLogger())

	err := matcher.WriteOff(context.Background(), bankTxnID, loanID, date("2025-03-15"), "USD", ledger.AccountFeeExpense)
	require.NoError(t, err)

	require.Len(t, ledgerPoster.calls, 1)
	call := ledgerPoster.calls[0]
	require.Len(t, call.lines, 2)
	assert.True(t, stmts.txns[bankTxnID].Matched)
	assert.Equal(t, reconcile.ExceptionWrittenOff, exceptions.byTxn[bankTxnID].Status)
}
