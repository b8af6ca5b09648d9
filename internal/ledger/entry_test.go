package ledger_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/pkg/money"
)

func TestNewEvent_Balanced(t *testing.T) {
	debit, err := ledger.DebitLine(ledger.AccountCash, 10000, "payment")
	require.NoError(t, err)
	credit, err := ledger.CreditLine(ledger.AccountLoanPrincipal, 10000, "principal")
	require.NoError(t, err)

	e, err := ledger.NewEvent(uuid.New(), time.Now(), "posting.payment.v1", "corr-1", "USD", []ledger.Line{debit, credit})
	require.NoError(t, err)
	assert.True(t, e.Balanced())
}

func TestNewEvent_Unbalanced(t *testing.T) {
	debit, err := ledger.DebitLine(ledger.AccountCash, 10000, "payment")
	require.NoError(t, err)
	credit, err := ledger.CreditLine(ledger.AccountLoanPrincipal, 9000, "principal")
	require.NoError(t, err)

	_, err = ledger.NewEvent(uuid.New(), time.Now(), "posting.payment.v1", "corr-1", "USD", []ledger.Line{debit, credit})
	assert.ErrorIs(t, err, ledger.ErrUnbalanced)
}

func TestDebitLine_ZeroAmountRejected(t *testing.T) {
	_, err := ledger.DebitLine(ledger.AccountCash, 0, "x")
	assert.ErrorIs(t, err, ledger.ErrInvalidLine)
}

func TestNewLine_NegativeAmountRejected(t *testing.T) {
	_, err := ledger.DebitLine(ledger.AccountCash, -5, "bad")
	assert.ErrorIs(t, err, ledger.ErrInvalidLine)
}

func TestNewLine_UnknownAccountRejected(t *testing.T) {
	_, err := ledger.DebitLine(ledger.Account("not_a_real_account"), 100, "bad")
	assert.ErrorIs(t, err, ledger.ErrInvalidLine)
}

func TestEvent_Reverse_SwapsLegs(t *testing.T) {
	debit, err := ledger.DebitLine(ledger.AccountCash, 500, "payment")
	require.NoError(t, err)
	credit, err := ledger.CreditLine(ledger.AccountFeesReceivable, 500, "fee paid")
	require.NoError(t, err)

	e, err := ledger.NewEvent(uuid.New(), time.Now(), "posting.fee.v1", "corr-2", "USD", []ledger.Line{debit, credit})
	require.NoError(t, err)

	reversal, err := e.Reverse(time.Now())
	require.NoError(t, err)
	assert.Equal(t, ledger.SchemaReversal, reversal.Schema)
	assert.True(t, reversal.Balanced())
	require.Len(t, reversal.Lines, 2)
	assert.Equal(t, ledger.AccountCash, reversal.Lines[0].Account)
	assert.Equal(t, money.Minor(500), reversal.Lines[0].Credit)
}

func TestEvent_Reverse_IsIdempotentCorrelation(t *testing.T) {
	debit, _ := ledger.DebitLine(ledger.AccountCash, 500, "payment")
	credit, _ := ledger.CreditLine(ledger.AccountFeesReceivable, 500, "fee paid")
	e, err := ledger.NewEvent(uuid.New(), time.Now(), "posting.fee.v1", "corr-3", "USD", []ledger.Line{debit, credit})
	require.NoError(t, err)

	r1, err := e.Reverse(time.Now())
	require.NoError(t, err)
	r2, err := e.Reverse(time.Now())
	require.NoError(t, err)
	assert.Equal(t, r1.CorrelationID, r2.CorrelationID)
}
