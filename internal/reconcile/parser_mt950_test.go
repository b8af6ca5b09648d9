package reconcile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/reconcile"
	"github.com/bibbank/loanserve/pkg/money"
)

func TestParseMT950_CreditAndDebitEntries(t *testing.T) {
	raw := `:20:STMT230115001
:25:DEUTDEFFXXX/DE89370400440532013000
:28C:15/1
:60F:C230114USD1000000,00
:61:230115C50000,00NTRF REF001
:86:Payment from Widget Inc Invoice 12345
:61:230115D25000,00NTRF REF002
:86:Transfer to Global Ltd
:62F:C230115USD1025000,00`

	txns, err := reconcile.ParseMT950(raw, "nostro-usd-1")
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, "nostro-usd-1", txns[0].Account)
	assert.Equal(t, reconcile.TxnCredit, txns[0].Type)
	assert.Equal(t, money.Minor(5000000), txns[0].AmountMinor)
	assert.Equal(t, "REF001", txns[0].BankRef)
	assert.Contains(t, txns[0].Description, "Widget Inc")
	assert.True(t, txns[0].PostedDate.Equal(time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, reconcile.TxnDebit, txns[1].Type)
	assert.Equal(t, money.Minor(2500000), txns[1].AmountMinor)
	assert.Equal(t, "REF002", txns[1].BankRef)
}

func TestParseMT950_InvalidMessage(t *testing.T) {
	_, err := reconcile.ParseMT950("", "nostro-usd-1")
	assert.Error(t, err)
}
