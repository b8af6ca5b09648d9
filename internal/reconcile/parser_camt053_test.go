package reconcile_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/reconcile"
	"github.com/bibbank/loanserve/pkg/money"
)

const sampleCamt053 = `<?xml version="1.0"?>
<Document>
  <BkToCstmrStmt>
    <Stmt>
      <Ntry>
        <Amt Ccy="USD">250.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <BookgDt><Dt>2025-03-10</Dt></BookgDt>
        <ValDt><Dt>2025-03-10</Dt></ValDt>
        <NtryDtls>
          <TxDtls>
            <Refs><AcctSvcrRef>REF001</AcctSvcrRef></Refs>
          </TxDtls>
        </NtryDtls>
        <AddtlNtryInf>payment:loan:17:gw:abc</AddtlNtryInf>
      </Ntry>
      <Ntry>
        <Amt Ccy="USD">75.50</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <BookgDt><Dt>2025-03-11</Dt></BookgDt>
        <NtryDtls>
          <TxDtls>
            <Refs><AcctSvcrRef>REF002</AcctSvcrRef></Refs>
          </TxDtls>
        </NtryDtls>
        <AddtlNtryInf>Monthly maintenance fee</AddtlNtryInf>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

func TestParseCAMT053_ExtractsEntries(t *testing.T) {
	txns, err := reconcile.ParseCAMT053(strings.NewReader(sampleCamt053), "acct-1")
	require.NoError(t, err)
	require.Len(t, txns, 2)

	credit := txns[0]
	assert.Equal(t, reconcile.TxnCredit, credit.Type)
	assert.Equal(t, money.Minor(25000), credit.AmountMinor)
	assert.Equal(t, "REF001", credit.BankRef)
	assert.True(t, credit.PostedDate.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))

	debit := txns[1]
	assert.Equal(t, reconcile.TxnDebit, debit.Type)
	assert.Equal(t, money.Minor(7550), debit.AmountMinor)
}

func TestParseCAMT053_NoEntriesIsError(t *testing.T) {
	_, err := reconcile.ParseCAMT053(strings.NewReader(`<Document><BkToCstmrStmt><Stmt></Stmt></BkToCstmrStmt></Document>`), "acct-1")
	assert.Error(t, err)
}
