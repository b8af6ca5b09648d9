package ach_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/ach"
)

func sealedBatchFixture() (ach.Batch, []ach.Entry) {
	sealedAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	b := ach.Batch{
		BatchID:          uuid.New(),
		Status:           ach.BatchSealed,
		CompanyID:        "COMP123",
		CompanyName:      "Bib Bank Servicing",
		ODFIRouting:      "021000021",
		EntryDescription: "LOANPMT",
		EffectiveDate:    time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		EntryCount:       1,
		EntryHash:        11100002,
		DebitTotalMinor:  25000,
		SealedAt:         &sealedAt,
	}
	entries := []ach.Entry{
		{
			EntryID:             uuid.New(),
			BatchID:             b.BatchID,
			TxnCode:             ach.TxnCheckingDebit,
			RDFIRouting:         "111000025",
			AccountNumberMasked: "****6789",
			AmountMinor:         25000,
			IndividualID:        "loan-17",
			TraceNumber:         "021000020000001",
			SequenceNo:          1,
		},
	}
	return b, entries
}

func TestGenerateFile_RecordsAreFixedWidth(t *testing.T) {
	b, entries := sealedBatchFixture()
	out, err := ach.GenerateFile(b, entries, "011000015", "Bib Bank", "Receiving Bank", '1')
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 10)
	for i, line := range lines {
		assert.Len(t, line, 94, "line %d wrong width", i)
	}

	assert.Equal(t, byte('1'), lines[0][0])
	assert.Equal(t, byte('5'), lines[1][0])
	assert.Equal(t, byte('6'), lines[2][0])
	assert.Equal(t, byte('8'), lines[3][0])
	assert.Equal(t, byte('9'), lines[4][0])
	for _, filler := range lines[5:] {
		assert.Equal(t, strings.Repeat("9", 94), filler)
	}
}

func TestGenerateFile_RequiresSealedBatch(t *testing.T) {
	b, entries := sealedBatchFixture()
	b.Status = ach.BatchOpen
	_, err := ach.GenerateFile(b, entries, "011000015", "Bib Bank", "Receiving Bank", '1')
	assert.Error(t, err)
}

func TestGenerateFile_RequiresEntries(t *testing.T) {
	b, _ := sealedBatchFixture()
	_, err := ach.GenerateFile(b, nil, "011000015", "Bib Bank", "Receiving Bank", '1')
	assert.Error(t, err)
}
