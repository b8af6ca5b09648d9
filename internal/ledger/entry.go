package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
)

// Line is a single debit/credit leg of an Event. Exactly one of Debit or
// Credit is positive; the other is zero.
type Line struct {
	Account Account
	Debit   money.Minor
	Credit  money.Minor
	Memo    string
}

func newLine(account Account, debit, credit money.Minor, memo string) (Line, error) {
	if !account.valid() {
		return Line{}, fmt.Errorf("%w: account %q", ErrInvalidLine, account)
	}
	debitPositive := debit > 0
	creditPositive := credit > 0
	if debit < 0 || credit < 0 {
		return Line{}, fmt.Errorf("%w: negative amount", ErrInvalidLine)
	}
	if debitPositive == creditPositive {
		return Line{}, fmt.Errorf("%w: exactly one of debit/credit must be positive", ErrInvalidLine)
	}
	return Line{Account: account, Debit: debit, Credit: credit, Memo: memo}, nil
}

// DebitLine builds a Line with a positive debit leg.
func DebitLine(account Account, amount money.Minor, memo string) (Line, error) {
	return newLine(account, amount, 0, memo)
}

// CreditLine builds a Line with a positive credit leg.
func CreditLine(account Account, amount money.Minor, memo string) (Line, error) {
	return newLine(account, 0, amount, memo)
}

func (l Line) swapped() Line {
	return Line{Account: l.Account, Debit: l.Credit, Credit: l.Debit, Memo: "Reversal: " + l.Memo}
}

// Event is the append-only, balanced unit of ledger mutation (spec C2).
// Event and its Lines are never updated once FinalizedAt is set — Reverse
// produces a sibling Event rather than mutating this one.
type Event struct {
	ID            uuid.UUID
	LoanID        uuid.UUID
	EffectiveDate time.Time
	Schema        string
	CorrelationID string
	Currency      string
	Lines         []Line
	FinalizedAt   *time.Time
	CreatedAt     time.Time
}

// SchemaReversal is the schema assigned to the sibling event produced by
// Reverse.
const SchemaReversal = "posting.reversal.v1"

// NewEvent constructs and balance-checks a new Event. It does not finalize
// it — finalization is the ledger service's job, inside a transaction that
// also enforces correlation-ID uniqueness.
func NewEvent(loanID uuid.UUID, effectiveDate time.Time, schema, correlationID, currency string, lines []Line) (Event, error) {
	if loanID == uuid.Nil {
		return Event{}, fmt.Errorf("ledger: loan ID is required")
	}
	if correlationID == "" {
		return Event{}, fmt.Errorf("ledger: correlation ID is required")
	}
	if len(lines) == 0 {
		return Event{}, fmt.Errorf("%w: at least one line required", ErrInvalidLine)
	}

	var debits, credits money.Minor
	for _, l := range lines {
		if !l.Account.valid() {
			return Event{}, fmt.Errorf("%w: account %q", ErrInvalidLine, l.Account)
		}
		debits += l.Debit
		credits += l.Credit
	}
	if debits != credits || debits == 0 {
		return Event{}, fmt.Errorf("%w: debits=%d credits=%d", ErrUnbalanced, debits, credits)
	}

	return Event{
		ID:            uuid.New(),
		LoanID:        loanID,
		EffectiveDate: effectiveDate,
		Schema:        schema,
		CorrelationID: correlationID,
		Currency:      currency,
		Lines:         lines,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Reverse builds the sibling reversal event: every line's debit/credit legs
// are swapped, schema is SchemaReversal, and the correlation ID is derived
// so a reversal of the same event is itself idempotent.
func (e Event) Reverse(effectiveDate time.Time) (Event, error) {
	lines := make([]Line, len(e.Lines))
	for i, l := range e.Lines {
		lines[i] = l.swapped()
	}
	return NewEvent(e.LoanID, effectiveDate, SchemaReversal, "reversal:"+e.ID.String(), e.Currency, lines)
}

// Balanced reports whether Σdebit == Σcredit != 0 across all lines — the
// defense-in-depth check repeated inside the posting transaction.
func (e Event) Balanced() bool {
	var debits, credits money.Minor
	for _, l := range e.Lines {
		debits += l.Debit
		credits += l.Credit
	}
	return debits == credits && debits != 0
}
