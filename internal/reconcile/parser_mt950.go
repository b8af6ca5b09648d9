package reconcile

import (
	"fmt"

	"github.com/bibbank/loanserve/pkg/iso20022"
	"github.com/bibbank/loanserve/pkg/money"
)

// ParseMT950 parses a SWIFT MT950 nostro statement message into the same
// ParsedTxn shape BAI2 and CAMT.053 produce, so the matcher never needs to
// know which wire format a txn came from.
func ParseMT950(raw string, account string) ([]ParsedTxn, error) {
	msg, err := iso20022.ParseMT950(raw)
	if err != nil {
		return nil, fmt.Errorf("reconcile: parse MT950: %w", err)
	}

	out := make([]ParsedTxn, 0, len(msg.Entries))
	for _, entry := range msg.Entries {
		amount, err := money.ParseDecimalMinor(entry.Amount, money.RoundHalfAwayFromZero)
		if err != nil {
			return nil, fmt.Errorf("reconcile: parse MT950 entry amount %q: %w", entry.Amount, err)
		}
		out = append(out, ParsedTxn{
			Account:     account,
			Type:        mt950TxnType(entry.DebitCredit),
			AmountMinor: amount,
			BankRef:     entry.Reference,
			Description: entry.SupplementaryDetails,
			PostedDate:  entry.ValueDate,
		})
	}
	return out, nil
}

// mt950TxnType maps an MT950 :61: debit/credit indicator to a direction.
// "RC"/"RD" mark reversals of a previously reported entry.
func mt950TxnType(debitCredit string) TxnType {
	switch debitCredit {
	case "RC", "RD":
		return TxnReturn
	case "D":
		return TxnDebit
	default:
		return TxnCredit
	}
}
