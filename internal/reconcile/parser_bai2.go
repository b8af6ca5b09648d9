package reconcile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bibbank/loanserve/pkg/money"
)

// ParsedTxn is one normalized statement line before it is assigned a
// BankTxn ID and persisted.
type ParsedTxn struct {
	Account     string
	Type        TxnType
	AmountMinor money.Minor
	BankRef     string
	Description string
	PostedDate  time.Time
}

// ParseBAI2 parses a BAI2 bank statement (spec §4.8). It handles record
// codes 01/02/03/16/88/49/98/99, mirroring the teacher's MT950 parser's
// field-prefix dispatch over \n-split lines, adapted from SWIFT field tags
// to BAI2 record codes.
//
// This is a simplified parser covering the core record set used for cash
// reconciliation. A full BAI2 implementation also tracks group-level
// control totals, which reconciliation does not need.
func ParseBAI2(raw string) ([]ParsedTxn, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("reconcile: empty BAI2 statement")
	}

	var out []ParsedTxn
	var currentAccount string
	var current *ParsedTxn

	lines := strings.Split(strings.TrimSpace(raw), "\n")
	for _, line := range lines {
		line = strings.TrimRight(strings.TrimSpace(line), "/")
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		code := fields[0]

		switch code {
		case "03":
			if current != nil {
				out = append(out, *current)
				current = nil
			}
			if len(fields) > 1 {
				currentAccount = fields[1]
			}
		case "16":
			if current != nil {
				out = append(out, *current)
			}
			txn, err := parseBAI216Record(fields, currentAccount)
			if err != nil {
				return nil, err
			}
			current = &txn
		case "88":
			if current != nil && len(fields) > 1 {
				current.Description = strings.TrimSpace(current.Description + " " + strings.Join(fields[1:], ","))
			}
		case "49", "98", "99":
			if current != nil {
				out = append(out, *current)
				current = nil
			}
		case "01", "02":
			// File/group header: no txn-relevant fields for reconciliation.
		default:
			// Unrecognized record code: ignore rather than fail closed,
			// since BAI2 feeds vary by bank in which optional codes appear.
		}
	}
	if current != nil {
		out = append(out, *current)
	}
	return out, nil
}

// parseBAI216Record parses a 16 (transaction detail) record's fields:
// typeCode, amountCents, reference, description, date?
func parseBAI216Record(fields []string, account string) (ParsedTxn, error) {
	if len(fields) < 4 {
		return ParsedTxn{}, fmt.Errorf("reconcile: BAI2 16 record too short: %q", strings.Join(fields, ","))
	}
	typeCode := fields[1]
	amountStr := fields[2]
	reference := fields[3]

	description := ""
	if len(fields) > 4 {
		description = fields[4]
	}

	var postedDate time.Time
	if len(fields) > 5 && fields[5] != "" {
		d, err := parseBAI2Date(fields[5])
		if err != nil {
			return ParsedTxn{}, err
		}
		postedDate = d
	}

	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil {
		return ParsedTxn{}, fmt.Errorf("reconcile: parse BAI2 amount %q: %w", amountStr, err)
	}
	if amount < 0 {
		amount = -amount
	}

	return ParsedTxn{
		Account:     account,
		Type:        bai2TxnType(typeCode),
		AmountMinor: money.Minor(amount),
		BankRef:     reference,
		Description: description,
		PostedDate:  postedDate,
	}, nil
}

// bai2TxnType maps a BAI2 type code's first digit to a direction (spec
// §4.8: "1|2 → credit; 4|5 → debit; 6 → fee; 7 → return; else credit").
func bai2TxnType(typeCode string) TxnType {
	if typeCode == "" {
		return TxnCredit
	}
	switch typeCode[0] {
	case '4', '5':
		return TxnDebit
	case '6':
		return TxnFee
	case '7':
		return TxnReturn
	default:
		return TxnCredit
	}
}

// parseBAI2Date parses a YYMMDD date with the spec's pivot rule: yy < 50
// means 20YY, else 19YY.
func parseBAI2Date(s string) (time.Time, error) {
	if len(s) != 6 {
		return time.Time{}, fmt.Errorf("reconcile: BAI2 date must be 6 digits, got %q", s)
	}
	yy, err := strconv.Atoi(s[0:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("reconcile: parse BAI2 date %q: %w", s, err)
	}
	month, err := strconv.Atoi(s[2:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("reconcile: parse BAI2 date %q: %w", s, err)
	}
	day, err := strconv.Atoi(s[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("reconcile: parse BAI2 date %q: %w", s, err)
	}
	year := 1900 + yy
	if yy < 50 {
		year = 2000 + yy
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}
