package reconcile

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bibbank/loanserve/pkg/money"
)

// camtEntry mirrors the ISO 20022 camt.053 <Ntry> element's field set used
// for reconciliation (spec §4.8): Amt, CdtDbtInd, BookgDt, ValDt,
// AcctSvcrRef, AddtlNtryInf.
type camtEntry struct {
	Amt struct {
		Value string `xml:",chardata"`
		Ccy   string `xml:"Ccy,attr"`
	} `xml:"Amt"`
	CdtDbtInd string `xml:"CdtDbtInd"`
	BookgDt   struct {
		Dt       string `xml:"Dt"`
		DtTm     string `xml:"DtTm"`
	} `xml:"BookgDt"`
	ValDt struct {
		Dt   string `xml:"Dt"`
		DtTm string `xml:"DtTm"`
	} `xml:"ValDt"`
	NtryDtls struct {
		TxDtls struct {
			Refs struct {
				AcctSvcrRef string `xml:"AcctSvcrRef"`
			} `xml:"Refs"`
		} `xml:"TxDtls"`
	} `xml:"NtryDtls"`
	AddtlNtryInf string `xml:"AddtlNtryInf"`
}

// ParseCAMT053 parses a camt.053.001.11 BankToCustomerStatement message
// as streaming XML, extracting each <Ntry> element
// (spec §4.8) rather than buffering the whole document into a DOM, since
// statement files can carry thousands of entries.
func ParseCAMT053(r io.Reader, account string) ([]ParsedTxn, error) {
	dec := xml.NewDecoder(r)
	var out []ParsedTxn

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reconcile: decode CAMT.053: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Ntry" {
			continue
		}
		var entry camtEntry
		if err := dec.DecodeElement(&entry, &se); err != nil {
			return nil, fmt.Errorf("reconcile: decode CAMT.053 entry: %w", err)
		}
		txn, err := camtEntryToTxn(entry, account)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("reconcile: CAMT.053 statement contains no entries")
	}
	return out, nil
}

func camtEntryToTxn(entry camtEntry, account string) (ParsedTxn, error) {
	amount, err := money.ParseDecimalMinor(strings.TrimSpace(entry.Amt.Value), money.RoundHalfAwayFromZero)
	if err != nil {
		return ParsedTxn{}, fmt.Errorf("reconcile: parse CAMT.053 amount %q: %w", entry.Amt.Value, err)
	}

	txnType := TxnDebit
	if entry.CdtDbtInd == "CRDT" {
		txnType = TxnCredit
	}

	dateStr := entry.BookgDt.Dt
	if dateStr == "" {
		dateStr = firstNonEmpty(entry.BookgDt.DtTm, entry.ValDt.Dt, entry.ValDt.DtTm)
	}
	postedDate, err := parseCAMTDate(dateStr)
	if err != nil {
		return ParsedTxn{}, err
	}

	return ParsedTxn{
		Account:     account,
		Type:        txnType,
		AmountMinor: amount.Abs(),
		BankRef:     entry.NtryDtls.TxDtls.Refs.AcctSvcrRef,
		Description: entry.AddtlNtryInf,
		PostedDate:  postedDate,
	}, nil
}

func parseCAMTDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("reconcile: CAMT.053 entry has no booking or value date")
	}
	if len(s) >= 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("reconcile: parse CAMT.053 date %q: %w", s, err)
	}
	return t, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
