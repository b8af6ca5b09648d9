package reconcile

import (
	"sort"
	"strings"
	"time"
)

// scoreCandidate evaluates how well a CashEvent explains a bank txn,
// following the teacher fraud-service's RiskScorer shape: additive rule
// checks each contributing a fixed number of points plus a named signal,
// generalized from risk signals to reconciliation match signals (spec
// §4.8's point table).
func scoreCandidate(txn ParsedTxn, event CashEvent) Candidate {
	score := 0
	var signals []string

	add := func(points int, signal string) {
		score += points
		signals = append(signals, signal)
	}

	expectedNet := int64(txn.AmountMinor)
	if txn.Type == TxnDebit || txn.Type == TxnFee {
		expectedNet = -expectedNet
	}
	netMinor := int64(event.NetMinor)

	switch {
	case netMinor == expectedNet:
		add(60, "exact_amount_match")
	case withinPercent(netMinor, expectedNet, 1):
		add(50, "amount_within_1pct")
	case withinPercent(netMinor, expectedNet, 5):
		add(30, "amount_within_5pct")
	}

	days := daysApart(txn.PostedDate, event.EffectiveDate)
	switch {
	case days == 0:
		add(30, "same_day")
	case days <= 1:
		add(25, "within_1_day")
	case days <= 3:
		add(10, "within_3_days")
	}

	ref := strings.TrimSpace(txn.BankRef)
	if ref != "" {
		if strings.Contains(event.CorrelationID, ref) {
			add(15, "bank_ref_in_correlation_id")
		}
		if strings.Contains(event.Memo, ref) {
			add(10, "bank_ref_in_memo")
		}
	}
	if event.CorrelationID != "" && strings.Contains(strings.ToLower(txn.Description), strings.ToLower(event.CorrelationID)) {
		add(100, "correlation_id_in_description")
	}

	return Candidate{Event: event, Score: score, Signals: signals}
}

func withinPercent(actual, expected int64, pct int64) bool {
	if expected == 0 {
		return actual == 0
	}
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	e := expected
	if e < 0 {
		e = -e
	}
	return diff*100 <= e*pct
}

func daysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// rankCandidates scores every candidate event and retains the top 3 by
// score descending (spec §4.8 "Retain top 3 candidates").
func rankCandidates(txn ParsedTxn, events []CashEvent) []Candidate {
	candidates := make([]Candidate, 0, len(events))
	for _, e := range events {
		candidates = append(candidates, scoreCandidate(txn, e))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}
