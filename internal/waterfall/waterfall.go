// Package waterfall implements the bucket-ordered payment allocator
// (spec C3): given a payment amount and a loan's outstanding balances, it
// walks the waterfall in order and decides how much of the payment lands
// on each bucket.
package waterfall

import (
	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/pkg/money"
)

// Bucket is one stop in the waterfall (spec §3 bucket enumeration).
type Bucket string

const (
	BucketFeesDue          Bucket = "fees_due"
	BucketInterestPastDue  Bucket = "interest_past_due"
	BucketInterestCurrent  Bucket = "interest_current"
	BucketPrincipal        Bucket = "principal"
	BucketEscrow           Bucket = "escrow"
	BucketFuture           Bucket = "future"
)

// DefaultOrder is the standard waterfall order. Escrow is placed ahead of
// principal: spec §8 Scenario 1's literal worked example only resolves to
// escrow=6000/principal=0 with this order, and real mortgage-servicing
// waterfalls treat voluntary principal curtailment as the last stop before
// future/suspense.
var DefaultOrder = []Bucket{
	BucketFeesDue,
	BucketInterestPastDue,
	BucketInterestCurrent,
	BucketEscrow,
	BucketPrincipal,
	BucketFuture,
}

// creditAccount maps a bucket to its GL credit account and memo, fixed by
// spec §4.3.
func creditAccount(b Bucket) (ledger.Account, string) {
	switch b {
	case BucketFeesDue:
		return ledger.AccountFeesReceivable, "Fees paid"
	case BucketInterestPastDue:
		return ledger.AccountInterestReceivable, "Past-due interest paid"
	case BucketInterestCurrent:
		return ledger.AccountInterestReceivable, "Current interest paid"
	case BucketPrincipal:
		return ledger.AccountLoanPrincipal, "Principal reduction"
	case BucketEscrow:
		return ledger.AccountEscrowLiability, "Escrow deposit"
	case BucketFuture:
		return ledger.AccountSuspense, "Prepayment / Future payment"
	default:
		return ledger.AccountSuspense, "Unallocated"
	}
}

// Allocation is the amount allocated to one bucket.
type Allocation struct {
	Bucket  Bucket
	Account ledger.Account
	Memo    string
	Amount  money.Minor
}

// Outstanding is the amount owed per bucket at the time of allocation.
// BucketFuture has no outstanding ceiling — any remainder after the other
// buckets are satisfied falls through to it.
type Outstanding map[Bucket]money.Minor

// AllocatePayment walks order in sequence; for each bucket it takes
// min(remaining, outstanding[bucket]), except BucketFuture which takes
// all remaining. Returns allocations summing exactly to paymentMinor;
// zero-amount buckets are omitted.
func AllocatePayment(paymentMinor money.Minor, order []Bucket, outstanding Outstanding) []Allocation {
	remaining := paymentMinor
	allocations := make([]Allocation, 0, len(order))

	for _, bucket := range order {
		if remaining <= 0 {
			break
		}

		var take money.Minor
		if bucket == BucketFuture {
			take = remaining
		} else {
			take = money.Min(remaining, outstanding[bucket])
		}
		if take <= 0 {
			continue
		}

		account, memo := creditAccount(bucket)
		allocations = append(allocations, Allocation{Bucket: bucket, Account: account, Memo: memo, Amount: take})
		remaining -= take
	}

	return allocations
}

// ToLedgerAllocations collapses allocations into a map of credit account
// to total amount, the shape ledger.Service.PostPaymentReceived expects.
// Two buckets sharing an account (interest_past_due/interest_current both
// credit interest_receivable) are summed together.
func ToLedgerAllocations(allocations []Allocation) map[ledger.Account]money.Minor {
	totals := make(map[ledger.Account]money.Minor, len(allocations))
	for _, a := range allocations {
		totals[a.Account] += a.Amount
	}
	return totals
}

// ExpectedForWaterfall computes, in waterfall order, how much of an
// available amount would satisfy outstanding before a given bucket is
// reached — used by minimum-payment/shortage helpers that compute expected
// vs. actual without producing postings.
func ExpectedForWaterfall(order []Bucket, outstanding Outstanding, throughBucket Bucket) money.Minor {
	var total money.Minor
	for _, bucket := range order {
		total += outstanding[bucket]
		if bucket == throughBucket {
			break
		}
	}
	return total
}

// Shortage reports how much short a payment amount falls of covering the
// waterfall through throughBucket (zero if it fully covers it).
func Shortage(paymentMinor money.Minor, order []Bucket, outstanding Outstanding, throughBucket Bucket) money.Minor {
	expected := ExpectedForWaterfall(order, outstanding, throughBucket)
	if paymentMinor >= expected {
		return 0
	}
	return expected - paymentMinor
}
