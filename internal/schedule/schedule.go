// Package schedule generates amortization schedules (spec C4): level,
// interest-only, balloon, and custom variants, each producing rows of
// (periodNo, dueDate, principal, interest, total, balance).
package schedule

import (
	"fmt"
	"time"

	"github.com/bibbank/loanserve/pkg/money"
)

// Row is one period of an amortization schedule.
type Row struct {
	PeriodNo          int
	DueDate           time.Time
	PrincipalMinor    money.Minor
	InterestMinor     money.Minor
	TotalPaymentMinor money.Minor
	BalanceMinor      money.Minor
}

// Plan is a generated schedule for one loan. Version increments each time
// the plan is regenerated; exactly one plan per loan is Active (spec §4.4).
type Plan struct {
	LoanID  string
	Version int
	Active  bool
	Rows    []Row
}

// Params configures schedule generation.
type Params struct {
	PrincipalMinor    money.Minor
	AnnualRateBps     int64
	TermMonths        int
	FirstPaymentDate  time.Time
	DayCount          money.DayCountConvention
	Rounding          money.RoundingMode
	InterestOnlyMonths int // leading periods that pay interest only
	BalloonMonth      int // 0 = no balloon; else the period number that pays off the remaining balance
	BalloonAmountMinor money.Minor // if > 0, an explicit balloon target; else the remaining balance
}

// levelPeriodicRateBps derives the monthly periodic rate (in bps) used for
// 30/360-style conventions, which amortize on a level monthly rate rather
// than actual elapsed days.
func levelPeriodicRateBps(annualRateBps int64) int64 {
	return annualRateBps / 12
}

// periodInterest computes one period's interest. 30/360 conventions use the
// level monthly periodic rate against the outstanding balance; ACT-based
// conventions use the actual day count between prevDate and dueDate (spec
// §4.4: "actual day count... or level monthly rate depending on
// convention").
func periodInterest(balance money.Minor, p Params, prevDate, dueDate time.Time) money.Minor {
	switch p.DayCount {
	case money.US30360, money.EURO30360:
		return money.MulDivRound(balance, levelPeriodicRateBps(p.AnnualRateBps), 10_000, p.Rounding)
	default:
		days := money.DaysBetween(prevDate, dueDate, p.DayCount)
		baseDays := p.DayCount.BaseDays(prevDate)
		return money.SimpleInterest(balance, p.AnnualRateBps, days, baseDays)
	}
}

// Generate builds a new, unversioned Plan for the given Params. Callers are
// responsible for assigning Version (previous max + 1) and marking exactly
// one plan per loan Active.
func Generate(p Params) (Plan, error) {
	if p.TermMonths <= 0 {
		return Plan{}, fmt.Errorf("schedule: term months must be positive, got %d", p.TermMonths)
	}
	if p.PrincipalMinor <= 0 {
		return Plan{}, fmt.Errorf("schedule: principal must be positive, got %d", p.PrincipalMinor)
	}

	// The periodic payment is always computed against the full term (minus
	// any leading interest-only months): a balloon loan still amortizes as
	// if it ran the full term, it just stops short and pays off whatever
	// balance remains at BalloonMonth.
	amortizingMonths := p.TermMonths - p.InterestOnlyMonths
	if amortizingMonths <= 0 {
		return Plan{}, fmt.Errorf("schedule: no amortizing periods remain after interest-only configuration")
	}
	if p.BalloonMonth > 0 && p.BalloonMonth <= p.InterestOnlyMonths {
		return Plan{}, fmt.Errorf("schedule: balloon month must fall after the interest-only period")
	}

	payment := money.LevelPayment(p.PrincipalMinor, levelPeriodicRateBps(p.AnnualRateBps), amortizingMonths, p.Rounding)

	lastPeriod := p.TermMonths
	if p.BalloonMonth > 0 {
		lastPeriod = p.BalloonMonth
	}

	rows := make([]Row, 0, lastPeriod)
	balance := p.PrincipalMinor
	prevDate := p.FirstPaymentDate.AddDate(0, -1, 0)
	dueDate := p.FirstPaymentDate

	for period := 1; period <= lastPeriod; period++ {
		interest := periodInterest(balance, p, prevDate, dueDate)

		var principal, total money.Minor
		switch {
		case period <= p.InterestOnlyMonths:
			principal = 0
			total = interest
		case p.BalloonMonth > 0 && period == p.BalloonMonth:
			if p.BalloonAmountMinor > 0 {
				principal = money.Min(balance, p.BalloonAmountMinor)
			} else {
				principal = balance
			}
			total = principal + interest
		case period == p.TermMonths:
			// Final period absorbs rounding residue.
			principal = balance
			total = principal + interest
		default:
			principal = payment - interest
			if principal > balance {
				principal = balance
			}
			total = principal + interest
		}

		balance -= principal
		if balance < 0 {
			balance = 0
		}

		rows = append(rows, Row{
			PeriodNo:          period,
			DueDate:           dueDate,
			PrincipalMinor:    principal,
			InterestMinor:     interest,
			TotalPaymentMinor: total,
			BalanceMinor:      balance,
		})

		prevDate = dueDate
		dueDate = money.AddMonthsTime(p.FirstPaymentDate, period)
	}

	return Plan{Rows: rows}, nil
}

// InterestAccruedThrough returns the interest portion scheduled for the
// period whose due date is the first one on or after asOf, zero if asOf is
// past the plan's final period. Used by the payment poster (spec C5
// supplement) to compute current-period interest from the active schedule.
func (plan Plan) InterestAccruedThrough(asOf time.Time) money.Minor {
	for _, row := range plan.Rows {
		if !row.DueDate.Before(asOf) {
			return row.InterestMinor
		}
	}
	return 0
}

// OutstandingPrincipal returns the balance remaining after the most recent
// due period on or before asOf (zero before the first due date, and the
// final balance after the last).
func (plan Plan) OutstandingPrincipal(asOf time.Time) money.Minor {
	var balance money.Minor
	if len(plan.Rows) > 0 {
		balance = plan.Rows[0].BalanceMinor + plan.Rows[0].PrincipalMinor
	}
	for _, row := range plan.Rows {
		if row.DueDate.After(asOf) {
			break
		}
		balance = row.BalanceMinor
	}
	return balance
}
