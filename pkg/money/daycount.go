package money

import "time"

// DayCountConvention selects the rule used to count days between two dates
// for interest accrual.
type DayCountConvention int

const (
	ACT360 DayCountConvention = iota
	ACT365F
	ACTACT
	US30360
	EURO30360
)

// BaseDays returns the denominator day-count a convention implies for a
// per-diem or simple-interest calculation anchored at d1. ACT_ACT uses the
// actual length of the calendar year containing d1.
func (c DayCountConvention) BaseDays(d1 time.Time) int {
	switch c {
	case ACT360, US30360, EURO30360:
		return 360
	case ACTACT:
		if isLeapYear(d1.Year()) {
			return 366
		}
		return 365
	default: // ACT365F
		return 365
	}
}

func isLeapYear(y int) bool {
	return (y%4 == 0 && y%100 != 0) || y%400 == 0
}

// DaysBetween computes the number of days between d1 and d2 under the given
// convention. DaysBetween(d, d, *) == 0 for every convention.
func DaysBetween(d1, d2 time.Time, convention DayCountConvention) int {
	switch convention {
	case US30360:
		return thirtyThreeSixty(d1, d2, false)
	case EURO30360:
		return thirtyThreeSixty(d1, d2, true)
	default: // ACT_360, ACT_365F, ACT_ACT all count actual calendar days
		d1 = dateOnly(d1)
		d2 = dateOnly(d2)
		return int(d2.Sub(d1).Hours() / 24)
	}
}

// thirtyThreeSixty implements 360*Δy + 30*Δm + (min(d2,30) − min(d1,30)).
// euro selects the EURO_30_360 variant, which additionally clamps a day-31
// end date down to 30 unconditionally (the US variant only does so when
// the start date is also day-30 or day-31).
func thirtyThreeSixty(d1, d2 time.Time, euro bool) int {
	y1, m1, day1 := d1.Date()
	y2, m2, day2 := d2.Date()

	if euro {
		if day1 == 31 {
			day1 = 30
		}
		if day2 == 31 {
			day2 = 30
		}
	} else {
		if day1 == 31 {
			day1 = 30
		}
		if day2 == 31 && day1 == 30 {
			day2 = 30
		}
	}

	d1c := min(day1, 30)
	d2c := min(day2, 30)

	return 360*(y2-y1) + 30*(int(m2)-int(m1)) + (d2c - d1c)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AddMonths adds k calendar months to iso (an ISO-8601 "2006-01-02" date
// string), clamping to the last day of the target month when the source
// day-of-month exceeds it (e.g. Jan 31 + 1 month = Feb 28/29).
func AddMonths(iso string, k int) (string, error) {
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return "", err
	}
	return AddMonthsTime(t, k).Format("2006-01-02"), nil
}

// AddMonthsTime is the time.Time-native form of AddMonths.
func AddMonthsTime(t time.Time, k int) time.Time {
	y, m, d := t.Date()
	targetMonthIndex := int(m) - 1 + k
	targetYear := y + targetMonthIndex/12
	targetMonth := targetMonthIndex % 12
	if targetMonth < 0 {
		targetMonth += 12
		targetYear--
	}
	firstOfTarget := time.Date(targetYear, time.Month(targetMonth+1), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(targetYear, time.Month(targetMonth+1), d, 0, 0, 0, 0, t.Location())
}
