package money

import "math/big"

// bpsDenominator is the basis-points scale: 10,000 bps == 100%.
const bpsDenominator = 10_000

// LevelPayment computes the level (annuity) payment for a loan of present
// value pv, a per-period rate expressed in basis points over the period
// (not necessarily annual — callers pass the already-periodized rate), and
// n periods. The zero-rate path is a straight pv/n split; the result is
// rounded to minor units using mode.
//
//	payment = pv * r * (1+r)^n / ((1+r)^n - 1)
func LevelPayment(pv Minor, periodicRateBps int64, n int, mode RoundingMode) Minor {
	if n <= 0 {
		return 0
	}
	if periodicRateBps == 0 {
		return divRoundInt(pv, int64(n), mode)
	}

	// Use big.Rat for (1+r)^n so the recurrence stays exact until the
	// final rounding step.
	r := big.NewRat(periodicRateBps, bpsDenominator)
	one := big.NewRat(1, 1)
	factor := new(big.Rat).Add(one, r)
	pow := new(big.Rat).Set(one)
	for i := 0; i < n; i++ {
		pow.Mul(pow, factor)
	}

	numerator := new(big.Rat).Mul(big.NewRat(int64(pv), 1), r)
	numerator.Mul(numerator, pow)
	denominator := new(big.Rat).Sub(pow, one)

	result := new(big.Rat).Quo(numerator, denominator)
	return roundRat(result, mode)
}

// PerDiem computes round(principal * (annualRateBps/10000) / baseDays),
// the daily interest accrual amount for a single day.
func PerDiem(principal Minor, annualRateBps int64, baseDays int) Minor {
	if baseDays <= 0 {
		return 0
	}
	return MulDivRound(principal, annualRateBps, int64(baseDays)*bpsDenominator, RoundHalfAwayFromZero)
}

// SimpleInterest computes simple (non-compounding) interest on principal
// over the given number of days at annualRateBps, using baseDays as the
// year-length denominator for the day-count convention in effect.
func SimpleInterest(principal Minor, annualRateBps int64, days int, baseDays int) Minor {
	if baseDays <= 0 || days <= 0 {
		return 0
	}
	return MulDivRound(principal, annualRateBps*int64(days), int64(baseDays)*bpsDenominator, RoundHalfAwayFromZero)
}

func divRoundInt(v Minor, n int64, mode RoundingMode) Minor {
	if n == 0 {
		return 0
	}
	q := int64(v) / n
	rem := int64(v) % n
	if rem == 0 {
		return Minor(q)
	}
	// Fall back to decimal rounding for the remainder so halves round per mode.
	num := big.NewRat(int64(v), 1)
	den := big.NewRat(n, 1)
	return roundRat(new(big.Rat).Quo(num, den), mode)
}

func roundRat(r *big.Rat, mode RoundingMode) Minor {
	// r = num/den; compute floor and remainder to decide rounding direction.
	num := new(big.Int).Set(r.Num())
	den := new(big.Int).Set(r.Denom())
	neg := num.Sign() < 0
	if neg {
		num.Neg(num)
	}

	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	twiceRem := new(big.Int).Lsh(rem, 1) // 2*rem

	cmp := twiceRem.Cmp(den)
	switch mode {
	case RoundHalfEven:
		if cmp > 0 || (cmp == 0 && q.Bit(0) == 1) {
			q.Add(q, big.NewInt(1))
		}
	default: // RoundHalfAwayFromZero
		if cmp >= 0 {
			q.Add(q, big.NewInt(1))
		}
	}

	result := q.Int64()
	if neg {
		result = -result
	}
	return Minor(result)
}
