package money

import "testing"

func TestLevelPayment_ZeroRate(t *testing.T) {
	got := LevelPayment(120000, 0, 12, RoundHalfAwayFromZero)
	want := Minor(10000)
	if got != want {
		t.Errorf("LevelPayment zero-rate = %d, want %d", got, want)
	}
}

func TestLevelPayment_StandardAnnuity(t *testing.T) {
	// 250,000.00 principal, 6% annual (50 bps monthly), 360 months: the
	// textbook payment is ~1498.88.
	pv := Minor(25_000_000)
	monthlyBps := int64(50) // 6.00% / 12 = 0.50% = 50 bps
	got := LevelPayment(pv, monthlyBps, 360, RoundHalfAwayFromZero)
	if got < 149000 || got > 150000 {
		t.Errorf("LevelPayment = %d (%.2f), want ~149888", got, float64(got)/100)
	}
}

func TestLevelPayment_NonPositiveTerm(t *testing.T) {
	if got := LevelPayment(1000, 100, 0, RoundHalfAwayFromZero); got != 0 {
		t.Errorf("LevelPayment with n=0 = %d, want 0", got)
	}
}

func TestPerDiem(t *testing.T) {
	// 250,000.00 principal at 6.00% annual, ACT_360 base: per-diem =
	// round(25000000 * 0.06 / 360) = round(4166.67) = 4167 minor units.
	got := PerDiem(25_000_000, 600, 360)
	want := Minor(4167)
	if got != want {
		t.Errorf("PerDiem = %d, want %d", got, want)
	}
}

func TestSimpleInterest(t *testing.T) {
	// 250,000.00 principal, 6.00% annual, 30 days, 360 base: 30/360 *
	// 6.00% * 250000.00 = 1250.00, i.e. 125000 minor units.
	got := SimpleInterest(25_000_000, 600, 30, 360)
	want := Minor(125000)
	if got != want {
		t.Errorf("SimpleInterest = %d, want %d", got, want)
	}
}

func TestSimpleInterest_ZeroDays(t *testing.T) {
	if got := SimpleInterest(25_000_000, 600, 0, 360); got != 0 {
		t.Errorf("SimpleInterest with 0 days = %d, want 0", got)
	}
}
