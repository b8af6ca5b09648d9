package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// Analyzer computes the annual escrow analysis (spec §4.6 "Annual
// analysis"): cushion target, shortage/deficiency/surplus, and the
// revised monthly target.
type Analyzer struct {
	tx        TxRunner
	forecasts ForecastRepository
	balances  BalanceLookup
	policies  PolicyLookup
	analyses  AnalysisRepository
	log       *slog.Logger
}

// NewAnalyzer wires the analyzer to its dependencies.
func NewAnalyzer(tx TxRunner, forecasts ForecastRepository, balances BalanceLookup, policies PolicyLookup, analyses AnalysisRepository, log *slog.Logger) *Analyzer {
	return &Analyzer{tx: tx, forecasts: forecasts, balances: balances, policies: policies, analyses: analyses, log: log}
}

// Run performs the analysis for one loan over [asOf, asOf+12mo].
func (a *Analyzer) Run(ctx context.Context, loanID uuid.UUID, asOf time.Time) (Analysis, error) {
	var result Analysis
	err := a.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		periodEnd := money.AddMonthsTime(asOf, 12)
		rows, err := a.forecasts.ForecastWindow(ctx, q, loanID, asOf, periodEnd)
		if err != nil {
			return fmt.Errorf("escrow: load forecast for analysis: %w", err)
		}
		policy, err := a.policies.GetPolicy(ctx, q, loanID)
		if err != nil {
			return fmt.Errorf("escrow: load escrow policy: %w", err)
		}
		currentBalance, err := a.balances.EscrowLiability(ctx, q, loanID)
		if err != nil {
			return fmt.Errorf("escrow: read escrow liability: %w", err)
		}
		version, err := a.analyses.LatestVersion(ctx, q, loanID)
		if err != nil {
			return fmt.Errorf("escrow: load latest analysis version: %w", err)
		}

		result = analyze(loanID, asOf, periodEnd, rows, currentBalance, policy, version+1)

		if err := a.analyses.Insert(ctx, q, result); err != nil {
			return fmt.Errorf("escrow: insert analysis: %w", err)
		}
		return nil
	})
	if err != nil {
		return Analysis{}, err
	}
	a.log.Info("escrow analysis completed", "loan_id", loanID, "version", result.Version, "shortage", result.ShortageMinor, "deficiency", result.DeficiencyMinor, "surplus", result.SurplusMinor)
	return result, nil
}

// analyze is the pure decision logic of the annual analysis, kept free of
// I/O so it can be tested directly against the spec's worked examples.
func analyze(loanID uuid.UUID, periodStart, periodEnd time.Time, forecast []ForecastRow, currentBalance money.Minor, policy Policy, version int) Analysis {
	monthly := make([]money.Minor, 12)
	var annualExpected money.Minor
	for _, row := range forecast {
		idx := monthIndex(periodStart, row.DueDate)
		if idx < 0 || idx > 11 {
			continue
		}
		monthly[idx] += row.AmountMinor
		annualExpected += row.AmountMinor
	}

	monthlyAverage := money.Minor(int64(annualExpected) / 12)
	cushionTarget := monthlyAverage * money.Minor(policy.CushionMonths)

	running := currentBalance
	lowest := running
	for _, disb := range monthly {
		running += monthlyAverage - disb
		if running < lowest {
			lowest = running
		}
	}

	result := Analysis{
		LoanID:              loanID,
		AsOf:                periodStart,
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		AnnualExpectedMinor: annualExpected,
		CushionTargetMinor:  cushionTarget,
		CurrentBalanceMinor: currentBalance,
		Version:             version,
	}

	switch {
	case lowest < 0:
		result.DeficiencyMinor = -lowest
		result.ShortageMinor = cushionTarget - currentBalance + result.DeficiencyMinor
	case lowest < cushionTarget:
		result.ShortageMinor = cushionTarget - lowest
	default:
		surplus := lowest - cushionTarget
		if surplus >= policy.SurplusRefundThresholdMinor {
			result.SurplusMinor = surplus
		}
	}

	shortageAmortMonths := policy.ShortageAmortizationMonths
	if shortageAmortMonths <= 0 {
		shortageAmortMonths = 1
	}
	deficiencyAmortMonths := policy.DeficiencyAmortizationMonths
	if deficiencyAmortMonths <= 0 {
		deficiencyAmortMonths = 1
	}
	result.NewMonthlyTargetMinor = monthlyAverage + cushionTarget/money.Minor(12) + result.ShortageMinor/money.Minor(shortageAmortMonths)
	result.DeficiencyRecoveryMonthly = result.DeficiencyMinor / money.Minor(deficiencyAmortMonths)

	return result
}

// monthIndex returns the number of whole calendar months between start and
// d, used to bucket a forecast row's due date into the 12-month horizon.
func monthIndex(start, d time.Time) int {
	years := d.Year() - start.Year()
	months := int(d.Month()) - int(start.Month())
	return years*12 + months
}
