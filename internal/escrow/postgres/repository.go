// Package postgres implements the escrow engine's repository ports
// against PostgreSQL, in the same Querier-parameterized shape as
// internal/payment/postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bibbank/loanserve/internal/escrow"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// Repository implements every escrow repository port. It carries no
// state; every method takes the postgres.Querier to operate against.
type Repository struct{}

// New returns a Repository.
func New() *Repository {
	return &Repository{}
}

func (r *Repository) ActiveItems(ctx context.Context, q postgres.Querier, loanID uuid.UUID) ([]escrow.Item, error) {
	rows, err := q.Query(ctx,
		`SELECT escrow_id, loan_id, item_type, payee, amount_minor, frequency, next_due_date
		 FROM escrow_items WHERE loan_id = $1 AND active`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: load active items: %w", err)
	}
	defer rows.Close()

	var out []escrow.Item
	for rows.Next() {
		var item escrow.Item
		var amount int64
		var frequency string
		if err := rows.Scan(&item.EscrowID, &item.LoanID, &item.Type, &item.Payee, &amount, &frequency, &item.NextDueDate); err != nil {
			return nil, fmt.Errorf("escrow/postgres: scan item: %w", err)
		}
		item.AmountMinor = money.Minor(amount)
		item.Frequency = escrow.Frequency(frequency)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *Repository) GetPolicy(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (escrow.Policy, error) {
	row := q.QueryRow(ctx,
		`SELECT cushion_months, shortage_amortization_months, deficiency_amortization_months,
		        surplus_refund_threshold_minor, collect_surplus_as_reduction, pay_when_insufficient, rounding
		 FROM escrow_policies WHERE loan_id = $1`,
		loanID,
	)
	var p escrow.Policy
	var threshold int64
	var roundingStr string
	if err := row.Scan(&p.CushionMonths, &p.ShortageAmortizationMonths, &p.DeficiencyAmortizationMonths,
		&threshold, &p.CollectSurplusAsReduction, &p.PayWhenInsufficient, &roundingStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return escrow.Policy{
				CushionMonths:                2,
				ShortageAmortizationMonths:   12,
				DeficiencyAmortizationMonths: 12,
				SurplusRefundThresholdMinor:  5000,
				Rounding:                     money.RoundHalfAwayFromZero,
			}, nil
		}
		return escrow.Policy{}, fmt.Errorf("escrow/postgres: get policy: %w", err)
	}
	p.SurplusRefundThresholdMinor = money.Minor(threshold)
	p.Rounding = parseRounding(roundingStr)
	return p, nil
}

func (r *Repository) ReplaceHorizon(ctx context.Context, q postgres.Querier, loanID uuid.UUID, rows []escrow.ForecastRow) error {
	if _, err := q.Exec(ctx, `DELETE FROM escrow_forecasts WHERE loan_id = $1`, loanID); err != nil {
		return fmt.Errorf("escrow/postgres: delete forecast horizon: %w", err)
	}
	for _, row := range rows {
		_, err := q.Exec(ctx,
			`INSERT INTO escrow_forecasts (loan_id, escrow_id, due_date, amount_minor)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (loan_id, escrow_id, due_date) DO UPDATE SET amount_minor = EXCLUDED.amount_minor`,
			row.LoanID, row.EscrowID, row.DueDate, int64(row.AmountMinor),
		)
		if err != nil {
			return fmt.Errorf("escrow/postgres: insert forecast row: %w", err)
		}
	}
	return nil
}

func (r *Repository) ForecastWindow(ctx context.Context, q postgres.Querier, loanID uuid.UUID, from, to time.Time) ([]escrow.ForecastRow, error) {
	rows, err := q.Query(ctx,
		`SELECT loan_id, escrow_id, due_date, amount_minor FROM escrow_forecasts
		 WHERE loan_id = $1 AND due_date >= $2 AND due_date <= $3 ORDER BY due_date`,
		loanID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: load forecast window: %w", err)
	}
	defer rows.Close()

	var out []escrow.ForecastRow
	for rows.Next() {
		var row escrow.ForecastRow
		var amount int64
		if err := rows.Scan(&row.LoanID, &row.EscrowID, &row.DueDate, &amount); err != nil {
			return nil, fmt.Errorf("escrow/postgres: scan forecast row: %w", err)
		}
		row.AmountMinor = money.Minor(amount)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) Exists(ctx context.Context, q postgres.Querier, loanID uuid.UUID, escrowID string, dueDate time.Time) (bool, error) {
	var exists bool
	row := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM escrow_disbursements
		  WHERE loan_id = $1 AND escrow_id = $2 AND due_date = $3 AND status <> 'canceled')`,
		loanID, escrowID, dueDate,
	)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("escrow/postgres: check disbursement exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) InsertDisbursement(ctx context.Context, q postgres.Querier, d escrow.Disbursement) error {
	_, err := q.Exec(ctx,
		`INSERT INTO escrow_disbursements (disb_id, loan_id, escrow_id, due_date, amount_minor, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.DisbID, d.LoanID, d.EscrowID, d.DueDate, int64(d.AmountMinor), string(d.Status),
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: insert disbursement: %w", err)
	}
	return nil
}

func (r *Repository) DueScheduled(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) ([]escrow.Disbursement, error) {
	rows, err := q.Query(ctx,
		`SELECT disb_id, loan_id, escrow_id, due_date, amount_minor, status
		 FROM escrow_disbursements WHERE loan_id = $1 AND status = 'scheduled' AND due_date <= $2
		 ORDER BY due_date`,
		loanID, asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: load due disbursements: %w", err)
	}
	defer rows.Close()

	var out []escrow.Disbursement
	for rows.Next() {
		var d escrow.Disbursement
		var amount int64
		var status string
		if err := rows.Scan(&d.DisbID, &d.LoanID, &d.EscrowID, &d.DueDate, &amount, &status); err != nil {
			return nil, fmt.Errorf("escrow/postgres: scan disbursement: %w", err)
		}
		d.AmountMinor = money.Minor(amount)
		d.Status = escrow.DisbursementStatus(status)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) MarkPosted(ctx context.Context, q postgres.Querier, disbID uuid.UUID, eventID uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE escrow_disbursements SET status = 'posted', event_id = $2 WHERE disb_id = $1`, disbID, eventID)
	if err != nil {
		return fmt.Errorf("escrow/postgres: mark disbursement posted: %w", err)
	}
	return nil
}

func (r *Repository) LatestVersion(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (int, error) {
	var version *int
	row := q.QueryRow(ctx, `SELECT MAX(version) FROM escrow_analyses WHERE loan_id = $1`, loanID)
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("escrow/postgres: load latest analysis version: %w", err)
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

func (r *Repository) Insert(ctx context.Context, q postgres.Querier, a escrow.Analysis) error {
	_, err := q.Exec(ctx,
		`INSERT INTO escrow_analyses (loan_id, as_of, period_start, period_end, annual_expected_minor,
		                               cushion_target_minor, current_balance_minor, shortage_minor, deficiency_minor,
		                               surplus_minor, new_monthly_target_minor, deficiency_recovery_monthly_minor, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.LoanID, a.AsOf, a.PeriodStart, a.PeriodEnd, int64(a.AnnualExpectedMinor),
		int64(a.CushionTargetMinor), int64(a.CurrentBalanceMinor), int64(a.ShortageMinor), int64(a.DeficiencyMinor),
		int64(a.SurplusMinor), int64(a.NewMonthlyTargetMinor), int64(a.DeficiencyRecoveryMonthly), a.Version,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: insert analysis: %w", err)
	}
	return nil
}

func (r *Repository) Enqueue(ctx context.Context, q postgres.Querier, row escrow.OutboxRow) error {
	_, err := q.Exec(ctx,
		`INSERT INTO escrow_outbox (event_id, topic, payload, created_at, next_retry_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		row.EventID, row.Topic, row.Payload, row.CreatedAt, row.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: enqueue outbox row: %w", err)
	}
	return nil
}

func (r *Repository) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]escrow.OutboxRow, error) {
	rows, err := q.Query(ctx,
		`SELECT event_id, topic, payload, created_at, attempt_count, next_retry_at, last_error
		 FROM escrow_outbox
		 WHERE published_at IS NULL AND NOT parked AND next_retry_at <= $1
		 ORDER BY created_at
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: fetch due outbox rows: %w", err)
	}
	defer rows.Close()

	var out []escrow.OutboxRow
	for rows.Next() {
		var row escrow.OutboxRow
		if err := rows.Scan(&row.EventID, &row.Topic, &row.Payload, &row.CreatedAt, &row.AttemptCount, &row.NextRetryAt, &row.LastError); err != nil {
			return nil, fmt.Errorf("escrow/postgres: scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	_, err := q.Exec(ctx, `UPDATE escrow_outbox SET published_at = $2 WHERE event_id = $1`, eventID, at)
	if err != nil {
		return fmt.Errorf("escrow/postgres: mark published: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error {
	_, err := q.Exec(ctx,
		`UPDATE escrow_outbox SET attempt_count = $2, next_retry_at = $3, last_error = $4 WHERE event_id = $1`,
		eventID, attemptCount, nextRetryAt, lastErr,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: mark failed: %w", err)
	}
	return nil
}

func (r *Repository) Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE escrow_outbox SET parked = true WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("escrow/postgres: park: %w", err)
	}
	return nil
}

func parseRounding(s string) money.RoundingMode {
	if s == "half_even" {
		return money.RoundHalfEven
	}
	return money.RoundHalfAwayFromZero
}
