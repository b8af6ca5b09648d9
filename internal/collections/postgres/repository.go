// Package postgres implements the collections engine's repository ports
// against PostgreSQL, in the same Querier-parameterized shape as
// internal/payment/postgres and internal/escrow/postgres. It reads the
// schedule and ledger tables those packages own directly, the same way
// internal/payment/postgres reads schedule_plans/schedule_rows.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bibbank/loanserve/internal/collections"
	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// Repository implements every collections repository port. It carries no
// state; every method takes the postgres.Querier to operate against.
type Repository struct{}

// New returns a Repository.
func New() *Repository {
	return &Repository{}
}

// DueRows merges the active amortization schedule's principal+interest
// rows with escrow forecast rows due on or before asOf, by due date (spec
// §4.7 step 1).
func (r *Repository) DueRows(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) ([]collections.DueRow, error) {
	byDate := map[time.Time]money.Minor{}

	var version int
	err := q.QueryRow(ctx, `SELECT version FROM schedule_plans WHERE loan_id = $1 AND active`, loanID).Scan(&version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("collections/postgres: find active schedule: %w", err)
	}
	if err == nil {
		rows, err := q.Query(ctx,
			`SELECT due_date, principal_minor, interest_minor FROM schedule_rows
			 WHERE loan_id = $1 AND version = $2 AND due_date <= $3`,
			loanID, version, asOf,
		)
		if err != nil {
			return nil, fmt.Errorf("collections/postgres: load schedule rows: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var dueDate time.Time
			var principal, interest int64
			if err := rows.Scan(&dueDate, &principal, &interest); err != nil {
				return nil, fmt.Errorf("collections/postgres: scan schedule row: %w", err)
			}
			byDate[dueDate] += money.Minor(principal) + money.Minor(interest)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	escrowRows, err := q.Query(ctx,
		`SELECT due_date, amount_minor FROM escrow_forecasts WHERE loan_id = $1 AND due_date <= $2`,
		loanID, asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("collections/postgres: load escrow forecasts: %w", err)
	}
	defer escrowRows.Close()
	for escrowRows.Next() {
		var dueDate time.Time
		var amount int64
		if err := escrowRows.Scan(&dueDate, &amount); err != nil {
			return nil, fmt.Errorf("collections/postgres: scan escrow forecast: %w", err)
		}
		byDate[dueDate] += money.Minor(amount)
	}
	if err := escrowRows.Err(); err != nil {
		return nil, err
	}

	out := make([]collections.DueRow, 0, len(byDate))
	for d, amt := range byDate {
		out = append(out, collections.DueRow{DueDate: d, ScheduledMinor: amt})
	}
	return out, nil
}

// appliedAccounts are the balance-sheet accounts a posted payment reduces
// (spec §4.7 step 2: "applied principal/interest/escrow/fees").
var appliedAccounts = []string{
	string(ledger.AccountLoanPrincipal),
	string(ledger.AccountInterestReceivable),
	string(ledger.AccountEscrowLiability),
	string(ledger.AccountFeesReceivable),
}

// AppliedThrough sums the credits to the applied accounts from posted
// payment events on or before asOf.
func (r *Repository) AppliedThrough(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) (money.Minor, error) {
	var total int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(le.credit_minor), 0)
		 FROM ledger_entries le JOIN ledger_events ev ON ev.id = le.event_id
		 WHERE ev.loan_id = $1 AND ev.schema = $2 AND ev.effective_date <= $3 AND le.account = ANY($4)`,
		loanID, ledger.SchemaPaymentReceived, asOf, appliedAccounts,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("collections/postgres: sum applied payments: %w", err)
	}
	return money.Minor(total), nil
}

// AssessedThrough sums fees assessed (fee and late-fee schemas) on or
// before asOf.
func (r *Repository) AssessedThrough(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) (money.Minor, error) {
	var total int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(le.debit_minor), 0)
		 FROM ledger_entries le JOIN ledger_events ev ON ev.id = le.event_id
		 WHERE ev.loan_id = $1 AND ev.schema = ANY($2) AND ev.effective_date <= $3 AND le.account = $4`,
		loanID, []string{ledger.SchemaFeeAssessment, ledger.SchemaLateFeeAssessed}, asOf, string(ledger.AccountFeesReceivable),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("collections/postgres: sum assessed fees: %w", err)
	}
	return money.Minor(total), nil
}

func (r *Repository) Previous(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (collections.Snapshot, bool, error) {
	row := q.QueryRow(ctx,
		`SELECT loan_id, as_of_date, earliest_unpaid_due, dpd, bucket, created_at
		 FROM delinquency_snapshots WHERE loan_id = $1 ORDER BY as_of_date DESC LIMIT 1`,
		loanID,
	)
	var snap collections.Snapshot
	var earliest *time.Time
	var bucket string
	if err := row.Scan(&snap.LoanID, &snap.AsOfDate, &earliest, &snap.DPD, &bucket, &snap.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collections.Snapshot{}, false, nil
		}
		return collections.Snapshot{}, false, fmt.Errorf("collections/postgres: find previous snapshot: %w", err)
	}
	snap.EarliestUnpaidDue = earliest
	snap.Bucket = collections.Bucket(bucket)
	return snap, true, nil
}

func (r *Repository) Upsert(ctx context.Context, q postgres.Querier, s collections.Snapshot) error {
	_, err := q.Exec(ctx,
		`INSERT INTO delinquency_snapshots (loan_id, as_of_date, earliest_unpaid_due, dpd, bucket, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (loan_id, as_of_date) DO UPDATE SET
		   earliest_unpaid_due = EXCLUDED.earliest_unpaid_due,
		   dpd = EXCLUDED.dpd,
		   bucket = EXCLUDED.bucket`,
		s.LoanID, s.AsOfDate, s.EarliestUnpaidDue, s.DPD, string(s.Bucket), s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("collections/postgres: upsert snapshot: %w", err)
	}
	return nil
}

func (r *Repository) GetPolicy(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (collections.LateFeePolicy, error) {
	row := q.QueryRow(ctx,
		`SELECT grace_days, basis, percent_bps, cap_minor, fixed_amount_minor FROM late_fee_policies WHERE loan_id = $1`,
		loanID,
	)
	var policy collections.LateFeePolicy
	var basis string
	var cap, fixed int64
	if err := row.Scan(&policy.GraceDays, &basis, &policy.PercentBps, &cap, &fixed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collections.LateFeePolicy{Basis: collections.BasisScheduledPI}, nil
		}
		return collections.LateFeePolicy{}, fmt.Errorf("collections/postgres: find late fee policy: %w", err)
	}
	policy.Basis = collections.LateFeeBasis(basis)
	policy.CapMinor = money.Minor(cap)
	policy.FixedAmountMinor = money.Minor(fixed)
	return policy, nil
}

func (r *Repository) DueAmounts(ctx context.Context, q postgres.Querier, loanID uuid.UUID, dueDate time.Time) (collections.DueAmounts, bool, error) {
	var version int
	err := q.QueryRow(ctx, `SELECT version FROM schedule_plans WHERE loan_id = $1 AND active`, loanID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collections.DueAmounts{}, false, nil
		}
		return collections.DueAmounts{}, false, fmt.Errorf("collections/postgres: find active schedule: %w", err)
	}

	var principal, interest int64
	err = q.QueryRow(ctx,
		`SELECT principal_minor, interest_minor FROM schedule_rows WHERE loan_id = $1 AND version = $2 AND due_date = $3`,
		loanID, version, dueDate,
	).Scan(&principal, &interest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collections.DueAmounts{}, false, nil
		}
		return collections.DueAmounts{}, false, fmt.Errorf("collections/postgres: find schedule row: %w", err)
	}

	var escrow int64
	err = q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_minor), 0) FROM escrow_forecasts WHERE loan_id = $1 AND due_date = $2`,
		loanID, dueDate,
	).Scan(&escrow)
	if err != nil {
		return collections.DueAmounts{}, false, fmt.Errorf("collections/postgres: sum escrow due: %w", err)
	}

	applied, err := r.AppliedThrough(ctx, q, loanID, dueDate)
	if err != nil {
		return collections.DueAmounts{}, false, err
	}

	scheduledPI := money.Minor(principal) + money.Minor(interest)
	return collections.DueAmounts{
		ScheduledPIMinor:   scheduledPI,
		TotalDueMinor:      scheduledPI + money.Minor(escrow),
		PrincipalOnlyMinor: money.Minor(principal),
		AppliedMinor:       applied,
	}, true, nil
}

func (r *Repository) Exists(ctx context.Context, q postgres.Querier, loanID uuid.UUID, dueDate time.Time) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM late_fee_assessments WHERE loan_id = $1 AND period_due_date = $2)`,
		loanID, dueDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("collections/postgres: check assessment existence: %w", err)
	}
	return exists, nil
}

func (r *Repository) InsertAssessment(ctx context.Context, q postgres.Querier, a collections.Assessment) error {
	_, err := q.Exec(ctx,
		`INSERT INTO late_fee_assessments (loan_id, period_due_date, amount_minor, event_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.LoanID, a.PeriodDueDate, a.AmountMinor, a.EventID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("collections/postgres: insert assessment: %w", err)
	}
	return nil
}

func (r *Repository) ActivePlan(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (collections.Plan, bool, error) {
	row := q.QueryRow(ctx,
		`SELECT plan_id, status, created_at, updated_at FROM payment_plans WHERE loan_id = $1 AND status = 'active'`,
		loanID,
	)
	var plan collections.Plan
	var status string
	if err := row.Scan(&plan.PlanID, &status, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collections.Plan{}, false, nil
		}
		return collections.Plan{}, false, fmt.Errorf("collections/postgres: find active plan: %w", err)
	}
	plan.LoanID = loanID
	plan.Status = collections.PlanStatus(status)

	installments, err := r.loadInstallments(ctx, q, plan.PlanID)
	if err != nil {
		return collections.Plan{}, false, err
	}
	plan.Installments = installments
	return plan, true, nil
}

func (r *Repository) loadInstallments(ctx context.Context, q postgres.Querier, planID uuid.UUID) ([]collections.Installment, error) {
	rows, err := q.Query(ctx,
		`SELECT installment_no, due_date, scheduled_amount_minor, paid_amount_minor, status
		 FROM payment_plan_installments WHERE plan_id = $1 ORDER BY installment_no`,
		planID,
	)
	if err != nil {
		return nil, fmt.Errorf("collections/postgres: load installments: %w", err)
	}
	defer rows.Close()

	var out []collections.Installment
	for rows.Next() {
		var inst collections.Installment
		var scheduled, paid int64
		var status string
		if err := rows.Scan(&inst.InstallmentNo, &inst.DueDate, &scheduled, &paid, &status); err != nil {
			return nil, fmt.Errorf("collections/postgres: scan installment: %w", err)
		}
		inst.ScheduledAmountMinor = money.Minor(scheduled)
		inst.PaidAmountMinor = money.Minor(paid)
		inst.Status = collections.InstallmentStatus(status)
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (r *Repository) InsertPlan(ctx context.Context, q postgres.Querier, p collections.Plan) error {
	_, err := q.Exec(ctx,
		`INSERT INTO payment_plans (plan_id, loan_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		p.PlanID, p.LoanID, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("collections/postgres: insert plan: %w", err)
	}
	for _, inst := range p.Installments {
		_, err := q.Exec(ctx,
			`INSERT INTO payment_plan_installments (plan_id, installment_no, due_date, scheduled_amount_minor, paid_amount_minor, status)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			p.PlanID, inst.InstallmentNo, inst.DueDate, inst.ScheduledAmountMinor, inst.PaidAmountMinor, string(inst.Status),
		)
		if err != nil {
			return fmt.Errorf("collections/postgres: insert installment %d: %w", inst.InstallmentNo, err)
		}
	}
	return nil
}

func (r *Repository) UpdatePlan(ctx context.Context, q postgres.Querier, p collections.Plan) error {
	_, err := q.Exec(ctx,
		`UPDATE payment_plans SET status = $2, updated_at = $3 WHERE plan_id = $1`,
		p.PlanID, string(p.Status), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("collections/postgres: update plan: %w", err)
	}
	for _, inst := range p.Installments {
		_, err := q.Exec(ctx,
			`UPDATE payment_plan_installments SET paid_amount_minor = $3, status = $4
			 WHERE plan_id = $1 AND installment_no = $2`,
			p.PlanID, inst.InstallmentNo, inst.PaidAmountMinor, string(inst.Status),
		)
		if err != nil {
			return fmt.Errorf("collections/postgres: update installment %d: %w", inst.InstallmentNo, err)
		}
	}
	return nil
}

func (r *Repository) PastDueActivePlans(ctx context.Context, q postgres.Querier, asOf time.Time) ([]collections.Plan, error) {
	rows, err := q.Query(ctx,
		`SELECT DISTINCT pp.plan_id, pp.loan_id, pp.status, pp.created_at, pp.updated_at
		 FROM payment_plans pp JOIN payment_plan_installments i ON i.plan_id = pp.plan_id
		 WHERE pp.status = 'active' AND i.due_date <= $1 AND i.status IN ('pending', 'partial')`,
		asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("collections/postgres: load past-due plans: %w", err)
	}
	defer rows.Close()

	var plans []collections.Plan
	for rows.Next() {
		var plan collections.Plan
		var status string
		if err := rows.Scan(&plan.PlanID, &plan.LoanID, &status, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
			return nil, fmt.Errorf("collections/postgres: scan plan: %w", err)
		}
		plan.Status = collections.PlanStatus(status)
		installments, err := r.loadInstallments(ctx, q, plan.PlanID)
		if err != nil {
			return nil, err
		}
		plan.Installments = installments
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (r *Repository) OpenCaseFor(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (collections.ForeclosureCase, bool, error) {
	row := q.QueryRow(ctx,
		`SELECT case_id, loan_id, status, outcome, opened_at, closed_at
		 FROM foreclosure_cases WHERE loan_id = $1 AND status = 'open'`,
		loanID,
	)
	var fc collections.ForeclosureCase
	var status string
	if err := row.Scan(&fc.CaseID, &fc.LoanID, &status, &fc.Outcome, &fc.OpenedAt, &fc.ClosedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collections.ForeclosureCase{}, false, nil
		}
		return collections.ForeclosureCase{}, false, fmt.Errorf("collections/postgres: find open foreclosure case: %w", err)
	}
	fc.Status = collections.ForeclosureStatus(status)
	return fc, true, nil
}

func (r *Repository) InsertCase(ctx context.Context, q postgres.Querier, c collections.ForeclosureCase) error {
	_, err := q.Exec(ctx,
		`INSERT INTO foreclosure_cases (case_id, loan_id, status, outcome, opened_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.CaseID, c.LoanID, string(c.Status), c.Outcome, c.OpenedAt, c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("collections/postgres: insert foreclosure case: %w", err)
	}
	return nil
}

func (r *Repository) MilestoneExists(ctx context.Context, q postgres.Querier, caseID uuid.UUID, m collections.Milestone) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM foreclosure_events WHERE case_id = $1 AND milestone = $2)`,
		caseID, string(m),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("collections/postgres: check milestone existence: %w", err)
	}
	return exists, nil
}

func (r *Repository) InsertEvent(ctx context.Context, q postgres.Querier, e collections.Event) error {
	_, err := q.Exec(ctx,
		`INSERT INTO foreclosure_events (case_id, milestone, hit_at) VALUES ($1, $2, $3)`,
		e.CaseID, string(e.Milestone), e.HitAt,
	)
	if err != nil {
		return fmt.Errorf("collections/postgres: insert milestone event: %w", err)
	}
	return nil
}

func (r *Repository) CloseCase(ctx context.Context, q postgres.Querier, c collections.ForeclosureCase) error {
	_, err := q.Exec(ctx,
		`UPDATE foreclosure_cases SET status = $2, outcome = $3, closed_at = $4 WHERE case_id = $1`,
		c.CaseID, string(c.Status), c.Outcome, c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("collections/postgres: close foreclosure case: %w", err)
	}
	return nil
}

func (r *Repository) Enqueue(ctx context.Context, q postgres.Querier, row collections.OutboxRow) error {
	_, err := q.Exec(ctx,
		`INSERT INTO collections_outbox (event_id, topic, payload, created_at, next_retry_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		row.EventID, row.Topic, row.Payload, row.CreatedAt, row.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("collections/postgres: enqueue outbox row: %w", err)
	}
	return nil
}

func (r *Repository) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]collections.OutboxRow, error) {
	rows, err := q.Query(ctx,
		`SELECT event_id, topic, payload, created_at, attempt_count, next_retry_at, last_error
		 FROM collections_outbox
		 WHERE published_at IS NULL AND NOT parked AND next_retry_at <= $1
		 ORDER BY created_at
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("collections/postgres: fetch due outbox rows: %w", err)
	}
	defer rows.Close()

	var out []collections.OutboxRow
	for rows.Next() {
		var row collections.OutboxRow
		if err := rows.Scan(&row.EventID, &row.Topic, &row.Payload, &row.CreatedAt, &row.AttemptCount, &row.NextRetryAt, &row.LastError); err != nil {
			return nil, fmt.Errorf("collections/postgres: scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	_, err := q.Exec(ctx, `UPDATE collections_outbox SET published_at = $2 WHERE event_id = $1`, eventID, at)
	if err != nil {
		return fmt.Errorf("collections/postgres: mark published: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error {
	_, err := q.Exec(ctx,
		`UPDATE collections_outbox SET attempt_count = $2, next_retry_at = $3, last_error = $4 WHERE event_id = $1`,
		eventID, attemptCount, nextRetryAt, lastErr,
	)
	if err != nil {
		return fmt.Errorf("collections/postgres: mark failed: %w", err)
	}
	return nil
}

func (r *Repository) Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE collections_outbox SET parked = true WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("collections/postgres: park: %w", err)
	}
	return nil
}
