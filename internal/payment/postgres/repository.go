// Package postgres implements the payment pipeline's repository ports
// (IntakeRepository, ValidationRepository, PostingRepository,
// OutboxRepository, LoanLookup, PolicyLookup, ScheduleLookup) against
// PostgreSQL, in the same Querier-parameterized shape as
// internal/ledger/postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bibbank/loanserve/internal/payment"
	"github.com/bibbank/loanserve/internal/schedule"
	"github.com/bibbank/loanserve/internal/waterfall"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// Repository implements every payment pipeline repository port. It carries
// no state; every method takes the postgres.Querier to operate against.
type Repository struct{}

// New returns a Repository.
func New() *Repository {
	return &Repository{}
}

func (r *Repository) FindByIdempotencyKey(ctx context.Context, q postgres.Querier, key string) (payment.PaymentIntake, bool, error) {
	row := q.QueryRow(ctx,
		`SELECT payment_id, loan_id, method, amount_minor, currency, received_at, gateway_txn_id, source, idempotency_key, effective_date, raw_payload
		 FROM payment_intakes WHERE idempotency_key = $1`,
		key,
	)
	var in payment.PaymentIntake
	var amount int64
	var raw []byte
	if err := row.Scan(&in.PaymentID, &in.LoanID, &in.Method, &amount, &in.Currency, &in.ReceivedAt, &in.GatewayTxnID, &in.Source, &in.IdempotencyKey, &in.EffectiveDate, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.PaymentIntake{}, false, nil
		}
		return payment.PaymentIntake{}, false, fmt.Errorf("payment/postgres: find by idempotency key: %w", err)
	}
	in.AmountMinor = money.Minor(amount)
	in.RawPayload = raw
	return in, true, nil
}

func (r *Repository) FindByID(ctx context.Context, q postgres.Querier, paymentID uuid.UUID) (payment.PaymentIntake, bool, error) {
	row := q.QueryRow(ctx,
		`SELECT payment_id, loan_id, method, amount_minor, currency, received_at, gateway_txn_id, source, idempotency_key, effective_date, raw_payload
		 FROM payment_intakes WHERE payment_id = $1`,
		paymentID,
	)
	var in payment.PaymentIntake
	var amount int64
	var raw []byte
	if err := row.Scan(&in.PaymentID, &in.LoanID, &in.Method, &amount, &in.Currency, &in.ReceivedAt, &in.GatewayTxnID, &in.Source, &in.IdempotencyKey, &in.EffectiveDate, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.PaymentIntake{}, false, nil
		}
		return payment.PaymentIntake{}, false, fmt.Errorf("payment/postgres: find by id: %w", err)
	}
	in.AmountMinor = money.Minor(amount)
	in.RawPayload = raw
	return in, true, nil
}

func (r *Repository) Insert(ctx context.Context, q postgres.Querier, intake payment.PaymentIntake) error {
	_, err := q.Exec(ctx,
		`INSERT INTO payment_intakes (payment_id, loan_id, method, amount_minor, currency, received_at, gateway_txn_id, source, idempotency_key, effective_date, raw_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		intake.PaymentID, intake.LoanID, intake.Method, int64(intake.AmountMinor), intake.Currency, intake.ReceivedAt,
		intake.GatewayTxnID, intake.Source, intake.IdempotencyKey, intake.EffectiveDate, rawOrEmpty(intake.RawPayload),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment/postgres: insert intake: %w: duplicate idempotency key", err)
		}
		return fmt.Errorf("payment/postgres: insert intake: %w", err)
	}
	return nil
}

func (r *Repository) InsertValidation(ctx context.Context, q postgres.Querier, v payment.PaymentValidation) error {
	hints, err := json.Marshal(v.AllocationHints)
	if err != nil {
		return fmt.Errorf("payment/postgres: marshal allocation hints: %w", err)
	}
	_, err = q.Exec(ctx,
		`INSERT INTO payment_validations (payment_id, is_valid, reason, retry_after_secs, allocation_hints, effective_date)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.PaymentID, v.IsValid, v.Reason, int64(v.RetryAfter.Seconds()), hints, v.EffectiveDate,
	)
	if err != nil {
		return fmt.Errorf("payment/postgres: insert validation: %w", err)
	}
	return nil
}

func (r *Repository) InsertPosting(ctx context.Context, q postgres.Querier, p payment.PaymentPosting) error {
	applied, err := json.Marshal(p.Applied)
	if err != nil {
		return fmt.Errorf("payment/postgres: marshal applied: %w", err)
	}
	balances, err := json.Marshal(p.NewBalances)
	if err != nil {
		return fmt.Errorf("payment/postgres: marshal new balances: %w", err)
	}
	var eventID *uuid.UUID
	if p.EventID != uuid.Nil {
		eventID = &p.EventID
	}
	_, err = q.Exec(ctx,
		`INSERT INTO payment_postings (payment_id, event_id, applied, new_balances) VALUES ($1, $2, $3, $4)`,
		p.PaymentID, eventID, applied, balances,
	)
	if err != nil {
		return fmt.Errorf("payment/postgres: insert posting: %w", err)
	}
	return nil
}

func (r *Repository) Enqueue(ctx context.Context, q postgres.Querier, row payment.OutboxRow) error {
	_, err := q.Exec(ctx,
		`INSERT INTO payment_outbox (event_id, topic, payload, created_at, next_retry_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		row.EventID, row.Topic, row.Payload, row.CreatedAt, row.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("payment/postgres: enqueue outbox row: %w", err)
	}
	return nil
}

func (r *Repository) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]payment.OutboxRow, error) {
	rows, err := q.Query(ctx,
		`SELECT event_id, topic, payload, created_at, attempt_count, next_retry_at, last_error
		 FROM payment_outbox
		 WHERE published_at IS NULL AND NOT parked AND next_retry_at <= $1
		 ORDER BY created_at
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("payment/postgres: fetch due outbox rows: %w", err)
	}
	defer rows.Close()

	var out []payment.OutboxRow
	for rows.Next() {
		var row payment.OutboxRow
		if err := rows.Scan(&row.EventID, &row.Topic, &row.Payload, &row.CreatedAt, &row.AttemptCount, &row.NextRetryAt, &row.LastError); err != nil {
			return nil, fmt.Errorf("payment/postgres: scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	_, err := q.Exec(ctx, `UPDATE payment_outbox SET published_at = $2 WHERE event_id = $1`, eventID, at)
	if err != nil {
		return fmt.Errorf("payment/postgres: mark published: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error {
	_, err := q.Exec(ctx,
		`UPDATE payment_outbox SET attempt_count = $2, next_retry_at = $3, last_error = $4 WHERE event_id = $1`,
		eventID, attemptCount, nextRetryAt, lastErr,
	)
	if err != nil {
		return fmt.Errorf("payment/postgres: mark failed: %w", err)
	}
	return nil
}

func (r *Repository) Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE payment_outbox SET parked = true WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("payment/postgres: park: %w", err)
	}
	return nil
}

func (r *Repository) GetLoan(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (payment.Loan, bool, error) {
	row := q.QueryRow(ctx, `SELECT id, status, currency FROM loans WHERE id = $1`, loanID)
	var l payment.Loan
	var status string
	if err := row.Scan(&l.ID, &status, &l.Currency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.Loan{}, false, nil
		}
		return payment.Loan{}, false, fmt.Errorf("payment/postgres: get loan: %w", err)
	}
	l.Status = payment.LoanStatus(status)
	return l, true, nil
}

func (r *Repository) GetPolicy(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (payment.Policy, error) {
	row := q.QueryRow(ctx, `SELECT waterfall_order, rounding, day_count FROM product_policies WHERE loan_id = $1`, loanID)
	var order []string
	var roundingStr, dayCountStr string
	if err := row.Scan(&order, &roundingStr, &dayCountStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.Policy{WaterfallOrder: waterfall.DefaultOrder, Rounding: money.RoundHalfAwayFromZero, DayCount: money.US30360}, nil
		}
		return payment.Policy{}, fmt.Errorf("payment/postgres: get policy: %w", err)
	}
	buckets := make([]waterfall.Bucket, len(order))
	for i, b := range order {
		buckets[i] = waterfall.Bucket(b)
	}
	return payment.Policy{
		WaterfallOrder: buckets,
		Rounding:       parseRounding(roundingStr),
		DayCount:       parseDayCount(dayCountStr),
	}, nil
}

func (r *Repository) ActiveSchedule(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (schedule.Plan, bool, error) {
	var version int
	row := q.QueryRow(ctx, `SELECT version FROM schedule_plans WHERE loan_id = $1 AND active`, loanID)
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schedule.Plan{}, false, nil
		}
		return schedule.Plan{}, false, fmt.Errorf("payment/postgres: find active schedule: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT period_no, due_date, principal_minor, interest_minor, total_payment_minor, balance_minor
		 FROM schedule_rows WHERE loan_id = $1 AND version = $2 ORDER BY period_no`,
		loanID, version,
	)
	if err != nil {
		return schedule.Plan{}, false, fmt.Errorf("payment/postgres: load schedule rows: %w", err)
	}
	defer rows.Close()

	plan := schedule.Plan{LoanID: loanID.String(), Version: version, Active: true}
	for rows.Next() {
		var row schedule.Row
		var principal, interest, total, balance int64
		if err := rows.Scan(&row.PeriodNo, &row.DueDate, &principal, &interest, &total, &balance); err != nil {
			return schedule.Plan{}, false, fmt.Errorf("payment/postgres: scan schedule row: %w", err)
		}
		row.PrincipalMinor = money.Minor(principal)
		row.InterestMinor = money.Minor(interest)
		row.TotalPaymentMinor = money.Minor(total)
		row.BalanceMinor = money.Minor(balance)
		plan.Rows = append(plan.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return schedule.Plan{}, false, err
	}
	return plan, true, nil
}

func parseRounding(s string) money.RoundingMode {
	if s == "half_even" {
		return money.RoundHalfEven
	}
	return money.RoundHalfAwayFromZero
}

func parseDayCount(s string) money.DayCountConvention {
	switch s {
	case "ACT360":
		return money.ACT360
	case "ACT365F":
		return money.ACT365F
	case "ACTACT":
		return money.ACTACT
	case "EURO30360":
		return money.EURO30360
	default:
		return money.US30360
	}
}

func rawOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
