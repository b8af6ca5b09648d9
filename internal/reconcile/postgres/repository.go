// Package postgres implements the reconciliation engine's repository ports
// against PostgreSQL, in the same Querier-parameterized shape as
// internal/payment/postgres, internal/escrow/postgres, and
// internal/collections/postgres. CashEventsNear reads ledger_events /
// ledger_entries directly, the same cross-package table-read convention
// those packages already use.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/internal/reconcile"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// Repository implements every reconciliation repository port. It carries
// no state; every method takes the postgres.Querier to operate against.
type Repository struct{}

// New returns a Repository.
func New() *Repository {
	return &Repository{}
}

func (r *Repository) InsertStatement(ctx context.Context, q postgres.Querier, statementID uuid.UUID, account string, format reconcile.StatementFormat, ingestedAt time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO bank_statements (id, account, format, ingested_at)
		VALUES ($1, $2, $3, $4)`,
		statementID, account, string(format), ingestedAt)
	return err
}

func (r *Repository) InsertTxn(ctx context.Context, q postgres.Querier, txn reconcile.BankTxn) error {
	_, err := q.Exec(ctx, `
		INSERT INTO bank_txns (id, statement_id, account, type, amount_minor, posted_date, bank_ref, description, matched, matched_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID, txn.StatementID, txn.Account, string(txn.Type), int64(txn.AmountMinor), txn.PostedDate, txn.BankRef, txn.Description, txn.Matched, txn.MatchedTo)
	return err
}

func (r *Repository) MarkMatched(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, eventID uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE bank_txns SET matched = true, matched_to = $2 WHERE id = $1`, bankTxnID, eventID)
	return err
}

func (r *Repository) GetTxn(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID) (reconcile.BankTxn, bool, error) {
	var t reconcile.BankTxn
	var txnType string
	var amount int64
	var matchedTo *uuid.UUID
	err := q.QueryRow(ctx, `
		SELECT id, statement_id, account, type, amount_minor, posted_date, bank_ref, description, matched, matched_to
		FROM bank_txns WHERE id = $1`, bankTxnID,
	).Scan(&t.ID, &t.StatementID, &t.Account, &txnType, &amount, &t.PostedDate, &t.BankRef, &t.Description, &t.Matched, &matchedTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return reconcile.BankTxn{}, false, nil
	}
	if err != nil {
		return reconcile.BankTxn{}, false, fmt.Errorf("reconcile: get bank txn: %w", err)
	}
	t.Type = reconcile.TxnType(txnType)
	t.AmountMinor = money.Minor(amount)
	t.MatchedTo = matchedTo
	return t, true, nil
}

func (r *Repository) ListByStatement(ctx context.Context, q postgres.Querier, statementID uuid.UUID) ([]reconcile.BankTxn, error) {
	rows, err := q.Query(ctx, `
		SELECT id, statement_id, account, type, amount_minor, posted_date, bank_ref, description, matched, matched_to
		FROM bank_txns WHERE statement_id = $1 ORDER BY posted_date`, statementID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list by statement: %w", err)
	}
	defer rows.Close()

	var out []reconcile.BankTxn
	for rows.Next() {
		var t reconcile.BankTxn
		var txnType string
		var amount int64
		var matchedTo *uuid.UUID
		if err := rows.Scan(&t.ID, &t.StatementID, &t.Account, &txnType, &amount, &t.PostedDate, &t.BankRef, &t.Description, &t.Matched, &matchedTo); err != nil {
			return nil, fmt.Errorf("reconcile: scan bank txn: %w", err)
		}
		t.Type = reconcile.TxnType(txnType)
		t.AmountMinor = money.Minor(amount)
		t.MatchedTo = matchedTo
		out = append(out, t)
	}
	return out, rows.Err()
}

// CashEventsNear loads every finalized ledger event with a cash-account
// line whose effective_date falls within ±windowDays of date, summing
// debit-credit per event (spec §4.8 "load ledger events within ±3 days on
// the account's GL cash account").
func (r *Repository) CashEventsNear(ctx context.Context, q postgres.Querier, date time.Time, windowDays int) ([]reconcile.CashEvent, error) {
	lo := date.AddDate(0, 0, -windowDays)
	hi := date.AddDate(0, 0, windowDays)

	rows, err := q.Query(ctx, `
		SELECT e.id, e.loan_id, e.effective_date, e.correlation_id,
		       COALESCE(SUM(le.debit_minor - le.credit_minor), 0) AS net_minor,
		       COALESCE(MAX(le.memo), '') AS memo
		FROM ledger_events e
		JOIN ledger_entries le ON le.event_id = e.id
		WHERE le.account = $1
		  AND e.effective_date BETWEEN $2 AND $3
		  AND e.finalized_at IS NOT NULL
		GROUP BY e.id, e.loan_id, e.effective_date, e.correlation_id`,
		string(ledger.AccountCash), lo, hi)
	if err != nil {
		return nil, fmt.Errorf("reconcile: query cash events: %w", err)
	}
	defer rows.Close()

	var out []reconcile.CashEvent
	for rows.Next() {
		var ev reconcile.CashEvent
		var netMinor int64
		if err := rows.Scan(&ev.EventID, &ev.LoanID, &ev.EffectiveDate, &ev.CorrelationID, &netMinor, &ev.Memo); err != nil {
			return nil, fmt.Errorf("reconcile: scan cash event: %w", err)
		}
		ev.NetMinor = money.Minor(netMinor)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *Repository) Upsert(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, variance money.Minor) (uuid.UUID, error) {
	id := uuid.New()
	err := q.QueryRow(ctx, `
		INSERT INTO reconciliation_exceptions (id, bank_txn_id, status, variance_minor)
		VALUES ($1, $2, 'new', $3)
		ON CONFLICT (bank_txn_id) DO UPDATE SET status = 'new', variance_minor = EXCLUDED.variance_minor, resolved_at = NULL
		RETURNING id`,
		id, bankTxnID, int64(variance),
	).Scan(&id)
	return id, err
}

func (r *Repository) Resolve(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, at time.Time) error {
	_, err := q.Exec(ctx, `UPDATE reconciliation_exceptions SET status = 'resolved', resolved_at = $2 WHERE bank_txn_id = $1`, bankTxnID, at)
	return err
}

func (r *Repository) WriteOff(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, at time.Time) error {
	_, err := q.Exec(ctx, `UPDATE reconciliation_exceptions SET status = 'written_off', resolved_at = $2 WHERE bank_txn_id = $1`, bankTxnID, at)
	return err
}

func (r *Repository) OpenFor(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID) (reconcile.Exception, bool, error) {
	var e reconcile.Exception
	var status string
	var variance int64
	err := q.QueryRow(ctx, `
		SELECT id, bank_txn_id, status, variance_minor, created_at, resolved_at
		FROM reconciliation_exceptions WHERE bank_txn_id = $1`, bankTxnID,
	).Scan(&e.ExceptionID, &e.BankTxnID, &status, &variance, &e.CreatedAt, &e.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return reconcile.Exception{}, false, nil
	}
	if err != nil {
		return reconcile.Exception{}, false, fmt.Errorf("reconcile: get exception: %w", err)
	}
	e.Status = reconcile.MatchStatus(status)
	e.VarianceMinor = money.Minor(variance)
	return e, true, nil
}

func (r *Repository) Enqueue(ctx context.Context, q postgres.Querier, row reconcile.OutboxRow) error {
	_, err := q.Exec(ctx, `
		INSERT INTO reconcile_outbox (event_id, topic, payload, created_at, next_retry_at)
		VALUES ($1, $2, $3, $4, $5)`,
		row.EventID, row.Topic, row.Payload, row.CreatedAt, row.NextRetryAt)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]reconcile.OutboxRow, error) {
	rows, err := q.Query(ctx,
		`SELECT event_id, topic, payload, created_at, attempt_count, next_retry_at, last_error
		 FROM reconcile_outbox
		 WHERE published_at IS NULL AND NOT parked AND next_retry_at <= $1
		 ORDER BY created_at
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reconcile/postgres: fetch due outbox rows: %w", err)
	}
	defer rows.Close()

	var out []reconcile.OutboxRow
	for rows.Next() {
		var row reconcile.OutboxRow
		if err := rows.Scan(&row.EventID, &row.Topic, &row.Payload, &row.CreatedAt, &row.AttemptCount, &row.NextRetryAt, &row.LastError); err != nil {
			return nil, fmt.Errorf("reconcile/postgres: scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	_, err := q.Exec(ctx, `UPDATE reconcile_outbox SET published_at = $2 WHERE event_id = $1`, eventID, at)
	if err != nil {
		return fmt.Errorf("reconcile/postgres: mark published: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error {
	_, err := q.Exec(ctx,
		`UPDATE reconcile_outbox SET attempt_count = $2, next_retry_at = $3, last_error = $4 WHERE event_id = $1`,
		eventID, attemptCount, nextRetryAt, lastErr,
	)
	if err != nil {
		return fmt.Errorf("reconcile/postgres: mark failed: %w", err)
	}
	return nil
}

func (r *Repository) Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE reconcile_outbox SET parked = true WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("reconcile/postgres: park: %w", err)
	}
	return nil
}
