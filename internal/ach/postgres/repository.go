// Package postgres implements the ACH engine's repository ports against
// PostgreSQL, in the same Querier-parameterized shape as
// internal/reconcile/postgres and internal/collections/postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bibbank/loanserve/internal/ach"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// Repository implements every ACH repository port. It carries no state;
// every method takes the postgres.Querier to operate against.
type Repository struct{}

func New() *Repository {
	return &Repository{}
}

func (r *Repository) OpenBatch(ctx context.Context, q postgres.Querier, b ach.Batch) (uuid.UUID, error) {
	id := uuid.New()
	_, err := q.Exec(ctx, `
		INSERT INTO ach_batches (id, status, company_id, company_name, odfi_routing, entry_description, effective_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, string(ach.BatchOpen), b.CompanyID, b.CompanyName, b.ODFIRouting, b.EntryDescription, b.EffectiveDate, b.CreatedAt)
	return id, err
}

func (r *Repository) GetBatch(ctx context.Context, q postgres.Querier, batchID uuid.UUID) (ach.Batch, error) {
	var b ach.Batch
	var status string
	var entryHash, debitTotal, creditTotal int64
	err := q.QueryRow(ctx, `
		SELECT id, status, company_id, company_name, odfi_routing, entry_description, effective_date,
		       entry_count, entry_hash, debit_total_minor, credit_total_minor,
		       created_at, sealed_at, filed_at, settled_at
		FROM ach_batches WHERE id = $1`, batchID,
	).Scan(&b.BatchID, &status, &b.CompanyID, &b.CompanyName, &b.ODFIRouting, &b.EntryDescription, &b.EffectiveDate,
		&b.EntryCount, &entryHash, &debitTotal, &creditTotal,
		&b.CreatedAt, &b.SealedAt, &b.FiledAt, &b.SettledAt)
	if err != nil {
		return ach.Batch{}, fmt.Errorf("ach: get batch: %w", err)
	}
	b.Status = ach.BatchStatus(status)
	b.EntryHash = entryHash
	b.DebitTotalMinor = money.Minor(debitTotal)
	b.CreditTotalMinor = money.Minor(creditTotal)
	return b, nil
}

func (r *Repository) AddEntry(ctx context.Context, q postgres.Querier, e ach.Entry) (uuid.UUID, error) {
	id := uuid.New()
	_, err := q.Exec(ctx, `
		INSERT INTO ach_entries (id, batch_id, loan_id, txn_code, rdfi_routing, account_masked, amount_minor, individual_id, sequence_no)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, e.BatchID, e.LoanID, int(e.TxnCode), e.RDFIRouting, e.AccountNumberMasked, int64(e.AmountMinor), e.IndividualID, e.SequenceNo)
	return id, err
}

func (r *Repository) ListEntries(ctx context.Context, q postgres.Querier, batchID uuid.UUID) ([]ach.Entry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, batch_id, loan_id, txn_code, rdfi_routing, account_masked, amount_minor, individual_id, trace_number, sequence_no
		FROM ach_entries WHERE batch_id = $1 ORDER BY sequence_no ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("ach: list entries: %w", err)
	}
	defer rows.Close()

	var out []ach.Entry
	for rows.Next() {
		var e ach.Entry
		var txnCode int
		var amount int64
		var trace *string
		if err := rows.Scan(&e.EntryID, &e.BatchID, &e.LoanID, &txnCode, &e.RDFIRouting, &e.AccountNumberMasked, &amount, &e.IndividualID, &trace, &e.SequenceNo); err != nil {
			return nil, fmt.Errorf("ach: scan entry: %w", err)
		}
		e.TxnCode = ach.TxnCode(txnCode)
		e.AmountMinor = money.Minor(amount)
		if trace != nil {
			e.TraceNumber = *trace
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) SealBatch(ctx context.Context, q postgres.Querier, batchID uuid.UUID, entryCount int, entryHash int64, debitTotal, creditTotal money.Minor, sealedAt time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE ach_batches
		SET status = $2, entry_count = $3, entry_hash = $4, debit_total_minor = $5, credit_total_minor = $6, sealed_at = $7
		WHERE id = $1`,
		batchID, string(ach.BatchSealed), entryCount, entryHash, int64(debitTotal), int64(creditTotal), sealedAt)
	return err
}

func (r *Repository) StampTrace(ctx context.Context, q postgres.Querier, entryID uuid.UUID, traceNumber string) error {
	_, err := q.Exec(ctx, `UPDATE ach_entries SET trace_number = $2 WHERE id = $1`, entryID, traceNumber)
	return err
}

func (r *Repository) MarkFiled(ctx context.Context, q postgres.Querier, batchID uuid.UUID, filedAt time.Time) error {
	_, err := q.Exec(ctx, `UPDATE ach_batches SET status = $2, filed_at = $3 WHERE id = $1`, batchID, string(ach.BatchFiled), filedAt)
	return err
}

func (r *Repository) MarkSettled(ctx context.Context, q postgres.Querier, batchID uuid.UUID, settledAt time.Time) error {
	_, err := q.Exec(ctx, `UPDATE ach_batches SET status = $2, settled_at = $3 WHERE id = $1`, batchID, string(ach.BatchSettled), settledAt)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, q postgres.Querier, batchID uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE ach_batches SET status = $2 WHERE id = $1`, batchID, string(ach.BatchFailed))
	return err
}

func (r *Repository) NextSequence(ctx context.Context, q postgres.Querier, batchID uuid.UUID) (int, error) {
	var next int
	err := q.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_no), 0) + 1 FROM ach_entries WHERE batch_id = $1`, batchID).Scan(&next)
	return next, err
}

func (r *Repository) GetEntryByTrace(ctx context.Context, q postgres.Querier, traceNumber string) (ach.Entry, error) {
	var e ach.Entry
	var txnCode int
	var amount int64
	err := q.QueryRow(ctx, `
		SELECT id, batch_id, loan_id, txn_code, rdfi_routing, account_masked, amount_minor, individual_id, trace_number, sequence_no
		FROM ach_entries WHERE trace_number = $1`, traceNumber,
	).Scan(&e.EntryID, &e.BatchID, &e.LoanID, &txnCode, &e.RDFIRouting, &e.AccountNumberMasked, &amount, &e.IndividualID, &e.TraceNumber, &e.SequenceNo)
	if errors.Is(err, pgx.ErrNoRows) {
		return ach.Entry{}, fmt.Errorf("ach: no entry found for trace number %s", traceNumber)
	}
	if err != nil {
		return ach.Entry{}, fmt.Errorf("ach: get entry by trace: %w", err)
	}
	e.TxnCode = ach.TxnCode(txnCode)
	e.AmountMinor = money.Minor(amount)
	return e, nil
}

// InsertReturn is idempotent on entry id via a unique index; a conflict
// means the return was already recorded and the existing row id is
// returned with created=false.
func (r *Repository) InsertReturn(ctx context.Context, q postgres.Querier, ret ach.Return) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO ach_returns (id, entry_id, code, reason, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entry_id) DO NOTHING
		RETURNING id`,
		ret.ReturnID, ret.EntryID, string(ret.Code), ret.Reason, ret.ReceivedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		var existing uuid.UUID
		if err := q.QueryRow(ctx, `SELECT id FROM ach_returns WHERE entry_id = $1`, ret.EntryID).Scan(&existing); err != nil {
			return uuid.Nil, false, fmt.Errorf("ach: load existing return: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("ach: insert return: %w", err)
	}
	return id, true, nil
}

func (r *Repository) Enqueue(ctx context.Context, q postgres.Querier, row ach.OutboxRow) error {
	_, err := q.Exec(ctx, `
		INSERT INTO ach_outbox (event_id, topic, payload, created_at, next_retry_at)
		VALUES ($1, $2, $3, $4, $5)`,
		row.EventID, row.Topic, row.Payload, row.CreatedAt, row.NextRetryAt)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]ach.OutboxRow, error) {
	rows, err := q.Query(ctx,
		`SELECT event_id, topic, payload, created_at, attempt_count, next_retry_at, last_error
		 FROM ach_outbox
		 WHERE published_at IS NULL AND NOT parked AND next_retry_at <= $1
		 ORDER BY created_at
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ach/postgres: fetch due outbox rows: %w", err)
	}
	defer rows.Close()

	var out []ach.OutboxRow
	for rows.Next() {
		var row ach.OutboxRow
		if err := rows.Scan(&row.EventID, &row.Topic, &row.Payload, &row.CreatedAt, &row.AttemptCount, &row.NextRetryAt, &row.LastError); err != nil {
			return nil, fmt.Errorf("ach/postgres: scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	_, err := q.Exec(ctx, `UPDATE ach_outbox SET published_at = $2 WHERE event_id = $1`, eventID, at)
	if err != nil {
		return fmt.Errorf("ach/postgres: mark published: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error {
	_, err := q.Exec(ctx,
		`UPDATE ach_outbox SET attempt_count = $2, next_retry_at = $3, last_error = $4 WHERE event_id = $1`,
		eventID, attemptCount, nextRetryAt, lastErr,
	)
	if err != nil {
		return fmt.Errorf("ach/postgres: mark failed: %w", err)
	}
	return nil
}

func (r *Repository) Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE ach_outbox SET parked = true WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("ach/postgres: park: %w", err)
	}
	return nil
}
